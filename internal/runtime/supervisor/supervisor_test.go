package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || err.Error() != "fails: boom" {
		t.Fatalf("expected first error, got %v", err)
	}
	if s.Context().Err() == nil {
		t.Fatal("expected supervisor context to be canceled")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go0("panics", func(ctx context.Context) { panic("bad") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || err.Error() != "panics: panic: bad" {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
	if s.Context().Err() != nil {
		t.Fatal("context must stay live without cancel-on-error")
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("loop", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, time.Hour, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("loop never ran")
		}
		time.Sleep(time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestBackoffDoublesToCap(t *testing.T) {
	b := newBackoff(10*time.Millisecond, 25*time.Millisecond)
	for i, base := range []time.Duration{10, 20, 25, 25} {
		base *= time.Millisecond
		if d := b.next(); d < base || d > base+base/5 {
			t.Fatalf("step %d: delay %v outside [%v, %v]", i, d, base, base+base/5)
		}
	}
	b.reset()
	if d := b.next(); d > 12*time.Millisecond {
		t.Fatalf("after reset delay = %v", d)
	}
}

func TestGoRestartRetriesUntilNil(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("expected 3 runs, got %d", got)
	}
}
