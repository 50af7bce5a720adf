package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"recrawler/internal/eventbus"
	logx "recrawler/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestEnqueueRunsTask(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 4})

	done := make(chan struct{})
	err := s.Enqueue(Task{Name: "cycle", Run: func(ctx context.Context) error {
		close(done)
		return nil
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestOverlapSkipWhileRunning(t *testing.T) {
	s := startEngine(t, Config{Workers: 2, QueueSize: 4})

	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{Name: "cycle", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-started
	if !s.StateFor("cycle").Busy() {
		t.Fatal("expected state to be busy while running")
	}
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("expected ErrOverlapSkip, got %v", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for s.StateFor("cycle").Busy() {
		if time.Now().After(deadline) {
			t.Fatal("state never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueDisabledAndStopped(t *testing.T) {
	s := New(Config{Enabled: false}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	s = New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := s.Enqueue(Task{Name: "", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestPanicRecordedInHistory(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	if err := s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("bad") }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		h := s.Snapshot().History
		if len(h) == 1 {
			if h[0].Error == "" {
				t.Fatal("expected panic error in history")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("history never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
