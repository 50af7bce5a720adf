package scheduler

import (
	"context"
	"sync"
	"testing"

	"recrawler/internal/task/engine"
	logx "recrawler/pkg/logx"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
}

func (r *recordingEnqueuer) Enqueue(t engine.Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	return nil
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	s := New(Config{Enabled: true}, &recordingEnqueuer{}, logx.Nop())
	job := func(context.Context) error { return nil }

	if _, err := s.AddSchedule("recrawl", "@every 1m", 0, job); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if _, err := s.AddSchedule("recrawl", "5m", 0, job); err != nil {
		t.Fatalf("AddSchedule again: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(snap.Schedules))
	}
	if snap.Schedules[0].Spec != "@every 5m0s" {
		t.Fatalf("spec = %q, want @every 5m0s", snap.Schedules[0].Spec)
	}
}

func TestAddScheduleRejectsBadInput(t *testing.T) {
	s := New(Config{Enabled: true}, &recordingEnqueuer{}, logx.Nop())
	job := func(context.Context) error { return nil }
	if _, err := s.AddSchedule("", "1m", 0, job); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := s.AddSchedule("x", "61 * * * *", 0, job); err == nil {
		t.Fatal("expected error for invalid cron field")
	}
	if _, err := s.AddSchedule("x", "1m", 0, nil); err == nil {
		t.Fatal("expected error for nil job")
	}
}

func TestStartStopKeepsDefinitions(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "UTC"}, &recordingEnqueuer{}, logx.Nop())
	if _, err := s.AddSchedule("recrawl", "@every 1m", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())
	snap := s.Snapshot()
	if snap.Timezone != "UTC" || len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("unexpected running snapshot: %+v", snap)
	}
	s.Stop(context.Background())
	if got := len(s.Snapshot().Schedules); got != 1 {
		t.Fatalf("schedules after stop = %d, want 1", got)
	}
	if !s.Remove("recrawl") || s.Remove("recrawl") {
		t.Fatal("Remove should succeed once")
	}
}
