package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduleAfterRunsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner()
	r.Start(ctx)

	var calls atomic.Int32
	if err := r.ScheduleAfter(50*time.Millisecond, "test", func() { calls.Add(1) }); err != nil {
		t.Fatalf("ScheduleAfter() failed: %v", err)
	}

	waitFor(t, func() bool { return calls.Load() == 1 })
	waitFor(t, func() bool { return r.Pending() == 0 })

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 run, got %d", got)
	}
}

func TestScheduleAfterRejectsNonPositiveDelay(t *testing.T) {
	r := NewRunner()

	if err := r.ScheduleAfter(0, "test", func() {}); err == nil {
		t.Fatal("expected an error for a zero delay")
	}
	if r.Pending() != 0 {
		t.Error("nothing must be scheduled")
	}
}

func TestPanickingJobIsRecovered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner()
	r.Start(ctx)

	var after atomic.Bool
	_ = r.ScheduleAfter(20*time.Millisecond, "panics", func() { panic("boom") })
	_ = r.ScheduleAfter(60*time.Millisecond, "after", func() { after.Store(true) })

	waitFor(t, after.Load)
}

func TestEvery(t *testing.T) {
	r := NewRunner()

	if err := r.Every("@daily", "prune", func() {}); err != nil {
		t.Fatalf("Every() failed: %v", err)
	}
	if r.Pending() != 1 {
		t.Errorf("expected 1 entry, got %d", r.Pending())
	}

	if err := r.Every("not a schedule", "prune", func() {}); err == nil {
		t.Error("expected an error for an invalid schedule")
	}
}

func TestOnceSchedule(t *testing.T) {
	at := time.Now().Add(time.Minute)
	s := &onceSchedule{at: at}

	if got := s.Next(time.Now()); !got.Equal(at) {
		t.Errorf("expected %v, got %v", at, got)
	}
	if got := s.Next(at); !got.IsZero() {
		t.Errorf("expected zero time after firing, got %v", got)
	}
}
