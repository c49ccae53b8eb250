package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterValidation(t *testing.T) {
	s := New("UTC")

	if err := s.Register(&Task{ID: "", Handler: func(ctx context.Context) error { return nil }}); err == nil {
		t.Error("expected error for missing ID")
	}
	if err := s.Register(&Task{ID: "no-handler"}); err == nil {
		t.Error("expected error for missing handler")
	}
}

func TestIntervalTaskRuns(t *testing.T) {
	s := New("UTC")

	var runs atomic.Int32
	task := IntervalTask("ticker", "test ticker", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Register(task); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("task ran %d times, want >= 2", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunNow(t *testing.T) {
	s := New("UTC")

	var runs atomic.Int32
	task := IntervalTask("slow", "long interval", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Register(task); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.RunNow("slow"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("RunNow never executed the task")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestErrorTracking(t *testing.T) {
	s := New("UTC")

	task := IntervalTask("failing", "always fails", time.Hour, func(ctx context.Context) error {
		return errors.New("boom")
	})
	if err := s.Register(task); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.RunNow("failing"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, _ := s.GetTask("failing")
		if got != nil && atomicLoadErrors(s, "failing") > 0 {
			if got.LastError != "boom" {
				t.Errorf("LastError = %q, want boom", got.LastError)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("error never recorded")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func atomicLoadErrors(s *Scheduler, id string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return 0
	}
	return task.ErrorCount
}

func TestStopIsIdempotent(t *testing.T) {
	s := New("UTC")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()

	// Restartable after a stop.
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.Stop()
}

func TestDailyNextRunInFuture(t *testing.T) {
	s := New("UTC")
	next := s.calculateNextRun(Schedule{Type: ScheduleDaily, At: "08:00"})
	if !next.After(time.Now().Add(-time.Minute)) {
		t.Errorf("next run %v is in the past", next)
	}
	if next.Hour() != 8 || next.Minute() != 0 {
		t.Errorf("next run %v, want 08:00", next)
	}
}
