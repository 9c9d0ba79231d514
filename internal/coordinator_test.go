package rtsched_internal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMultiCoreCoordinator_RunsEachCoreSchedule(t *testing.T) {
	var coreCalls [2]int64

	cfg := DefaultCoordinatorConfig()
	cfg.NumCores = 2

	coord, err := NewMultiCoreCoordinator(cfg, NewRealClock(), NewCompLogger("test"), func(i int, s *Scheduler) error {
		ph, err := s.AddPeriodic("p", SoftRealtime, time.Millisecond, func(_ *Task) TaskStatus {
			atomic.AddInt64(&coreCalls[i], 1)
			return TaskOK
		})
		if err != nil {
			return err
		}
		s.EnablePeriodic(ph)
		return nil
	})
	if err != nil {
		t.Fatalf("NewMultiCoreCoordinator: %v", err)
	}

	if len(coord.Schedulers()) != 2 {
		t.Fatalf("expected 2 schedulers, got %d", len(coord.Schedulers()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		coord.Run(ctx, 0)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	coord.Stop()
	<-done

	if atomic.LoadInt64(&coreCalls[0]) == 0 {
		t.Fatalf("expected core 0's schedule to have run")
	}
	if atomic.LoadInt64(&coreCalls[1]) == 0 {
		t.Fatalf("expected core 1's schedule to have run")
	}
}

func TestMultiCoreCoordinator_StatusJSONCombinesCores(t *testing.T) {
	cfg := DefaultCoordinatorConfig()
	cfg.NumCores = 2

	coord, err := NewMultiCoreCoordinator(cfg, NewRealClock(), NewCompLogger("test"), func(i int, s *Scheduler) error {
		_, err := s.AddIdleTask("idle", func(_ *Task) TaskStatus { return TaskOK })
		return err
	})
	if err != nil {
		t.Fatalf("NewMultiCoreCoordinator: %v", err)
	}

	raw, err := coord.StatusJSON()
	if err != nil {
		t.Fatalf("StatusJSON: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty status JSON")
	}
}

func TestMultiCoreCoordinator_RejectsZeroCores(t *testing.T) {
	cfg := DefaultCoordinatorConfig()
	cfg.NumCores = 0
	if _, err := NewMultiCoreCoordinator(cfg, NewRealClock(), NewCompLogger("test"), nil); err == nil {
		t.Fatalf("expected an error for NumCores=0")
	}
}
