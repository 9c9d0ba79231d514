package rtsched_internal

import (
	"encoding/json"
	"testing"
	"time"

	rtsched_testutils "github.com/bgp59/realtimesched/testutils"
)

func newTestScheduler(t *testing.T, clock Clock) *Scheduler {
	tlc := rtsched_testutils.NewTestLogCollect(t, GetRootLogger(), nil)
	t.Cleanup(tlc.RestoreLog)
	return NewScheduler(t.Name(), clock, NewCompLogger("test"), nil)
}

// recordingCallback returns a TaskFunc that records each invocation time and
// advances the mock clock by runtime, simulating work that takes a fixed
// amount of wall-clock time.
func recordingCallback(clk *MockClock, runtime time.Duration, calls *[]time.Time) TaskFunc {
	return func(_ *Task) TaskStatus {
		*calls = append(*calls, clk.Now())
		clk.Advance(runtime)
		return TaskOK
	}
}

func TestStep_IdleOnlyWhenNoPeriodic(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	var calls []time.Time
	idleH, err := s.AddIdleTask("idle", recordingCallback(clk, time.Microsecond, &calls))
	if err != nil {
		t.Fatalf("AddIdleTask: %v", err)
	}
	if !idleH.h.Valid() {
		t.Fatalf("expected a valid idle handle")
	}

	s.Step()
	s.Step()

	if len(calls) != 2 {
		t.Fatalf("expected 2 idle invocations with no periodic tasks, got %d", len(calls))
	}
}

func TestStep_PeriodicBeforeIdle(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	var periodicCalls, idleCalls []time.Time
	// Runtime 0 keeps the periodic task's own deadline math simple: it
	// occupies no slack itself.
	ph, err := s.AddPeriodic("p", SoftRealtime, 10*time.Millisecond, recordingCallback(clk, 0, &periodicCalls))
	if err != nil {
		t.Fatalf("AddPeriodic: %v", err)
	}
	s.EnablePeriodic(ph)

	if _, err := s.AddIdleTask("idle", recordingCallback(clk, 2*time.Millisecond, &idleCalls)); err != nil {
		t.Fatalf("AddIdleTask: %v", err)
	}

	// The first Step dispatches the periodic task immediately (it starts
	// with zero time left on construction, so there is no slack to fill
	// yet); the second Step, with a real 10ms deadline ahead of it, has
	// slack for the idle task to fill first.
	s.Step()
	s.Step()

	if len(periodicCalls) != 2 {
		t.Fatalf("expected periodic task to run twice, got %d calls", len(periodicCalls))
	}
	if len(idleCalls) == 0 {
		t.Fatalf("expected idle task to run during the second step's slack window")
	}
	if periodicCalls[1].Before(idleCalls[len(idleCalls)-1]) {
		t.Fatalf("expected idle dispatch to precede periodic dispatch within the same step")
	}
}

func TestStep_HardRealtimeDispatchesInDeadlineOrder(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	var order []string
	mk := func(name string) TaskFunc {
		return func(_ *Task) TaskStatus {
			order = append(order, name)
			return TaskOK
		}
	}

	pSlow, _ := s.AddPeriodic("slow", HardRealtime, 20*time.Millisecond, mk("slow"))
	pFast, _ := s.AddPeriodic("fast", HardRealtime, 5*time.Millisecond, mk("fast"))
	s.EnablePeriodic(pSlow)
	s.EnablePeriodic(pFast)

	// Prime deadlines and a runtime estimate directly so the cohort overlaps
	// deterministically, instead of relying on the two tasks' initial
	// zero-deadline tie (whose cohort membership and dispatch order are
	// unspecified).
	t0 := clk.Now()
	taskSlow, _ := s.periodic.Get(pSlow.h)
	taskFast, _ := s.periodic.Get(pFast.h)
	taskSlow.deadline = t0.Add(10 * time.Millisecond)
	taskFast.deadline = t0.Add(8 * time.Millisecond)
	taskFast.maxTimeNs = int64(3 * time.Millisecond)
	clk.SetAutoAdvance(50 * time.Microsecond)

	s.Step()

	if len(order) != 2 {
		t.Fatalf("expected both cohort members to dispatch, got %v", order)
	}
	if order[0] != "fast" || order[1] != "slow" {
		t.Fatalf("expected ascending-deadline dispatch order [fast slow], got %v", order)
	}
}

func TestStep_HardBeforeSoftWithinCohort(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	var order []string
	mk := func(name string) TaskFunc {
		return func(_ *Task) TaskStatus {
			order = append(order, name)
			return TaskOK
		}
	}

	pHard, _ := s.AddPeriodic("hard", HardRealtime, 5*time.Millisecond, mk("hard"))
	pSoft, _ := s.AddPeriodic("soft", SoftRealtime, 5*time.Millisecond, mk("soft"))
	s.EnablePeriodic(pHard)
	s.EnablePeriodic(pSoft)

	// Prime identical deadlines so both fall in one cohort deterministically.
	t0 := clk.Now()
	taskHard, _ := s.periodic.Get(pHard.h)
	taskSoft, _ := s.periodic.Get(pSoft.h)
	taskHard.deadline = t0.Add(5 * time.Millisecond)
	taskSoft.deadline = t0.Add(5 * time.Millisecond)
	clk.SetAutoAdvance(50 * time.Microsecond)

	s.Step()

	if len(order) != 2 || order[0] != "hard" || order[1] != "soft" {
		t.Fatalf("expected hard before soft within the cohort, got %v", order)
	}
}

func TestStep_DisabledPeriodicSkipped(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	var calls []time.Time
	ph, _ := s.AddPeriodic("p", SoftRealtime, time.Millisecond, recordingCallback(clk, 0, &calls))
	// left disabled deliberately

	s.Step()

	if len(calls) != 0 {
		t.Fatalf("expected disabled periodic task not to run, got %d calls", len(calls))
	}
	s.EnablePeriodic(ph)
	s.Step()
	if len(calls) != 1 {
		t.Fatalf("expected enabled periodic task to run once, got %d calls", len(calls))
	}
}

func TestScheduler_WarmupAndOverrunDamping(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	var calls int
	longRun := 600 * time.Microsecond // exceeds MaxAllowedTaskTime (500us)
	ph, _ := s.AddPeriodic("p", SoftRealtime, time.Millisecond, func(_ *Task) TaskStatus {
		calls++
		clk.Advance(longRun)
		return TaskOK
	})
	s.EnablePeriodic(ph)

	for i := 0; i < WarmupCount+1; i++ {
		s.Step()
	}

	task, ok := s.periodic.Get(ph.h)
	if !ok {
		t.Fatalf("task not found")
	}
	if task.numCalls != uint64(WarmupCount+1) {
		t.Fatalf("expected %d calls, got %d", WarmupCount+1, task.numCalls)
	}
	// All samples so far are within the warmup window (NumCalls <= WarmupCount
	// during the first WarmupCount calls); the last call is post-warmup and
	// overran, so it must have been damped, not admitted into MaxTimeNs.
	if task.maxTimeNs != 0 {
		t.Fatalf("expected damped overrun sample to be excluded from MaxTimeNs, got %d", task.maxTimeNs)
	}
	if task.warmupMaxTimeNs == 0 {
		t.Fatalf("expected warmup max to be recorded")
	}
}

func TestScheduler_RemovePeriodicVacatesSlot(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	ph, _ := s.AddPeriodic("p", SoftRealtime, time.Millisecond, func(_ *Task) TaskStatus { return TaskOK })
	if !s.RemovePeriodic(ph) {
		t.Fatalf("expected RemovePeriodic to succeed")
	}
	if s.RemovePeriodic(ph) {
		t.Fatalf("expected second RemovePeriodic on the same handle to fail")
	}

	// The vacated slot must be reusable without growing the table.
	ph2, err := s.AddPeriodic("q", SoftRealtime, time.Millisecond, func(_ *Task) TaskStatus { return TaskOK })
	if err != nil {
		t.Fatalf("AddPeriodic after Remove: %v", err)
	}
	if ph2.h == ph.h {
		t.Fatalf("expected a fresh generation, got identical handle %+v", ph2.h)
	}
}

func TestScheduler_StatusJSONZeroCallGuard(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	if _, err := s.AddIdleTask("never-run", func(_ *Task) TaskStatus { return TaskOK }); err != nil {
		t.Fatalf("AddIdleTask: %v", err)
	}

	raw, err := s.StatusJSON()
	if err != nil {
		t.Fatalf("StatusJSON: %v", err)
	}
	var doc schedulerStatusJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal status JSON: %v", err)
	}
	if len(doc.Tasks) != 1 {
		t.Fatalf("expected 1 task in status, got %d", len(doc.Tasks))
	}
	if doc.Tasks[0].Avg != 0 {
		t.Fatalf("expected avg=0 for a never-called task, got %v", doc.Tasks[0].Avg)
	}
}

func TestScheduler_RunStopsOnMaxRuntime(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	var calls int
	ph, _ := s.AddPeriodic("p", SoftRealtime, time.Millisecond, func(_ *Task) TaskStatus {
		calls++
		clk.Advance(time.Millisecond)
		return TaskOK
	})
	s.EnablePeriodic(ph)

	s.Run(5 * time.Millisecond)

	if calls == 0 {
		t.Fatalf("expected at least one dispatch before the run budget elapsed")
	}
}

func TestScheduler_StopTakesEffectAtNextIteration(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	var calls int
	ph, _ := s.AddPeriodic("p", SoftRealtime, time.Microsecond, func(_ *Task) TaskStatus {
		calls++
		if calls == 3 {
			s.Stop()
		}
		clk.Advance(time.Microsecond)
		return TaskOK
	})
	s.EnablePeriodic(ph)

	s.Run(0)

	if calls != 3 {
		t.Fatalf("expected Run to stop right after the call that invoked Stop, got %d calls", calls)
	}
}

func TestScheduler_WorkQueueLikeYieldDoesNotCountAsOK(t *testing.T) {
	clk := NewMockClock()
	s := newTestScheduler(t, clk)

	ph, _ := s.AddPeriodic("p", SoftRealtime, time.Millisecond, func(_ *Task) TaskStatus {
		return TaskYield
	})
	s.EnablePeriodic(ph)

	s.Step()

	task, _ := s.periodic.Get(ph.h)
	if task.numCalls != 1 {
		t.Fatalf("expected NumCalls=1, got %d", task.numCalls)
	}
	if task.numOKCalls != 0 {
		t.Fatalf("expected NumOKCalls=0 after a yield, got %d", task.numOKCalls)
	}
}
