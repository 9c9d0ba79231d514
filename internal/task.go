// Task record: per-task scheduling state and timing statistics.

package rtsched_internal

import (
	"time"
)

const (
	// The first WarmupCount calls have their timing tracked separately from
	// steady-state statistics.
	WarmupCount = 5

	// A single invocation taking longer than this is considered pathological:
	// its sample is damped before being folded into the stats so that it
	// cannot permanently starve the task of further scheduling.
	MaxAllowedTaskTime = 500 * time.Microsecond

	// Divisor applied to an over-long sample before it is added to
	// TotalTimeUs.
	overrunDampingFactor = 20
)

// TaskKind distinguishes hard-realtime periodics (which busy-wait to their
// exact deadline) from soft-realtime ones (best-effort, no busy-wait).
// Idle tasks are always soft by construction.
type TaskKind int

const (
	SoftRealtime TaskKind = iota
	HardRealtime
)

func (k TaskKind) String() string {
	if k == HardRealtime {
		return "hard-realtime"
	}
	return "soft-realtime"
}

// TaskStatus is returned by a task callback to tell the scheduler whether a
// useful unit of work was completed (TaskOK) or whether the task voluntarily
// gave up this invocation without doing anything (TaskYield).
type TaskStatus int

const (
	TaskOK TaskStatus = iota
	TaskYield
)

// TaskFunc is a task's callback. It receives a reference to its own record so
// it can, for instance, Disable() itself (used by the one-shot work-queue
// facade in workqueue.go).
type TaskFunc func(*Task) TaskStatus

// Task holds everything the scheduler needs to decide whether, and in what
// order, to dispatch a unit of periodic or idle work, plus the running
// statistics used both by the status reporter and by overlapsWith.
//
// A Task is only ever read or mutated from its owning scheduler's goroutine;
// see the package doc for the single-owner-thread contract.
type Task struct {
	kind     TaskKind
	name     string
	periodic bool // false for idle tasks

	period   time.Duration
	callback TaskFunc
	enabled  bool

	// deadline is the absolute instant at which this task is next due.
	deadline time.Time

	// snapshotDeadline captures deadline at cohort-selection time for
	// periodic tasks that join a Step's cohort; it keeps that value for the
	// rest of the Step even as deadline moves. It has no meaning for idle
	// tasks.
	snapshotDeadline time.Time

	numCalls        uint64
	numOKCalls      uint64
	totalTimeUs     uint64
	maxTimeNs       int64
	warmupMaxTimeNs int64
}

// newTask constructs a task record. Periodic tasks start disabled (the
// caller must Enable() them once dependent state, if any, is ready); idle
// tasks start enabled. Both start with a zero deadline, so the task is
// immediately eligible for dispatch the first time the scheduler looks at it.
func newTask(kind TaskKind, name string, period time.Duration, cb TaskFunc, periodic bool) *Task {
	return &Task{
		kind:     kind,
		name:     name,
		periodic: periodic,
		period:   period,
		callback: cb,
		enabled:  !periodic,
	}
}

func (t *Task) Name() string     { return t.name }
func (t *Task) Kind() TaskKind   { return t.kind }
func (t *Task) IsEnabled() bool  { return t.enabled }
func (t *Task) Enable()          { t.enabled = true }
func (t *Task) Disable()         { t.enabled = false }
func (t *Task) Period() time.Duration { return t.period }

// SetPeriod changes the task's period; it takes effect the next time the
// deadline is reset by runElapsed, not retroactively.
func (t *Task) SetPeriod(period time.Duration) { t.period = period }

// timeLeftUntilDeadline is deadline - now; it is negative once the deadline
// has elapsed.
func (t *Task) timeLeftUntilDeadline(clk Clock) time.Duration {
	return t.deadline.Sub(clk.Now())
}

func (t *Task) haveTimeLeftBeforeDeadline(clk Clock) bool {
	return t.timeLeftUntilDeadline(clk) > 0
}

// effectiveMaxTimeNs returns the best available estimate of this task's
// runtime for the purpose of overlap/slack computations. Before any
// post-warmup sample exists, maxTimeNs is still zero, which would make
// overlapsWith systematically under-report; fall back to the warmup max in
// that case.
func (t *Task) effectiveMaxTimeNs() int64 {
	if t.maxTimeNs > 0 {
		return t.maxTimeNs
	}
	return t.warmupMaxTimeNs
}

// overlapsWith returns true iff other's deadline falls inside this task's
// projected execution window: [self.timeLeft, self.timeLeft+self.maxTime].
// It is intentionally asymmetric; the cohort test in the scheduler applies it
// in both directions.
func (t *Task) overlapsWith(other *Task, clk Clock) bool {
	now := clk.Now()
	selfLeft := t.deadline.Sub(now)
	otherLeft := other.deadline.Sub(now)
	window := selfLeft + time.Duration(t.effectiveMaxTimeNs())
	return otherLeft >= selfLeft && otherLeft <= window
}

// waitForDeadline busy-waits until the deadline elapses. It must only be
// called for hard-realtime tasks: soft tasks never busy-wait, they simply
// dispatch once slack has run out.
func (t *Task) waitForDeadline(clk Clock, log taskLogger) {
	if t.kind != HardRealtime {
		log.Errorf("task %s: waitForDeadline called on a non-hard-realtime task", t.name)
	}
	for t.haveTimeLeftBeforeDeadline(clk) {
		// Pure spin: a volatile clock poll, no sleep. The precision
		// requirement here is sub-microsecond, which time.Sleep cannot meet.
	}
}

// runElapsed resets the deadline to now+period and runs the callback. For
// hard-realtime tasks the deadline must already have elapsed (enforced by
// the caller via waitForDeadline); a violation is logged rather than
// panicking, since a logged anomaly is strictly more useful than crashing the
// realtime loop over a statistics technicality.
func (t *Task) runElapsed(clk Clock, log taskLogger) {
	if t.kind == HardRealtime && t.haveTimeLeftBeforeDeadline(clk) {
		log.Errorf("task %s: runElapsed called before deadline elapsed", t.name)
	}
	t.deadline = clk.Now().Add(t.period)
	t.run(clk, log)
}

// run measures the wall-clock duration of one callback invocation and
// updates the warmup/overrun-damped statistics.
func (t *Task) run(clk Clock, log taskLogger) {
	t.numCalls++
	start := clk.Now()
	status := TaskOK
	if t.callback != nil {
		status = t.callback(t)
	}
	end := clk.Now()
	if end.Before(start) {
		log.Errorf("task %s: clock went backwards during run (start=%s, end=%s), sample discarded", t.name, start, end)
		return
	}
	took := end.Sub(start)
	overran := took > MaxAllowedTaskTime

	if overran {
		log.Errorf(
			"task %s: overran: took=%s, avg=%s, calls=%d, ok=%d",
			t.name, took, t.averageTimeTaken(), t.numCalls, t.numOKCalls,
		)
		took = took / overrunDampingFactor
	}
	t.totalTimeUs += uint64(took.Microseconds())

	if status == TaskYield {
		return
	}
	t.numOKCalls++

	if t.numCalls <= WarmupCount {
		if tookNs := took.Nanoseconds(); tookNs > t.warmupMaxTimeNs {
			t.warmupMaxTimeNs = tookNs
		}
		return
	}

	if overran {
		// Damped overrun samples never enter the steady-state max; that
		// would defeat the point of damping it in the first place.
		return
	}
	if tookNs := took.Nanoseconds(); tookNs > t.maxTimeNs {
		t.maxTimeNs = tookNs
	}
}

// averageTimeTaken is TotalTimeUs / NumCalls, guarded against division by
// zero for a task that has never been dispatched.
func (t *Task) averageTimeTaken() time.Duration {
	if t.numCalls == 0 {
		return 0
	}
	return time.Duration(float64(t.totalTimeUs)/float64(t.numCalls)) * time.Microsecond
}

// TaskStats is a point-in-time, allocation-free-to-read snapshot of a task's
// counters, used by both the JSON status reporter and the internal-metrics
// delta generator.
type TaskStats struct {
	Name            string
	Kind            TaskKind
	NumCalls        uint64
	NumOKCalls      uint64
	TotalTimeUs     uint64
	MaxTimeNs       int64
	WarmupMaxTimeNs int64
}

func (t *Task) stats() TaskStats {
	return TaskStats{
		Name:            t.name,
		Kind:            t.kind,
		NumCalls:        t.numCalls,
		NumOKCalls:      t.numOKCalls,
		TotalTimeUs:     t.totalTimeUs,
		MaxTimeNs:       t.maxTimeNs,
		WarmupMaxTimeNs: t.warmupMaxTimeNs,
	}
}

// taskLogger is the minimal logging surface task.go depends on, satisfied by
// *logrus.Entry in production and by a stub in tests that don't care about
// log output.
type taskLogger interface {
	Errorf(format string, args ...any)
}
