// Single-core cooperative real-time scheduler.
//
// A Scheduler owns a fixed-capacity set of periodic and idle tasks and
// dispatches them from a single goroutine via repeated calls to Step.
// AddPeriodic/AddIdleTask are the only operations that can grow the
// underlying slot tables, and both are meant to be called during setup,
// before Run is entered. Step itself is not allocation-free: each call builds
// small slices for the cohort and its hard/soft partitions.

package rtsched_internal

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Capacity of the periodic-task slot table, matching the original
	// implementation's fixed sizing.
	MaxPeriodicTasks = 64

	// Capacity of the idle-task slot table.
	MaxIdleTasks = 16

	// A warning is logged every this many slack-filling misses. The miss
	// count is cumulative over the scheduler's lifetime; it is not reset when
	// an idle task does run.
	missedIdleWarnEvery = 100
)

// SchedulerConfig controls slot-table sizing. Zero values fall back to the
// package defaults via DefaultSchedulerConfig.
type SchedulerConfig struct {
	MaxPeriodicTasks int `yaml:"max_periodic_tasks"`
	MaxIdleTasks     int `yaml:"max_idle_tasks"`
}

// DefaultSchedulerConfig returns the out-of-the-box slot-table sizing.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxPeriodicTasks: MaxPeriodicTasks,
		MaxIdleTasks:     MaxIdleTasks,
	}
}

// PeriodicHandle references a periodic task owned by a Scheduler. It is
// distinct from IdleHandle so the two slot tables can never be confused at
// the call site.
type PeriodicHandle struct{ h Handle }

// IdleHandle references an idle task owned by a Scheduler.
type IdleHandle struct{ h Handle }

// Scheduler is the single-core scheduling core. It must be driven from one
// goroutine (via Run or repeated direct Step calls); see the package doc for
// the single-owner-thread contract. Only AddPeriodic, AddIdleTask,
// RemovePeriodic and the status/stats snapshot methods take the internal
// mutex, and only to protect the slot tables' structural bookkeeping — Step
// itself never blocks on it.
type Scheduler struct {
	name  string
	clock Clock
	log   *logrus.Entry

	mu       sync.Mutex
	periodic *SlotTable[*Task]
	idle     *SlotTable[*Task]

	missedIdleSteps uint64
	stopFlag        atomic.Bool
}

// NewScheduler constructs a scheduler bound to clock for timekeeping and log
// for diagnostics. name identifies it in the status JSON and in log fields.
func NewScheduler(name string, clock Clock, log *logrus.Entry, cfg *SchedulerConfig) *Scheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	if log == nil {
		log = NewCompLogger("scheduler")
	}
	maxPeriodic, maxIdle := cfg.MaxPeriodicTasks, cfg.MaxIdleTasks
	if maxPeriodic <= 0 {
		maxPeriodic = MaxPeriodicTasks
	}
	if maxIdle <= 0 {
		maxIdle = MaxIdleTasks
	}
	return &Scheduler{
		name:     name,
		clock:    clock,
		log:      log.WithField("scheduler", name),
		periodic: NewSlotTable[*Task](maxPeriodic),
		idle:     NewSlotTable[*Task](maxIdle),
	}
}

// AddPeriodic registers a new periodic task, starting disabled. The caller
// must Enable it once ready to begin dispatch.
func (s *Scheduler) AddPeriodic(name string, kind TaskKind, period time.Duration, cb TaskFunc) (PeriodicHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.periodic.Insert(newTask(kind, name, period, cb, true))
	if err != nil {
		s.log.Errorf("add periodic task %s: %v", name, err)
		return PeriodicHandle{}, err
	}
	return PeriodicHandle{h: h}, nil
}

// AddIdleTask registers a new idle task, starting enabled.
func (s *Scheduler) AddIdleTask(name string, cb TaskFunc) (IdleHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.idle.Insert(newTask(SoftRealtime, name, 0, cb, false))
	if err != nil {
		s.log.Errorf("add idle task %s: %v", name, err)
		return IdleHandle{}, err
	}
	return IdleHandle{h: h}, nil
}

// RemovePeriodic vacates a periodic task's slot. Idle tasks cannot be
// removed, only disabled, matching the original design.
func (s *Scheduler) RemovePeriodic(h PeriodicHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.periodic.Remove(h.h)
}

// EnablePeriodic/DisablePeriodic/EnableIdle/DisableIdle must only be called
// from the goroutine driving Step/Run: the enable flag is read without
// synchronization in the hot path.
func (s *Scheduler) EnablePeriodic(h PeriodicHandle) bool {
	return s.withTask(s.periodic, h.h, (*Task).Enable)
}

func (s *Scheduler) DisablePeriodic(h PeriodicHandle) bool {
	return s.withTask(s.periodic, h.h, (*Task).Disable)
}

func (s *Scheduler) EnableIdle(h IdleHandle) bool {
	return s.withTask(s.idle, h.h, (*Task).Enable)
}

func (s *Scheduler) DisableIdle(h IdleHandle) bool {
	return s.withTask(s.idle, h.h, (*Task).Disable)
}

func (s *Scheduler) withTask(table *SlotTable[*Task], h Handle, fn func(*Task)) bool {
	task, ok := table.Get(h)
	if !ok {
		return false
	}
	fn(task)
	return true
}

// SetPeriod changes a periodic task's period.
func (s *Scheduler) SetPeriod(h PeriodicHandle, period time.Duration) bool {
	task, ok := s.periodic.Get(h.h)
	if !ok {
		return false
	}
	task.SetPeriod(period)
	return true
}

// Step executes one iteration of the dispatch policy: pick the
// earliest-deadline periodic, compute its overlap cohort, fill the slack
// before its deadline with idle work, then dispatch the cohort's
// hard-realtime members (busy-waiting to their deadlines) followed by its
// soft-realtime members. If no periodic task is enabled, every enabled idle
// task runs once instead.
func (s *Scheduler) Step() {
	next, nextLeft := s.pickNextPeriodic()
	if next == nil {
		s.idle.Each(func(_ Handle, tp **Task) {
			task := *tp
			if task.enabled {
				task.run(s.clock, s.log)
			}
		})
		return
	}

	cohort := s.computeCohort(next)
	s.fillSlack(next, nextLeft)
	s.dispatchCohort(cohort)
}

func (s *Scheduler) pickNextPeriodic() (*Task, time.Duration) {
	var next *Task
	var nextLeft time.Duration
	s.periodic.Each(func(_ Handle, tp **Task) {
		task := *tp
		if !task.enabled {
			return
		}
		left := task.timeLeftUntilDeadline(s.clock)
		if next == nil || left < nextLeft {
			next = task
			nextLeft = left
		}
	})
	return next, nextLeft
}

// computeCohort gathers next and every other enabled periodic task whose
// projected run window overlaps next's deadline, in either direction.
// Membership is frozen here, before any dispatch in this Step mutates
// deadlines.
func (s *Scheduler) computeCohort(next *Task) []*Task {
	cohort := []*Task{next}
	next.snapshotDeadline = next.deadline
	s.periodic.Each(func(_ Handle, tp **Task) {
		task := *tp
		if task == next || !task.enabled {
			return
		}
		if task.overlapsWith(next, s.clock) || next.overlapsWith(task, s.clock) {
			task.snapshotDeadline = task.deadline
			cohort = append(cohort, task)
		}
	})
	return cohort
}

// fillSlack runs enabled idle tasks whose effective max runtime fits inside
// next's remaining slack, repeating passes over the idle list until a full
// pass makes no progress or the slack is exhausted. If the idle list is
// non-empty but no idle task ever fit, it counts as a miss.
func (s *Scheduler) fillSlack(next *Task, _ time.Duration) {
	ranAny := false
	for next.haveTimeLeftBeforeDeadline(s.clock) {
		ranThisPass := false
		s.idle.Each(func(_ Handle, tp **Task) {
			task := *tp
			if !task.enabled || !next.haveTimeLeftBeforeDeadline(s.clock) {
				return
			}
			if time.Duration(task.effectiveMaxTimeNs()) < next.timeLeftUntilDeadline(s.clock) {
				task.run(s.clock, s.log)
				ranThisPass = true
				ranAny = true
			}
		})
		if !ranThisPass {
			break
		}
	}
	if !ranAny && s.idle.Len() > 0 {
		s.missedIdleSteps++
		if s.missedIdleSteps%missedIdleWarnEvery == 0 {
			s.log.Warnf("idle tasks missed %d slack windows: no idle task fits the available slack", s.missedIdleSteps)
		}
	}
}

// dispatchCohort runs hard-realtime cohort members in ascending
// deadline order (busy-waiting each to its exact deadline), then the
// remaining soft-realtime members immediately.
func (s *Scheduler) dispatchCohort(cohort []*Task) {
	hard := make([]*Task, 0, len(cohort))
	soft := make([]*Task, 0, len(cohort))
	for _, task := range cohort {
		if task.kind == HardRealtime {
			hard = append(hard, task)
		} else {
			soft = append(soft, task)
		}
	}
	sort.Slice(hard, func(i, j int) bool {
		return hard[i].timeLeftUntilDeadline(s.clock) < hard[j].timeLeftUntilDeadline(s.clock)
	})

	for _, task := range hard {
		task.waitForDeadline(s.clock, s.log)
		task.runElapsed(s.clock, s.log)
	}
	for _, task := range soft {
		task.runElapsed(s.clock, s.log)
	}
}

// Run repeatedly calls Step until Stop is called or maxRuntime has elapsed
// on the scheduler's clock. maxRuntime <= 0 means run until Stop. Stop takes
// effect at the top of the next iteration, never mid-Step.
func (s *Scheduler) Run(maxRuntime time.Duration) {
	s.stopFlag.Store(false)
	start := s.clock.Now()
	for !s.stopFlag.Load() {
		s.Step()
		if maxRuntime > 0 && s.clock.Now().Sub(start) >= maxRuntime {
			return
		}
	}
}

// Stop requests that Run exit at the top of its next iteration. Safe to
// call from any goroutine.
func (s *Scheduler) Stop() {
	s.stopFlag.Store(true)
}

// taskStatusJSON is one entry of the "tasks" array in the status document.
type taskStatusJSON struct {
	Name   string  `json:"name"`
	Max    float64 `json:"max"`
	Warmup float64 `json:"warmup"`
	Avg    float64 `json:"avg"`
}

type schedulerStatusJSON struct {
	Tasks []taskStatusJSON `json:"tasks"`
}

// snapshotStats copies out the current *Task pointers under the mutex, then
// reads their statistics fields outside the lock: the reporter must never
// gate the scheduling decision loop, only briefly protect the slot tables'
// structure against a concurrent AddPeriodic/RemovePeriodic.
func (s *Scheduler) snapshotStats() []TaskStats {
	s.mu.Lock()
	tasks := make([]*Task, 0, s.periodic.Len()+s.idle.Len())
	s.periodic.Each(func(_ Handle, tp **Task) { tasks = append(tasks, *tp) })
	s.idle.Each(func(_ Handle, tp **Task) { tasks = append(tasks, *tp) })
	s.mu.Unlock()

	out := make([]TaskStats, len(tasks))
	for i, task := range tasks {
		out[i] = task.stats()
	}
	return out
}

// SnapStats returns a point-in-time copy of every task's statistics, for
// consumption by the internal-metrics delta generator.
func (s *Scheduler) SnapStats() []TaskStats {
	return s.snapshotStats()
}

// StatusJSON renders the current task statistics as the
// {"tasks":[{"name":...,"max":...,"warmup":...,"avg":...}]} document,
// implementing the IService status contract.
func (s *Scheduler) StatusJSON() ([]byte, error) {
	stats := s.snapshotStats()
	doc := schedulerStatusJSON{Tasks: make([]taskStatusJSON, len(stats))}
	for i, st := range stats {
		var avg float64
		if st.NumCalls > 0 {
			avg = float64(st.TotalTimeUs) / float64(st.NumCalls) / 1e6
		}
		doc.Tasks[i] = taskStatusJSON{
			Name:   st.Name,
			Max:    float64(st.MaxTimeNs) / 1e9,
			Warmup: float64(st.WarmupMaxTimeNs) / 1e9,
			Avg:    avg,
		}
	}
	return json.Marshal(doc)
}

// Name returns the scheduler's identifying name, used by ServiceBus.
func (s *Scheduler) Name() string { return s.name }
