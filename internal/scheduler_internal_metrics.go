// Self-observability metrics for a Scheduler, in Prometheus text exposition
// format.
//
// Uses a dual-snapshot delta-generation idiom: keep two successive stats
// snapshots, toggle which one is "current" each call, report counters as the
// delta between them. NumCalls/NumOKCalls/TotalTimeUs are monotonic counters
// reported as deltas, MaxTimeNs/WarmupMaxTimeNs are reported as gauges since
// they are already watermarks, not accumulators.

package rtsched_internal

import (
	"bytes"
	"fmt"
	"time"
)

const (
	metricTaskCallsDelta      = "rtsched_task_calls_delta"
	metricTaskOKCallsDelta    = "rtsched_task_ok_calls_delta"
	metricTaskTotalTimeDelta  = "rtsched_task_total_time_us_delta"
	metricTaskMaxTimeNs       = "rtsched_task_max_time_ns"
	metricTaskWarmupMaxTimeNs = "rtsched_task_warmup_max_time_ns"
)

// taskMetricNames caches the fully-rendered Prometheus metric-name-plus-
// label-set prefix for one task, so steady-state metric generation after the
// first call is pure string concatenation rather than repeated Sprintf
// formatting of the label set.
type taskMetricNames struct {
	calls      string
	okCalls    string
	totalTime  string
	maxTime    string
	warmupTime string
}

func newTaskMetricNames(schedulerName string, st TaskStats) taskMetricNames {
	labels := fmt.Sprintf(`{scheduler=%q,task=%q,kind=%q}`, schedulerName, st.Name, st.Kind.String())
	return taskMetricNames{
		calls:      metricTaskCallsDelta + labels,
		okCalls:    metricTaskOKCallsDelta + labels,
		totalTime:  metricTaskTotalTimeDelta + labels,
		maxTime:    metricTaskMaxTimeNs + labels,
		warmupTime: metricTaskWarmupMaxTimeNs + labels,
	}
}

// SchedulerInternalMetrics generates delta metrics for one Scheduler across
// successive calls to Generate. It is not safe for concurrent use; callers
// typically invoke Generate from a single periodic metrics-export task.
type SchedulerInternalMetrics struct {
	schedulerName string

	// Two snapshots, toggled by currIndex, so Generate always has a "last
	// time" to diff against after the first call.
	stats     [2][]TaskStats
	statsTs   [2]time.Time
	currIndex int

	names map[string]taskMetricNames
}

// NewSchedulerInternalMetrics creates a metrics generator for the scheduler
// named schedulerName.
func NewSchedulerInternalMetrics(schedulerName string) *SchedulerInternalMetrics {
	return &SchedulerInternalMetrics{
		schedulerName: schedulerName,
		names:         make(map[string]taskMetricNames),
	}
}

// Generate snapshots s's current task stats, diffs them against the
// previous snapshot (if any), and returns the result as Prometheus text
// exposition lines. The first call after construction has no prior
// snapshot to diff against, so it emits nothing but still primes the
// baseline for the next call.
func (m *SchedulerInternalMetrics) Generate(s *Scheduler, now time.Time) []byte {
	curr := s.SnapStats()
	prevIndex := 1 - m.currIndex
	havePrev := !m.statsTs[prevIndex].IsZero()

	prevByName := make(map[string]TaskStats, len(m.stats[prevIndex]))
	if havePrev {
		for _, st := range m.stats[prevIndex] {
			prevByName[st.Name] = st
		}
	}

	var buf bytes.Buffer
	if havePrev {
		for _, st := range curr {
			names, ok := m.names[st.Name]
			if !ok {
				names = newTaskMetricNames(m.schedulerName, st)
				m.names[st.Name] = names
			}
			prev, ok := prevByName[st.Name]
			if !ok {
				// A task that did not exist in the previous snapshot (just
				// added) has nothing meaningful to delta against yet.
				continue
			}
			fmt.Fprintf(&buf, "%s %d\n", names.calls, counterDelta(prev.NumCalls, st.NumCalls))
			fmt.Fprintf(&buf, "%s %d\n", names.okCalls, counterDelta(prev.NumOKCalls, st.NumOKCalls))
			fmt.Fprintf(&buf, "%s %d\n", names.totalTime, counterDelta(prev.TotalTimeUs, st.TotalTimeUs))
			fmt.Fprintf(&buf, "%s %d\n", names.maxTime, st.MaxTimeNs)
			fmt.Fprintf(&buf, "%s %d\n", names.warmupTime, st.WarmupMaxTimeNs)
		}
	}

	m.stats[m.currIndex] = curr
	m.statsTs[m.currIndex] = now
	m.currIndex = prevIndex
	return buf.Bytes()
}

// counterDelta computes curr-prev for a monotonically non-decreasing
// counter, treating a curr < prev (the counter was reset, e.g. the task was
// removed and re-added) as a fresh start rather than reporting underflow.
func counterDelta(prev, curr uint64) uint64 {
	if curr < prev {
		return curr
	}
	return curr - prev
}
