package rtsched_internal

import (
	"strings"
	"testing"
	"time"
)

func TestSchedulerInternalMetrics_FirstCallEmitsNothing(t *testing.T) {
	clk := NewMockClock()
	s := NewScheduler("core-0", clk, NewCompLogger("test"), nil)
	if _, err := s.AddIdleTask("idle", func(_ *Task) TaskStatus { return TaskOK }); err != nil {
		t.Fatalf("AddIdleTask: %v", err)
	}
	s.Step()

	m := NewSchedulerInternalMetrics("core-0")
	out := m.Generate(s, clk.Now())
	if len(out) != 0 {
		t.Fatalf("expected no metrics on the first call (no prior snapshot), got:\n%s", out)
	}
}

func TestSchedulerInternalMetrics_SecondCallReportsDelta(t *testing.T) {
	clk := NewMockClock()
	s := NewScheduler("core-0", clk, NewCompLogger("test"), nil)
	if _, err := s.AddIdleTask("idle", func(_ *Task) TaskStatus { return TaskOK }); err != nil {
		t.Fatalf("AddIdleTask: %v", err)
	}

	m := NewSchedulerInternalMetrics("core-0")

	s.Step()
	m.Generate(s, clk.Now())

	s.Step()
	s.Step()
	out := m.Generate(s, clk.Now())

	text := string(out)
	if !strings.Contains(text, metricTaskCallsDelta) {
		t.Fatalf("expected %s in output:\n%s", metricTaskCallsDelta, text)
	}
	if !strings.Contains(text, `task="idle"`) {
		t.Fatalf("expected task label in output:\n%s", text)
	}
	if !strings.Contains(text, metricTaskCallsDelta+`{scheduler="core-0",task="idle",kind="soft-realtime"} 2`) {
		t.Fatalf("expected a delta of 2 calls between the two Generate calls, got:\n%s", text)
	}
}

func TestSchedulerInternalMetrics_SkipsTaskNotInPriorSnapshot(t *testing.T) {
	clk := NewMockClock()
	s := NewScheduler("core-0", clk, NewCompLogger("test"), nil)
	if _, err := s.AddIdleTask("idle", func(_ *Task) TaskStatus { return TaskOK }); err != nil {
		t.Fatalf("AddIdleTask: %v", err)
	}

	m := NewSchedulerInternalMetrics("core-0")
	s.Step()
	m.Generate(s, clk.Now())

	// A task added after the first snapshot has no prior entry to diff.
	if _, err := s.AddIdleTask("late", func(_ *Task) TaskStatus { return TaskOK }); err != nil {
		t.Fatalf("AddIdleTask: %v", err)
	}
	s.Step()
	out := string(m.Generate(s, clk.Now()))
	if strings.Contains(out, `task="late"`) {
		t.Fatalf("expected the late task to be skipped on its first appearance, got:\n%s", out)
	}
}

func TestSchedulerInternalMetrics_ZeroTime(t *testing.T) {
	clk := NewMockClock()
	s := NewScheduler("core-0", clk, NewCompLogger("test"), nil)
	m := NewSchedulerInternalMetrics("core-0")
	out := m.Generate(s, time.Time{})
	if len(out) != 0 {
		t.Fatalf("expected empty output on an empty scheduler, got:\n%s", out)
	}
}
