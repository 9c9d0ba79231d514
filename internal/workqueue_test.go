package rtsched_internal

import (
	"testing"
)

func TestWorkQueue_DrainsOneItemPerStep(t *testing.T) {
	clk := NewMockClock()
	s := NewScheduler("test", clk, NewCompLogger("test"), nil)

	wq, err := NewWorkQueue(s, "work")
	if err != nil {
		t.Fatalf("NewWorkQueue: %v", err)
	}

	var order []int
	wq.Push(func() { order = append(order, 1) })
	wq.Push(func() { order = append(order, 2) })
	wq.Push(func() { order = append(order, 3) })

	if wq.Len() != 3 {
		t.Fatalf("expected 3 queued items, got %d", wq.Len())
	}

	// No periodic tasks registered, so each Step runs every idle task once.
	s.Step()
	if got := order; len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected first item to run on first step, got %v", got)
	}
	s.Step()
	s.Step()

	if len(order) != 3 {
		t.Fatalf("expected all 3 items drained in FIFO order, got %v", order)
	}
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("expected FIFO order [1 2 3], got %v", order)
		}
	}
	if wq.Len() != 0 {
		t.Fatalf("expected queue to be empty after draining, got %d", wq.Len())
	}
}

func TestWorkQueue_EmptyYieldsWithoutError(t *testing.T) {
	clk := NewMockClock()
	s := NewScheduler("test", clk, NewCompLogger("test"), nil)

	wq, err := NewWorkQueue(s, "work")
	if err != nil {
		t.Fatalf("NewWorkQueue: %v", err)
	}

	s.Step()

	if wq.Len() != 0 {
		t.Fatalf("expected empty queue to remain empty, got %d", wq.Len())
	}
}
