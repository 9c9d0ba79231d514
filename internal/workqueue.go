// Work-queue facade: one-shot FIFO work layered onto a single idle task.
//
// Grounded in original_source/include/urtsched/Service.hpp and
// src/Service.cpp's m_idle_proxy/m_work_queue pattern: a component that
// wants to run occasional one-shot work on a scheduler shouldn't each need
// to register and manage its own idle task; it pushes a closure here
// instead, and a single shared idle task drains the queue one item per
// dispatch.

package rtsched_internal

import "sync"

// WorkItem is a one-shot unit of work queued for opportunistic execution.
type WorkItem func()

// WorkQueue drains queued WorkItems one at a time from a single idle task
// registered on a Scheduler. Pushing is safe from any goroutine; draining
// happens only on the scheduler's own thread, as for any idle task.
type WorkQueue struct {
	mu    sync.Mutex
	items []WorkItem
}

// NewWorkQueue registers name as an idle task on s and returns the queue
// feeding it. Each invocation of the idle task drains at most one item; a
// Step with no enabled periodic task invokes it once, while slack filling
// before a periodic deadline may invoke it several times in one Step.
func NewWorkQueue(s *Scheduler, name string) (*WorkQueue, error) {
	wq := &WorkQueue{}
	if _, err := s.AddIdleTask(name, wq.runOne); err != nil {
		return nil, err
	}
	return wq, nil
}

// Push enqueues item for later execution on the scheduler's thread.
func (wq *WorkQueue) Push(item WorkItem) {
	wq.mu.Lock()
	wq.items = append(wq.items, item)
	wq.mu.Unlock()
}

// Len returns the number of items still queued.
func (wq *WorkQueue) Len() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.items)
}

// runOne is the idle task callback: it pops and runs the oldest item, or
// yields if the queue is empty so an empty queue doesn't count against the
// task's timing statistics as if it had done real work.
func (wq *WorkQueue) runOne(_ *Task) TaskStatus {
	wq.mu.Lock()
	if len(wq.items) == 0 {
		wq.mu.Unlock()
		return TaskYield
	}
	item := wq.items[0]
	wq.items = wq.items[1:]
	wq.mu.Unlock()

	item()
	return TaskOK
}
