// CPU affinity binding for a pinned scheduler thread.

//go:build linux

package rtsched_internal

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetSchedAffinity binds the calling OS thread to a single CPU. Callers that
// want the binding to stick must have already called runtime.LockOSThread,
// otherwise the Go runtime is free to migrate the goroutine to a different
// thread afterwards.
func SetSchedAffinity(coreID int) error {
	if coreID < 0 {
		return fmt.Errorf("rtsched: invalid core id %d", coreID)
	}
	var cpuSet unix.CPUSet
	cpuSet.Set(coreID)
	return unix.SchedSetaffinity(0, &cpuSet)
}
