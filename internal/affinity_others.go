// CPU affinity binding for a pinned scheduler thread.

//go:build !linux

package rtsched_internal

import "fmt"

// SetSchedAffinity is only implemented on Linux, via unix.SchedSetaffinity;
// elsewhere CPU reservation is left to the OS/deployment environment.
func SetSchedAffinity(coreID int) error {
	return fmt.Errorf("rtsched: SetSchedAffinity is not supported on this platform")
}
