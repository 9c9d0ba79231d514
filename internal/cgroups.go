// Cgroup cpuset CPU reservation.
//
// Create a cpuset control group, write the CPU list into it, mark it
// exclusive, then move the current process into it. Done via plain
// filesystem writes rather than a client library, since it's a handful of
// one-shot writes to well-known /sys/fs/cgroup paths.

package rtsched_internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const cgroupCpusetRoot = "/sys/fs/cgroup/cpuset"

// cpuListString renders cores as the comma-separated cpuset list format
// ("0,2,4").
func cpuListString(cores []int) string {
	parts := make([]string, len(cores))
	for i, c := range cores {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// reserveCgroupCPUSet creates (or reuses) /sys/fs/cgroup/cpuset/<name>,
// restricts it to cores, marks it exclusive, and moves the calling process
// into it. It assumes the cpuset controller is already mounted at
// cgroupCpusetRoot; it does not attempt to mount the hierarchy itself, since
// that is a host-level concern outside a single process's purview.
func reserveCgroupCPUSet(name string, cores []int) error {
	if len(cores) == 0 {
		return fmt.Errorf("rtsched: cgroups reservation requires a non-empty core list")
	}
	if _, err := os.Stat(cgroupCpusetRoot); err != nil {
		return fmt.Errorf("rtsched: cpuset controller not mounted at %s: %w", cgroupCpusetRoot, err)
	}

	dir := filepath.Join(cgroupCpusetRoot, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("rtsched: mkdir %s: %w", dir, err)
	}

	// mems must be populated before cpu_exclusive can be set on most
	// kernels; cpus before the process is moved in, or the move is
	// rejected as having no valid CPUs to run on.
	writes := []struct {
		file, content string
	}{
		{"mems", "0"},
		{"cpus", cpuListString(cores)},
		{"cpu_exclusive", "1"},
	}
	for _, w := range writes {
		path := filepath.Join(dir, w.file)
		if err := os.WriteFile(path, []byte(w.content), 0644); err != nil {
			return fmt.Errorf("rtsched: write %s: %w", path, err)
		}
	}

	tasksPath := filepath.Join(dir, "tasks")
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tasksPath, []byte(pid), 0644); err != nil {
		return fmt.Errorf("rtsched: write %s: %w", tasksPath, err)
	}
	return nil
}
