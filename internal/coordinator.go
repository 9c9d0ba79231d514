// Multi-core coordinator: one Scheduler per pinned OS thread.
//
// Grounded in original_source/src/MultiCoreRealtimeKernel.cpp: run core 0's
// scheduler inline on the calling thread, spawn one goroutine per remaining
// core, optionally reserve a cpuset, join on shutdown.

package rtsched_internal

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/huandu/go-clone"
	"github.com/sirupsen/logrus"
)

// CoreReservationMechanism selects how the coordinator asks the OS to keep
// other processes off the cores it schedules on.
type CoreReservationMechanism int

const (
	// ReservationNone assumes CPU reservation, if any, is handled outside
	// this process (e.g. by the deployment's isolcpus/systemd unit).
	ReservationNone CoreReservationMechanism = iota
	// ReservationTaskset assumes the process was already launched under an
	// external `taskset`-equivalent; the coordinator only sets per-thread
	// affinity within whatever mask it inherited.
	ReservationTaskset
	// ReservationCgroups has the coordinator create and join a cpuset
	// control group itself.
	ReservationCgroups
)

func parseReservationMechanism(s string) (CoreReservationMechanism, error) {
	switch s {
	case "", "none":
		return ReservationNone, nil
	case "taskset":
		return ReservationTaskset, nil
	case "cgroups":
		return ReservationCgroups, nil
	default:
		return 0, fmt.Errorf("rtsched: unknown reservation mechanism %q", s)
	}
}

// CoordinatorConfig controls how many cores the coordinator schedules on and
// how it reserves them.
type CoordinatorConfig struct {
	NumCores             int    `yaml:"num_cores"`
	ReservationMechanism string `yaml:"reservation_mechanism"`
	CgroupName           string `yaml:"cgroup_name"`
	// CPUList maps scheduler index -> OS CPU id. A nil/short list means
	// scheduler i is pinned to CPU i.
	CPUList []int `yaml:"cpu_list"`

	Scheduler *SchedulerConfig `yaml:"scheduler"`
}

// DefaultCoordinatorConfig returns a single-core, unreserved configuration.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		NumCores:             1,
		ReservationMechanism: "none",
		CgroupName:           "rtsched",
		Scheduler:            DefaultSchedulerConfig(),
	}
}

func (c *CoordinatorConfig) cpuForIndex(i int) int {
	if i < len(c.CPUList) {
		return c.CPUList[i]
	}
	return i
}

// ParseCPUList parses a whitespace-separated list of CPU ids, e.g. as
// supplied via a command line override of coordinator_config.cpu_list.
func ParseCPUList(s string) ([]int, error) {
	words := SplitWords(s)
	cpus := make([]int, 0, len(words))
	for _, w := range words {
		cpu, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("rtsched: invalid CPU id %q: %w", w, err)
		}
		cpus = append(cpus, cpu)
	}
	return cpus, nil
}

// MultiCoreCoordinator owns N single-core Schedulers, one per reserved CPU.
type MultiCoreCoordinator struct {
	cfg         *CoordinatorConfig
	reservation CoreReservationMechanism
	log         *logrus.Entry
	schedulers  []*Scheduler
	wg          sync.WaitGroup
}

// NewMultiCoreCoordinator builds cfg.NumCores schedulers (all sharing clock
// for time, so clock must be safe for concurrent use once Run starts) and
// invokes buildSchedule once per scheduler so the caller can register its
// tasks before Run starts dispatching.
func NewMultiCoreCoordinator(
	cfg *CoordinatorConfig,
	clock Clock,
	log *logrus.Entry,
	buildSchedule func(coreIndex int, s *Scheduler) error,
) (*MultiCoreCoordinator, error) {
	if cfg == nil {
		cfg = DefaultCoordinatorConfig()
	}
	if cfg.NumCores <= 0 {
		return nil, fmt.Errorf("rtsched: coordinator requires NumCores > 0, got %d", cfg.NumCores)
	}
	reservation, err := parseReservationMechanism(cfg.ReservationMechanism)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = NewCompLogger("coordinator")
	}

	c := &MultiCoreCoordinator{
		cfg:         cfg,
		reservation: reservation,
		log:         log,
		schedulers:  make([]*Scheduler, cfg.NumCores),
	}

	if available := GetAvailableCPUCount(); cfg.NumCores > available {
		c.log.Warnf("num_cores (%d) exceeds the available CPU count (%d)", cfg.NumCores, available)
	}

	if reservation == ReservationCgroups {
		cores := make([]int, cfg.NumCores)
		for i := range cores {
			cores[i] = cfg.cpuForIndex(i)
		}
		if err := reserveCgroupCPUSet(cfg.CgroupName, cores); err != nil {
			// Log and continue: a cgroups setup failure is a non-fatal
			// environment limitation, not a reason to abort startup.
			c.log.Errorf("cgroups reservation failed, continuing unreserved: %v", err)
		}
	}

	for i := 0; i < cfg.NumCores; i++ {
		name := fmt.Sprintf("core-%d", cfg.cpuForIndex(i))
		// Deep-clone the shared scheduler config so each core owns an
		// independent copy; SchedulerConfig is cheap but a future field
		// holding a slice/map would otherwise alias across cores.
		schedCfg := clone.Clone(cfg.Scheduler).(*SchedulerConfig)
		s := NewScheduler(name, clock, log.WithField("core", i), schedCfg)
		if buildSchedule != nil {
			if err := buildSchedule(i, s); err != nil {
				return nil, fmt.Errorf("rtsched: building schedule for core %d: %w", i, err)
			}
		}
		c.schedulers[i] = s
	}
	return c, nil
}

// Schedulers returns the coordinator's per-core schedulers, in core-index
// order, for wiring into a ServiceBus or the internal-metrics collector.
func (c *MultiCoreCoordinator) Schedulers() []*Scheduler {
	return c.schedulers
}

// Run pins and starts every scheduler. Core 0 runs inline on the calling
// goroutine (so a single-core coordinator needs no extra goroutine at all);
// the remaining cores each get their own goroutine. Run blocks until every
// scheduler's Run call returns, which happens when maxRuntime elapses (if
// nonzero) or ctx is cancelled, whichever comes first.
func (c *MultiCoreCoordinator) Run(ctx context.Context, maxRuntime time.Duration) {
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	for i := 1; i < len(c.schedulers); i++ {
		c.wg.Add(1)
		go func(i int) {
			defer c.wg.Done()
			c.runPinned(i, maxRuntime)
		}(i)
	}
	c.runPinned(0, maxRuntime)
	c.wg.Wait()
}

func (c *MultiCoreCoordinator) runPinned(i int, maxRuntime time.Duration) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	coreID := c.cfg.cpuForIndex(i)
	if err := SetSchedAffinity(coreID); err != nil {
		c.log.Errorf("core %d: SetSchedAffinity(%d) failed, continuing unpinned: %v", i, coreID, err)
	}
	c.schedulers[i].Run(maxRuntime)
}

// Stop requests every scheduler to stop; safe to call from any goroutine,
// any number of times.
func (c *MultiCoreCoordinator) Stop() {
	for _, s := range c.schedulers {
		s.Stop()
	}
}

// Wait blocks until all non-core-0 scheduler goroutines have returned. Run
// already does this internally; Wait is exposed for callers that started
// Run in its own goroutine and want to join it explicitly.
func (c *MultiCoreCoordinator) Wait() {
	c.wg.Wait()
}

// Name identifies the coordinator as an IService.
func (c *MultiCoreCoordinator) Name() string { return "coordinator" }

// StatusJSON implements IService by concatenating every core scheduler's
// "tasks" array into one combined document.
func (c *MultiCoreCoordinator) StatusJSON() ([]byte, error) {
	return combinedTasksJSON(c.schedulers)
}
