// The public face of the package for its users.

package realtimesched

import (
	"flag"

	"github.com/sirupsen/logrus"

	rtsched_internal "github.com/bgp59/realtimesched/internal"
)

type TaskKind = rtsched_internal.TaskKind

const (
	SoftRealtime = rtsched_internal.SoftRealtime
	HardRealtime = rtsched_internal.HardRealtime
)

type TaskStatus = rtsched_internal.TaskStatus

const (
	TaskOK    = rtsched_internal.TaskOK
	TaskYield = rtsched_internal.TaskYield
)

type Task = rtsched_internal.Task
type TaskFunc = rtsched_internal.TaskFunc
type TaskStats = rtsched_internal.TaskStats

type PeriodicHandle = rtsched_internal.PeriodicHandle
type IdleHandle = rtsched_internal.IdleHandle

type Scheduler = rtsched_internal.Scheduler
type SchedulerConfig = rtsched_internal.SchedulerConfig

type MultiCoreCoordinator = rtsched_internal.MultiCoreCoordinator
type CoordinatorConfig = rtsched_internal.CoordinatorConfig

type WorkQueue = rtsched_internal.WorkQueue
type WorkItem = rtsched_internal.WorkItem

type IService = rtsched_internal.IService
type ServiceBus = rtsched_internal.ServiceBus

type RealtimeSchedConfig = rtsched_internal.RealtimeSchedConfig

type Clock = rtsched_internal.Clock

// NewScheduler creates a scheduler for one core, driven by the real system
// clock. cfg may be nil to use the defaults.
func NewScheduler(name string, cfg *SchedulerConfig) *Scheduler {
	return rtsched_internal.NewScheduler(name, rtsched_internal.NewRealClock(), rtsched_internal.NewCompLogger(name), cfg)
}

// NewMultiCoreCoordinator builds one Scheduler per reserved core and invokes
// buildSchedule once per core to populate it.
func NewMultiCoreCoordinator(cfg *CoordinatorConfig, buildSchedule func(coreIndex int, s *Scheduler) error) (*MultiCoreCoordinator, error) {
	return rtsched_internal.NewMultiCoreCoordinator(cfg, rtsched_internal.NewRealClock(), rtsched_internal.NewCompLogger("coordinator"), buildSchedule)
}

// NewServiceBus creates an empty status-aggregation registry.
func NewServiceBus() *ServiceBus { return rtsched_internal.NewServiceBus() }

// NewWorkQueue registers a shared FIFO idle task named name on s and returns
// a handle to push work onto it.
func NewWorkQueue(s *Scheduler, name string) (*WorkQueue, error) {
	return rtsched_internal.NewWorkQueue(s, name)
}

// DefaultRealtimeSchedConfig returns the out-of-the-box configuration.
func DefaultRealtimeSchedConfig() *RealtimeSchedConfig {
	return rtsched_internal.DefaultRealtimeSchedConfig()
}

// LoadConfig loads the configuration from cfgFile, or from buf if non-nil.
func LoadConfig(cfgFile string, buf []byte) (*RealtimeSchedConfig, error) {
	return rtsched_internal.LoadConfig(cfgFile, buf)
}

// The instance should be primed w/ the desired default *before* invoking the
// runner, typically from an init(). Its value may be modified via config and
// command line args.
func SetDefaultInstance(instance string) {
	rtsched_internal.Instance = instance
}

// Set the config flag default value, typically to <default_instance>-config.yaml:
func SetDefaultConfigFile(filePath string) {
	if configFlag := flag.Lookup(rtsched_internal.CONFIG_FLAG_NAME); configFlag != nil {
		if err := configFlag.Value.Set(filePath); err == nil {
			configFlag.DefValue = filePath
		}
	}
}

// Update build info: version (semver) and git info. This function should be
// called *before* the runner is invoked, typically from an init() function.
func UpdateBuildInfo(version, gitInfo string) {
	rtsched_internal.Version = version
	rtsched_internal.GitInfo = gitInfo
}

// Get the instance, which is typically set from the command line or config.
func GetInstance() string { return rtsched_internal.Instance }

// Get the hostname, based on OS, config and/or command line arg.
func GetHostname() string { return rtsched_internal.Hostname }

// The root logger. Needed only for tests where the logger is captured (see
// testutils/log_collector.go), its actual type is obscured. The only use
// case for calling it is during tests, as follows:
//
//	func TestSomethingWithLogger() {
//		tlc := rtsched_testutils.NewTestLogCollect(t, realtimesched.GetRootLogger(), nil)
//		defer tlc.RestoreLog()
//	}
func GetRootLogger() any { return rtsched_internal.RootLogger }

// Create new component logger w/ comp=compName field:
func NewCompLogger(comp string) *logrus.Entry {
	return rtsched_internal.NewCompLogger(comp)
}

// When logging files, the log file name is derived from the file path
// typically relative to the module root dir. The logger maintains a list of
// prefixes to strip and the following function will add the caller's module
// path to it. The latter is inferred from the caller's file path, going up
// N dirs. Typically the call is made from main.init() so the parameter is 0
// (assuming that main.go is at the root dir of the module).
func AddCallerSrcPathPrefixToLogger(upNDirs int) {
	// skip = 1 below to base the caller's path on the caller of this function.
	rtsched_internal.AddCallerSrcPathPrefixToLogger(upNDirs, 1)
}

// ParseCPUList parses a whitespace-separated list of CPU ids, for overriding
// coordinator_config.cpu_list from the command line.
func ParseCPUList(s string) ([]int, error) {
	return rtsched_internal.ParseCPUList(s)
}

// BuildSchedule populates the Scheduler for core coreIndex (0-based); it is
// invoked once per core while the MultiCoreCoordinator is being assembled.
type BuildSchedule = rtsched_internal.BuildSchedule

// Run is the entry point for a scheduler instance process: it loads config,
// sets up logging, builds the per-core schedules via buildSchedule, and runs
// until a shutdown signal arrives. Its return value should be used as the
// process exit status.
func Run(buildSchedule BuildSchedule) int { return rtsched_internal.Run(buildSchedule) }
