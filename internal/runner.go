package rtsched_internal

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bgp59/logrusx"
)

// The runner is the main entry point for a scheduler instance.
//
// It loads the configuration, sets up logging, builds a MultiCoreCoordinator
// (one Scheduler per reserved core) via the caller-supplied buildSchedule
// callback, and runs it until a shutdown signal arrives.
//
// Unlike a plugin system with a task-builder registry, there is no
// extension-point registration here: the caller hands the runner a single
// function that populates each core's Scheduler directly, since a real-time
// schedule is assembled once, at startup, not out of independently
// registered generators.
//
// Some configuration parameters may be overridden via command line
// arguments. The runner parses them itself unless the main function has
// already done so.
//
// The runner also handles shutdown. It waits for all cores to stop before
// exiting. Shutdown is triggered by a signal (SIGINT or SIGTERM) and has a
// grace period; if the cores do not stop within the grace period, the runner
// forcefully terminates.

const (
	CONFIG_FLAG_NAME = "config"
	INSTANCE_DEFAULT = "rtsched"
)

var (
	// The hostname, based on OS, config or command line arg.
	Hostname string

	// The instance should be primed w/ the desired default *before* invoking
	// the runner, most likely from an init(). Its value may be modified via
	// config and command line args.
	Instance string = INSTANCE_DEFAULT

	// Build info, normally set via init() by the user of this package.
	Version string
	GitInfo string
)

// Command line args; they should be defined at package scope since the flags are
// parsed in main.
var (
	versionArg = flag.Bool(
		"version",
		false,
		FormatFlagUsage(
			`Print the version and exit`,
		),
	)

	configFileArg = flag.String(
		CONFIG_FLAG_NAME,
		fmt.Sprintf("%s-config.yaml", INSTANCE_DEFAULT),
		`Config file to load`,
	)

	hostnameArg = flag.String(
		"hostname",
		"",
		FormatFlagUsage(
			`Override the the value returned by hostname syscall`,
		),
	)

	instanceArg = flag.String(
		"instance",
		"",
		FormatFlagUsage(
			`Override the "rtsched_config.instance" config setting`,
		),
	)

	cpuListArg = flag.String(
		"cpu-list",
		"",
		FormatFlagUsage(
			`Override the "rtsched_config.coordinator_config.cpu_list" config setting, as a whitespace separated list of CPU ids`,
		),
	)
)

func init() {
	logrusx.EnableLoggerArgs()
}

var runnerLog = NewCompLogger("runner")

// BuildSchedule populates the Scheduler for core coreIndex (0-based) with
// whatever periodic and idle tasks the application needs; it is invoked once
// per core while the MultiCoreCoordinator is being assembled.
type BuildSchedule func(coreIndex int, s *Scheduler) error

// Run is the main entry point for an actual scheduler instance. buildSchedule
// is called once per reserved core to populate its Scheduler. The return
// value is the exit code of the executable.
func Run(buildSchedule BuildSchedule) int {
	var (
		err           error
		shutdownTimer *time.Timer
		cfg           *RealtimeSchedConfig
	)

	if !flag.Parsed() {
		flag.Parse()
	}

	if *versionArg {
		fmt.Fprintf(os.Stderr, "Version: %s, GitInfo: %s\n", Version, GitInfo)
		return 0
	}

	configFile := *configFileArg
	cfg, err = LoadConfig(configFile, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
		return 1
	}

	// Override the config with command line args:
	if *instanceArg != "" {
		cfg.Instance = *instanceArg
	}
	if *cpuListArg != "" {
		cfg.CoordinatorConfig.CPUList, err = ParseCPUList(*cpuListArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -cpu-list: %v\n", err)
			return 1
		}
	}
	logrusx.ApplySetLoggerArgs(cfg.LoggerConfig)

	// Set the logger level and file:
	err = SetLogger(cfg.LoggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting the logger: %v\n", err)
		return 1
	}

	// Set the globals:
	Instance = cfg.Instance
	if *hostnameArg != "" {
		Hostname = *hostnameArg
	} else {
		Hostname, err = os.Hostname()
		if err != nil {
			runnerLog.Errorf("Error getting hostname: %v", err)
			return 1
		}
		if cfg.UseShortHostname {
			i := strings.Index(Hostname, ".")
			if i > 0 {
				Hostname = Hostname[:i]
			}
		}
	}

	// Create a stopped timer to provide timeout support at shutdown. The
	// shutdown of the coordinator is performed via `defer`, so the
	// shutdownTimer's stop should be registered before it.
	if cfg.ShutdownMaxWait > 0 {
		shutdownTimer = time.NewTimer(1 * time.Hour)
		shutdownTimer.Stop()
		defer shutdownTimer.Stop()
	}

	if bootTime, err := GetOsBootTime(); err != nil {
		runnerLog.Warnf("cannot determine OS boot time: %v", err)
	} else {
		runnerLog.Infof("OS boot time: %s, uptime: %s", bootTime, time.Since(bootTime))
	}
	if clktck, err := GetSysClktck(); err != nil {
		runnerLog.Warnf("cannot determine clock ticks/s: %v", err)
	} else {
		runnerLog.Infof("clock ticks/s: %d", clktck)
	}

	clock := NewRealClock()
	coord, err := NewMultiCoreCoordinator(cfg.CoordinatorConfig, clock, NewCompLogger("coordinator"), buildSchedule)
	if err != nil {
		runnerLog.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewServiceBus()
	bus.Register(coord)

	var metricsStop chan struct{}
	if cfg.InternalMetricsConfig.Enabled {
		metricsStop = startInternalMetricsLoop(coord, cfg.InternalMetricsConfig)
		defer close(metricsStop)
	}

	coordDone := make(chan struct{})
	go func() {
		coord.Run(ctx, 0)
		close(coordDone)
	}()
	defer func() { <-coordDone }()
	defer coord.Stop()

	// Log instance and hostname, useful for dashboard variable selection:
	runnerLog.Infof("Instance: %s, Hostname: %s", Instance, Hostname)
	if status, err := bus.StatusJSON(); err == nil {
		runnerLog.Debugf("initial status: %s", status)
	}

	// Block until a signal is received:
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	if cfg.ShutdownMaxWait == 0 {
		runnerLog.Fatalf("%s signal received, force exit", sig)
	} else {
		runnerLog.Warnf("%s signal received, shutting down", sig)
	}

	if shutdownTimer != nil {
		go func() {
			shutdownTimer.Reset(cfg.ShutdownMaxWait)
			<-shutdownTimer.C
			runnerLog.Fatalf("shutdown timed out after %s, force exit", cfg.ShutdownMaxWait)
		}()
	}

	return 0
}

// startInternalMetricsLoop runs a best-effort self-metrics export loop on its
// own goroutine (the coordinator's own cores are fully dedicated to the
// real-time schedule, so this housekeeping stays off of them) until the
// returned channel is closed.
func startInternalMetricsLoop(coord *MultiCoreCoordinator, cfg *InternalMetricsConfig) chan struct{} {
	stop := make(chan struct{})
	bufSize, err := cfg.BufferSizeHintBytes()
	if err != nil {
		runnerLog.Warnf("invalid internal_metrics_config.buffer_size_hint: %v", err)
		bufSize = 0
	}

	go func() {
		gens := make(map[string]*SchedulerInternalMetrics, len(coord.Schedulers()))
		for _, s := range coord.Schedulers() {
			gens[s.Name()] = NewSchedulerInternalMetrics(s.Name())
		}

		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				for _, s := range coord.Schedulers() {
					out := gens[s.Name()].Generate(s, now)
					if len(out) == 0 {
						continue
					}
					if int64(len(out)) > bufSize && bufSize > 0 {
						runnerLog.Debugf("internal metrics for %s exceeded buffer_size_hint (%d > %d bytes)", s.Name(), len(out), bufSize)
					}
					runnerLog.Debugf("%s", out)
				}
				if cpuTime, err := GetMyCpuTime(); err == nil {
					runnerLog.Debugf("process cpu time: %.3fs", cpuTime)
				}
			}
		}
	}()
	return stop
}
