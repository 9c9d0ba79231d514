package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bgp59/realtimesched"
)

const (
	DEFAULT_INSTANCE = "rtsched-demo"
)

// Create the main log:
var mainLog = realtimesched.NewCompLogger(DEFAULT_INSTANCE)

// Customize the framework for this particular instance. This should be done
// before invoking `realtimesched.Run', so it's best to do it via `init()'.
func init() {
	// Add the prefix to strip when logging source file path for messages
	// from this module, based on the location of this file:
	realtimesched.AddCallerSrcPathPrefixToLogger(0) // this file is at cmd/rtsched-demo

	// Default instance:
	realtimesched.SetDefaultInstance(DEFAULT_INSTANCE)

	// Default config file:
	realtimesched.SetDefaultConfigFile(fmt.Sprintf("%s-config.yaml", DEFAULT_INSTANCE))

	// The build info for this binary, normally set from auto-generated
	// buildinfo.go; left as its placeholder values here since this is a demo.
	realtimesched.UpdateBuildInfo(Version, GitInfo)
}

// buildDemoSchedule populates each core's schedule with a sample mix of a
// hard-realtime tick, a soft-realtime housekeeping task, and a work queue
// fed by a background goroutine, so the binary exercises every dispatch
// path without needing any external input.
func buildDemoSchedule(coreIndex int, s *realtimesched.Scheduler) error {
	tickHandle, err := s.AddPeriodic(
		"tick", realtimesched.HardRealtime, time.Millisecond,
		func(_ *realtimesched.Task) realtimesched.TaskStatus {
			return realtimesched.TaskOK
		},
	)
	if err != nil {
		return err
	}
	s.EnablePeriodic(tickHandle)

	houseHandle, err := s.AddPeriodic(
		"housekeeping", realtimesched.SoftRealtime, 100*time.Millisecond,
		func(_ *realtimesched.Task) realtimesched.TaskStatus {
			mainLog.Debugf("core %d: housekeeping pass", coreIndex)
			return realtimesched.TaskOK
		},
	)
	if err != nil {
		return err
	}
	s.EnablePeriodic(houseHandle)

	wq, err := realtimesched.NewWorkQueue(s, "work")
	if err != nil {
		return err
	}
	go func() {
		for i := 0; ; i++ {
			n := i
			wq.Push(func() { mainLog.Debugf("core %d: drained work item %d", coreIndex, n) })
			time.Sleep(10 * time.Millisecond)
		}
	}()

	return nil
}

func main() {
	mainLog.Info("Start")
	// Invoke the runner with buildDemoSchedule: the runner loads the config
	// file, sets up logging, builds a MultiCoreCoordinator by calling
	// buildDemoSchedule once per reserved core, and runs it until a shutdown
	// signal arrives. This is how it all comes together.
	os.Exit(realtimesched.Run(buildDemoSchedule))
}
