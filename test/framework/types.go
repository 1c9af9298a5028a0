// Package framework provides the in-process harness for controller
// scenario tests: a memory-backed document store, a scripted scheduler,
// the full submission and processing pipeline and the RPC server on an
// in-memory listener, plus waiters and assertions over the store.
package framework

import "time"

// HarnessConfig defines the controller under test.
type HarnessConfig struct {
	// FirstJobID is the id assigned to the first accepted submission.
	FirstJobID int64
	// CLIMonitorInterval is the sampling interval (seconds) handed to
	// node agents for jobs registered from the CLI.
	CLIMonitorInterval int
	// WatchInterval is the watcher pass cadence.
	WatchInterval time.Duration
	// MinIterations is the watcher's minimum pass count before a job
	// missing from the active set counts as finished.
	MinIterations int
	// ScanInterval is the registration loop cadence.
	ScanInterval time.Duration
	// RunRegistration starts the registration loop. Tests that dispatch
	// watchers by hand leave it off.
	RunRegistration bool
}

// DefaultHarnessConfig returns a configuration tuned for fast in-process
// scenario runs.
func DefaultHarnessConfig() *HarnessConfig {
	return &HarnessConfig{
		FirstJobID:         101,
		CLIMonitorInterval: 10,
		WatchInterval:      2 * time.Millisecond,
		MinIterations:      1,
		ScanInterval:       2 * time.Millisecond,
		RunRegistration:    true,
	}
}

// TestingT is an interface matching testing.T
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
	Cleanup(func())
	TempDir() string
}
