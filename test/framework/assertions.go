package framework

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/megware/xbatctld/pkg/paths"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// BenchmarkState asserts the current state of a benchmark
func (a *Assertions) BenchmarkState(ctx context.Context, st store.Store, runNr int64, want types.BenchmarkState) {
	a.t.Helper()

	benchmark, err := st.GetBenchmark(ctx, runNr)
	if err != nil {
		a.t.Fatalf("Failed to get benchmark %d: %v", runNr, err)
	}

	if benchmark.State != want {
		a.t.Fatalf("Benchmark %d is in state %s, expected %s", runNr, benchmark.State, want)
	}
}

// JobIDs asserts the scheduler job ids recorded on a benchmark, in
// submission order
func (a *Assertions) JobIDs(ctx context.Context, st store.Store, runNr int64, want []int64) {
	a.t.Helper()

	benchmark, err := st.GetBenchmark(ctx, runNr)
	if err != nil {
		a.t.Fatalf("Failed to get benchmark %d: %v", runNr, err)
	}

	if len(benchmark.JobIDs) != len(want) {
		a.t.Fatalf("Benchmark %d has job ids %v, expected %v", runNr, benchmark.JobIDs, want)
	}
	for i := range want {
		if benchmark.JobIDs[i] != want[i] {
			a.t.Fatalf("Benchmark %d has job ids %v, expected %v", runNr, benchmark.JobIDs, want)
		}
	}
}

// NoFailureReason asserts that a benchmark finished without a recorded
// failure reason
func (a *Assertions) NoFailureReason(ctx context.Context, st store.Store, runNr int64) {
	a.t.Helper()

	benchmark, err := st.GetBenchmark(ctx, runNr)
	if err != nil {
		a.t.Fatalf("Failed to get benchmark %d: %v", runNr, err)
	}

	if benchmark.FailureReason != nil {
		a.t.Fatalf("Benchmark %d carries failure reason %q, expected none", runNr, *benchmark.FailureReason)
	}
}

// FailureReason asserts the user-facing failure reason stored on a
// benchmark
func (a *Assertions) FailureReason(ctx context.Context, st store.Store, runNr int64, want string) {
	a.t.Helper()

	benchmark, err := st.GetBenchmark(ctx, runNr)
	if err != nil {
		a.t.Fatalf("Failed to get benchmark %d: %v", runNr, err)
	}

	if benchmark.FailureReason == nil {
		a.t.Fatalf("Benchmark %d has no failure reason, expected %q", runNr, want)
	}
	if *benchmark.FailureReason != want {
		a.t.Fatalf("Benchmark %d has failure reason %q, expected %q", runNr, *benchmark.FailureReason, want)
	}
}

// JobDocuments asserts the number of job documents belonging to a
// benchmark and returns them
func (a *Assertions) JobDocuments(ctx context.Context, st store.Store, runNr int64, count int) []*types.Job {
	a.t.Helper()

	jobs, err := st.ListJobsByRunNr(ctx, runNr)
	if err != nil {
		a.t.Fatalf("Failed to list jobs of benchmark %d: %v", runNr, err)
	}

	if len(jobs) != count {
		a.t.Fatalf("Benchmark %d has %d job documents, expected %d", runNr, len(jobs), count)
	}
	return jobs
}

// WorkTree asserts that a user home carries the work directories and the
// named job scripts, all world-readable so scheduler and node agents can
// reach them
func (a *Assertions) WorkTree(home string, identificators ...string) {
	a.t.Helper()

	dirs := paths.ForHome(home, "").Internal
	for _, dir := range []string{dirs.Base, dirs.Jobscripts, dirs.Logs, dirs.Outputs} {
		info, err := os.Stat(dir)
		if err != nil {
			a.t.Fatalf("Work directory %s missing: %v", dir, err)
		}
		if !info.IsDir() {
			a.t.Fatalf("Work path %s is not a directory", dir)
		}
		if perm := info.Mode().Perm(); perm != 0o755 {
			a.t.Fatalf("Work directory %s has mode %04o, expected 0755", dir, perm)
		}
	}

	for _, identificator := range identificators {
		script := filepath.Join(dirs.Jobscripts, identificator+".sh")
		info, err := os.Stat(script)
		if err != nil {
			a.t.Fatalf("Jobscript %s missing: %v", script, err)
		}
		if perm := info.Mode().Perm(); perm != 0o755 {
			a.t.Fatalf("Jobscript %s has mode %04o, expected 0755", script, perm)
		}
	}
}

// OutputContains asserts that the harvested standard output of a job
// contains a substring
func (a *Assertions) OutputContains(ctx context.Context, st store.Store, jobID int64, substring string) {
	a.t.Helper()

	output, err := st.GetOutput(ctx, jobID)
	if err != nil {
		a.t.Fatalf("Failed to get output of job %d: %v", jobID, err)
	}

	if output.StandardOutput == nil {
		a.t.Fatalf("Output of job %d has no standard output, expected it to contain %q", jobID, substring)
	}
	if !strings.Contains(*output.StandardOutput, substring) {
		a.t.Fatalf("Output of job %d does not contain %q: %q", jobID, substring, *output.StandardOutput)
	}
}

// Eventually repeatedly runs a condition until it returns true or timeout occurs
func (a *Assertions) Eventually(condition func() bool, timeout, interval time.Duration, msg string) {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("Timeout waiting for condition: %s (timeout: %v)", msg, timeout)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// EventuallyWithContext is like Eventually but uses a provided context
func (a *Assertions) EventuallyWithContext(ctx context.Context, condition func() bool, interval time.Duration, msg string) {
	a.t.Helper()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.t.Fatalf("Context cancelled waiting for condition: %s (error: %v)", msg, ctx.Err())
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// NoError asserts that the error is nil
func (a *Assertions) NoError(err error, msg string) {
	a.t.Helper()

	if err != nil {
		a.t.Fatalf("%s: %v", msg, err)
	}
}

// Error asserts that the error is not nil
func (a *Assertions) Error(err error, msg string) {
	a.t.Helper()

	if err == nil {
		a.t.Fatalf("%s: expected error but got nil", msg)
	}
}

// Equal asserts that two values are equal
func (a *Assertions) Equal(expected, actual interface{}, msg string) {
	a.t.Helper()

	if expected != actual {
		a.t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// NotEqual asserts that two values are not equal
func (a *Assertions) NotEqual(expected, actual interface{}, msg string) {
	a.t.Helper()

	if expected == actual {
		a.t.Fatalf("%s: expected values to be different, but both are %v", msg, expected)
	}
}

// True asserts that a condition is true
func (a *Assertions) True(condition bool, msg string) {
	a.t.Helper()

	if !condition {
		a.t.Fatalf("%s: expected true, got false", msg)
	}
}

// False asserts that a condition is false
func (a *Assertions) False(condition bool, msg string) {
	a.t.Helper()

	if condition {
		a.t.Fatalf("%s: expected false, got true", msg)
	}
}

// Contains asserts that a string contains a substring
func (a *Assertions) Contains(haystack, needle, msg string) {
	a.t.Helper()

	if !strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q to contain %q", msg, haystack, needle)
	}
}

// NotContains asserts that a string does not contain a substring
func (a *Assertions) NotContains(haystack, needle, msg string) {
	a.t.Helper()

	if strings.Contains(haystack, needle) {
		a.t.Fatalf("%s: expected %q not to contain %q", msg, haystack, needle)
	}
}

// Nil asserts that a value is nil
func (a *Assertions) Nil(obj interface{}, msg string) {
	a.t.Helper()

	if obj != nil {
		a.t.Fatalf("%s: expected nil, got %v", msg, obj)
	}
}

// NotNil asserts that a value is not nil
func (a *Assertions) NotNil(obj interface{}, msg string) {
	a.t.Helper()

	if obj == nil {
		a.t.Fatalf("%s: expected non-nil value", msg)
	}
}

// Logf logs a formatted message (non-failing)
func (a *Assertions) Logf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Logf(format, args...)
}

// Step logs a test step (for visibility in test output)
func (a *Assertions) Step(step string) {
	a.t.Helper()
	a.t.Logf("\n==> %s", step)
}

// Errorf logs an error and fails the test
func (a *Assertions) Errorf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Errorf(format, args...)
}

// Fatalf logs a fatal error and stops the test immediately
func (a *Assertions) Fatalf(format string, args ...interface{}) {
	a.t.Helper()
	a.t.Fatalf(format, args...)
}
