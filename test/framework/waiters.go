package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter tuned for the in-process harness (5s
// timeout, 2ms interval). Watcher and registration passes run on
// millisecond cadences there, so transitions land well inside a second.
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 2*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForBenchmarkState waits for a benchmark to reach the given state.
func (w *Waiter) WaitForBenchmarkState(ctx context.Context, st store.Store, runNr int64, state types.BenchmarkState) error {
	return w.WaitFor(ctx, func() bool {
		benchmark, err := st.GetBenchmark(ctx, runNr)
		if err != nil {
			return false
		}
		return benchmark.State == state
	}, fmt.Sprintf("benchmark %d to reach state %s", runNr, state))
}

// WaitForTerminalState waits for a benchmark to leave the pending/running
// phase and returns it.
func (w *Waiter) WaitForTerminalState(ctx context.Context, st store.Store, runNr int64) (*types.Benchmark, error) {
	var benchmark *types.Benchmark
	err := w.WaitFor(ctx, func() bool {
		b, err := st.GetBenchmark(ctx, runNr)
		if err != nil {
			return false
		}
		if b.State == types.BenchmarkStatePending || b.State == types.BenchmarkStateRunning {
			return false
		}
		benchmark = b
		return true
	}, fmt.Sprintf("benchmark %d to finish", runNr))
	return benchmark, err
}

// WaitForJobIDs waits until the benchmark carries the expected number of
// scheduler job ids and returns them. Submission assigns them
// asynchronously after the RPC acknowledges.
func (w *Waiter) WaitForJobIDs(ctx context.Context, st store.Store, runNr int64, count int) ([]int64, error) {
	var ids []int64
	err := w.WaitFor(ctx, func() bool {
		benchmark, err := st.GetBenchmark(ctx, runNr)
		if err != nil {
			return false
		}
		if len(benchmark.JobIDs) != count {
			return false
		}
		ids = benchmark.JobIDs
		return true
	}, fmt.Sprintf("benchmark %d to carry %d job ids", runNr, count))
	return ids, err
}

// WaitForBenchmarkByJobID waits for a benchmark owning the given job id to
// appear, the way node registration creates one for unknown jobs.
func (w *Waiter) WaitForBenchmarkByJobID(ctx context.Context, st store.Store, jobID int64) (*types.Benchmark, error) {
	var benchmark *types.Benchmark
	err := w.WaitFor(ctx, func() bool {
		matches, err := st.ListBenchmarksByJobIDs(ctx, []int64{jobID})
		if err != nil || len(matches) == 0 {
			return false
		}
		benchmark = matches[0]
		return true
	}, fmt.Sprintf("a benchmark owning job %d", jobID))
	return benchmark, err
}

// WaitForIssuer waits until the benchmark has a non-empty issuer. Console
// runs start without one; the watcher backfills it from the queue view.
func (w *Waiter) WaitForIssuer(ctx context.Context, st store.Store, runNr int64) (*types.Benchmark, error) {
	var benchmark *types.Benchmark
	err := w.WaitFor(ctx, func() bool {
		b, err := st.GetBenchmark(ctx, runNr)
		if err != nil || b.Issuer == nil || *b.Issuer == "" {
			return false
		}
		benchmark = b
		return true
	}, fmt.Sprintf("benchmark %d to have an issuer", runNr))
	return benchmark, err
}

// WaitForOutput waits for the harvested output document of a job.
func (w *Waiter) WaitForOutput(ctx context.Context, st store.Store, jobID int64) (*types.Output, error) {
	var output *types.Output
	err := w.WaitFor(ctx, func() bool {
		o, err := st.GetOutput(ctx, jobID)
		if err != nil {
			return false
		}
		output = o
		return true
	}, fmt.Sprintf("output of job %d", jobID))
	return output, err
}

// WaitForConditionWithRetry waits for a condition with exponential backoff retry
func (w *Waiter) WaitForConditionWithRetry(ctx context.Context, condition func() (bool, error), description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	interval := w.interval
	maxInterval := 10 * time.Second

	for {
		ok, err := condition()
		if err != nil {
			return fmt.Errorf("error checking condition '%s': %w", description, err)
		}

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-time.After(interval):
			// Exponential backoff
			interval = interval * 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
}

// PollUntil polls a condition until it returns true or context is cancelled
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// PollUntilWithError polls a condition that can return an error
func PollUntilWithError(ctx context.Context, interval time.Duration, condition func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Check immediately
	if ok, err := condition(); err != nil {
		return err
	} else if ok {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ok, err := condition(); err != nil {
				return err
			} else if ok {
				return nil
			}
		}
	}
}

// Retry retries an operation with exponential backoff
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, operation func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < attempts; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
				delay = delay * 2
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}
