package processing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// spyRunner counts Watch invocations per run number.
type spyRunner struct {
	mu    sync.Mutex
	calls map[int64]int
}

func (r *spyRunner) Watch(_ context.Context, runNr int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[int64]int)
	}
	r.calls[runNr]++
}

func (r *spyRunner) count(runNr int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[runNr]
}

func TestSupervisorDispatchesOncePerBenchmark(t *testing.T) {
	runner := &spyRunner{}
	s := NewSupervisor(runner)
	ctx := context.Background()

	assert.True(t, s.Dispatch(ctx, 7))
	assert.False(t, s.Dispatch(ctx, 7), "second dispatch for the same benchmark is a no-op")
	assert.True(t, s.Dispatch(ctx, 8))
	s.Wait()

	assert.Equal(t, 1, runner.count(7))
	assert.Equal(t, 1, runner.count(8))
}

func TestSupervisorConcurrentDispatch(t *testing.T) {
	runner := &spyRunner{}
	s := NewSupervisor(runner)
	ctx := context.Background()

	var wg sync.WaitGroup
	started := 0
	var mu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Dispatch(ctx, 42) {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Wait()

	assert.Equal(t, 1, started, "exactly one dispatch wins")
	assert.Equal(t, 1, runner.count(42))
}

func TestSupervisorWaitWithoutDispatch(t *testing.T) {
	s := NewSupervisor(&spyRunner{})
	s.Wait()
}
