package processing

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/metrics"
)

// Runner processes one benchmark to completion.
type Runner interface {
	Watch(ctx context.Context, runNr int64)
}

// Supervisor starts at most one watcher per benchmark for the lifetime of
// the process and tracks them for shutdown. Re-dispatch after a restart is
// safe: watchers are idempotent over already-harvested data.
type Supervisor struct {
	runner Runner
	log    zerolog.Logger

	mu      sync.Mutex
	started map[int64]bool
	wg      sync.WaitGroup
}

// NewSupervisor creates a Supervisor dispatching onto the given runner.
func NewSupervisor(runner Runner) *Supervisor {
	return &Supervisor{
		runner:  runner,
		started: make(map[int64]bool),
		log:     log.WithComponent("processing"),
	}
}

// Dispatch starts a watcher for the benchmark unless one was already
// started. Reports whether a new watcher was launched.
func (s *Supervisor) Dispatch(ctx context.Context, runNr int64) bool {
	s.mu.Lock()
	if s.started[runNr] {
		s.mu.Unlock()
		return false
	}
	s.started[runNr] = true
	s.mu.Unlock()

	s.log.Debug().Int64("run_nr", runNr).Msg("Starting watcher")
	metrics.WatchersActive.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer metrics.WatchersActive.Dec()
		s.runner.Watch(ctx, runNr)
	}()
	return true
}

// Wait blocks until every dispatched watcher has returned. Callers cancel
// the dispatch context first.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
