// Package registration matches scheduler queue jobs to stored benchmarks
// and hands every match to the watcher supervisor.
package registration

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

// QueueTimeout is the delay between queue scans.
const QueueTimeout = 5 * time.Second

// Scheduler is the queue view the loop scans.
type Scheduler interface {
	Jobs(ctx context.Context) map[int64]*types.SlurmJob
}

// Dispatcher starts a watcher for a benchmark run, reporting whether this
// call started it. Repeat dispatches for the same run number must return
// false.
type Dispatcher interface {
	Dispatch(ctx context.Context, runNr int64) bool
}

// Loop is the singleton that binds scheduler jobs to their benchmarks. It
// periodically matches the queue view against the document store and hands
// every matched benchmark to the dispatcher; the dispatcher deduplicates, so
// a benchmark whose jobs linger in the queue view is started at most once.
//
// Benchmarks created by node registration (CLI runs) enter the system here
// exactly like submitted ones.
type Loop struct {
	store      store.Store
	scheduler  Scheduler
	dispatcher Dispatcher

	interval time.Duration
	stopCh   chan struct{}
	done     chan struct{}
	log      zerolog.Logger
}

// New creates the registration loop.
func New(st store.Store, scheduler Scheduler, dispatcher Dispatcher) *Loop {
	return &Loop{
		store:      st,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		interval:   QueueTimeout,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		log:        log.WithComponent("registration"),
	}
}

// SetInterval overrides the scan cadence, for simulated queues. Must be
// called before Start.
func (l *Loop) SetInterval(interval time.Duration) {
	l.interval = interval
}

// Start begins scanning in the background until Stop is called or ctx is
// cancelled.
func (l *Loop) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop terminates the loop and waits for the current scan to finish.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.scan(ctx)
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// scan runs one matching pass. Store errors are logged and retried on the
// next tick; a missed pass only delays watcher start-up.
func (l *Loop) scan(ctx context.Context) {
	jobs := l.scheduler.Jobs(ctx)
	if len(jobs) == 0 {
		return
	}

	ids := make([]int64, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}

	benchmarks, err := l.store.ListBenchmarksByJobIDs(ctx, ids)
	if err != nil {
		l.log.Error().Err(err).Msg("Could not match queue against benchmarks")
		return
	}

	for _, benchmark := range benchmarks {
		if l.dispatcher.Dispatch(ctx, benchmark.RunNr) {
			l.log.Info().Int64("run_nr", benchmark.RunNr).
				Msg("Started watcher for benchmark")
		}
	}
}
