// Package processing follows submitted benchmarks through the scheduler.
// One watcher per benchmark polls the queue view, keeps job documents and
// harvested outputs current and derives the final benchmark state; the
// supervisor guarantees at most one watcher per run number.
package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/metrics"
	"github.com/megware/xbatctld/pkg/paths"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

// JobStateInterval is the delay between watch passes. It should not drop
// below the scheduler cache staleness bound, otherwise the minimum
// iteration guard must be adjusted.
const JobStateInterval = 30 * time.Second

// WatchMinIterations is the number of passes every job is observed before
// its absence from the active set counts as completion. Freshly submitted
// jobs can be missing from the queue view for a refresh cycle or two, which
// must not read as an instant finish.
const WatchMinIterations = 3

// processingFailedReason is the user-facing reason stored when processing
// prerequisites are missing. Data-path errors keep their own message.
const processingFailedReason = "Processing of benchmark results failed due to an internal error - please contact administrator"

// errPrerequisites marks failures before the watch loop starts; they map to
// the generic user-facing reason.
var errPrerequisites = errors.New("processing prerequisites not met")

// Scheduler is the queue view the watcher follows.
type Scheduler interface {
	Jobs(ctx context.Context) map[int64]*types.SlurmJob
	ActiveJobs(ctx context.Context) map[int64]*types.SlurmJob
	RefreshJob(ctx context.Context, jobID int64)
}

// Watcher follows the jobs of one benchmark through the scheduler, keeps
// the job documents and outputs current and derives the final benchmark
// state once every job left the queue.
type Watcher struct {
	store       store.Store
	scheduler   Scheduler
	mountPrefix string

	interval      time.Duration
	minIterations int
	now           func() time.Time
	log           zerolog.Logger
}

// NewWatcher creates a Watcher. mountPrefix is where user home trees are
// mounted inside the controller container.
func NewWatcher(st store.Store, scheduler Scheduler, mountPrefix string) *Watcher {
	return &Watcher{
		store:         st,
		scheduler:     scheduler,
		mountPrefix:   mountPrefix,
		interval:      JobStateInterval,
		minIterations: WatchMinIterations,
		now:           time.Now,
		log:           log.WithComponent("processing"),
	}
}

// SetCadence overrides the pass interval and the minimum iteration guard.
// Production runs on the defaults; simulated queues tick much faster. Must
// be called before the first Watch.
func (w *Watcher) SetCadence(interval time.Duration, minIterations int) {
	w.interval = interval
	w.minIterations = minIterations
}

// Watch processes one benchmark to completion. Any error marks the
// benchmark failed with a user-facing reason; a cancelled context leaves it
// untouched so a restarted controller can pick the benchmark up again.
func (w *Watcher) Watch(ctx context.Context, runNr int64) {
	w.log.Debug().Int64("run_nr", runNr).Msg("Processing benchmark")

	err := w.watch(ctx, runNr)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		w.log.Info().Int64("run_nr", runNr).Msg("Watcher stopped before benchmark finished")
		return
	}

	w.log.Error().Err(err).Int64("run_nr", runNr).Msg("Processing of benchmark failed")
	reason := err.Error()
	if errors.Is(err, errPrerequisites) {
		reason = processingFailedReason
	}
	w.markFailed(ctx, runNr, reason)
}

func (w *Watcher) watch(ctx context.Context, runNr int64) error {
	benchmark, err := w.store.GetBenchmark(ctx, runNr)
	if err != nil {
		return fmt.Errorf("%w: failed to load benchmark %d: %v", errPrerequisites, runNr, err)
	}

	// Submitted benchmarks read their artefacts from the issuer's work
	// tree; CLI benchmarks have no known issuer yet and fall back to the
	// scheduler's view entirely.
	var dirs *paths.Directories
	if !benchmark.CLI {
		user, err := w.store.GetUserProfile(ctx, orEmpty(benchmark.Issuer))
		if err != nil {
			return fmt.Errorf("%w: failed to load user profile for benchmark %d: %v", errPrerequisites, runNr, err)
		}
		if !user.Valid() {
			w.log.Error().Str("user", user.UserName).Int64("run_nr", runNr).
				Msg("Retrieving results failed - invalid home directory")
			return fmt.Errorf("%w: invalid home directory for user %q", errPrerequisites, user.UserName)
		}
		d := paths.ForHome(user.HomeDirectory, w.mountPrefix)
		dirs = &d
	}

	// Job info is kept across passes: a job may leave the scheduler's view
	// while later jobs of the same benchmark are still running, and the
	// final state derivation needs every job's last known info.
	jobInfos := make(map[int64]*types.SlurmJob)
	remaining := append([]int64(nil), benchmark.JobIDs...)
	backfillPending := benchmark.CLI

	for iteration := 0; len(remaining) > 0; iteration++ {
		active := w.scheduler.ActiveJobs(ctx)
		infos := w.scheduler.Jobs(ctx)

		keep := remaining[:0]
		for _, jobID := range remaining {
			info := infos[jobID]
			if info != nil {
				jobInfos[jobID] = info

				// CLI benchmarks are registered by the node agent before
				// issuer and name are known; the first scheduler sighting
				// fills them in.
				if backfillPending {
					err := w.store.UpdateBenchmark(ctx, runNr, map[string]any{
						"issuer": info.UserName,
						"name":   info.Name,
					})
					if err != nil {
						w.log.Error().Err(err).Int64("run_nr", runNr).
							Msg("Could not backfill benchmark issuer")
					}
					backfillPending = false
				}
			}

			w.harvestJob(ctx, jobID, dirs, info)

			// Newly submitted jobs can be absent from the queue view for a
			// couple of refreshes; only a job missing after the minimum
			// number of passes counts as finished.
			if _, isActive := active[jobID]; !isActive && iteration >= w.minIterations {
				continue
			}
			keep = append(keep, jobID)
		}
		remaining = keep

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}

	return w.finalize(ctx, benchmark, jobInfos, dirs)
}

// finalize re-reads every job once more through scontrol, reharvests and
// derives the benchmark's terminal state. Very short jobs can pass through
// the queue between two refreshes; the direct read closes that gap.
func (w *Watcher) finalize(ctx context.Context, benchmark *types.Benchmark,
	jobInfos map[int64]*types.SlurmJob, dirs *paths.Directories) error {

	for _, jobID := range benchmark.JobIDs {
		w.scheduler.RefreshJob(ctx, jobID)
	}

	infos := w.scheduler.Jobs(ctx)
	for _, jobID := range benchmark.JobIDs {
		if info, ok := infos[jobID]; ok {
			jobInfos[jobID] = info
			w.harvestJob(ctx, jobID, dirs, info)
		}
	}

	states := make([][]string, 0, len(benchmark.JobIDs))
	for _, jobID := range benchmark.JobIDs {
		if info, ok := jobInfos[jobID]; ok {
			states = append(states, info.JobState)
		}
	}
	state := types.MostCriticalState(states)

	update := map[string]any{
		"state":   state,
		"endTime": w.now().UTC(),
	}

	// CLI benchmarks never went through submission, so their span comes
	// from the scheduler: earliest submission to latest end across jobs.
	if benchmark.CLI && len(jobInfos) > 0 {
		var earliestSubmit, latestEnd *time.Time
		for _, info := range jobInfos {
			if info.SubmitTime != nil && (earliestSubmit == nil || info.SubmitTime.Before(*earliestSubmit)) {
				earliestSubmit = info.SubmitTime
			}
			if info.EndTime != nil && (latestEnd == nil || info.EndTime.After(*latestEnd)) {
				latestEnd = info.EndTime
			}
		}
		update["startTime"] = earliestSubmit
		update["endTime"] = latestEnd
	}

	if err := w.store.UpdateBenchmark(ctx, benchmark.RunNr, update); err != nil {
		return fmt.Errorf("failed to persist final benchmark state: %w", err)
	}

	metrics.BenchmarksFinishedTotal.WithLabelValues(string(state)).Inc()
	w.log.Debug().Int64("run_nr", benchmark.RunNr).Str("state", string(state)).
		Msg("Benchmark finished")
	return nil
}

func (w *Watcher) markFailed(ctx context.Context, runNr int64, reason string) {
	err := w.store.UpdateBenchmark(ctx, runNr, map[string]any{
		"state":         types.BenchmarkStateFailed,
		"failureReason": reason,
	})
	if err != nil {
		w.log.Error().Err(err).Int64("run_nr", runNr).Msg("Could not persist failure state")
		return
	}
	metrics.BenchmarksFinishedTotal.WithLabelValues(string(types.BenchmarkStateFailed)).Inc()
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
