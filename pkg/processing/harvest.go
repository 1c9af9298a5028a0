package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/megware/xbatctld/pkg/paths"
	"github.com/megware/xbatctld/pkg/types"
)

// harvestJob refreshes one job document from the scheduler view and the
// on-disk artefacts, then collects its output. info is nil when the
// scheduler no longer knows the job.
func (w *Watcher) harvestJob(ctx context.Context, jobID int64, dirs *paths.Directories, info *types.SlurmJob) {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		w.log.Error().Err(err).Int64("job_id", jobID).
			Msg("Could not update job - not found in database")
		return
	}

	if dirs != nil {
		w.applyTimeLog(job, dirs)
	} else {
		applyJobInfoTimes(job, info)
	}

	// The scheduler view changes while the job runs (node list, states,
	// times), so the embedded copy is refreshed on every pass.
	if info != nil {
		job.JobInfo = info
	}

	w.backfillUserJobscript(job, info)

	if err := w.store.ReplaceJob(ctx, job); err != nil {
		w.log.Error().Err(err).Int64("job_id", jobID).Msg("Could not persist job update")
		return
	}

	w.harvestOutput(ctx, job, dirs, info)
}

// applyTimeLog derives runtime and capture span from the epoch marks the
// job script appended to its time log. All six fields are rewritten as a
// group whenever the log exists, so a rerun of a job id cannot leave a
// stale mix.
func (w *Watcher) applyTimeLog(job *types.Job, dirs *paths.Directories) {
	path := filepath.Join(dirs.Internal.Logs, fmt.Sprintf("%d.time.log", job.JobID))
	entries, err := ParseTimeLog(path)
	if err != nil {
		// Not written yet; the job has not started.
		return
	}

	var runtimeSeconds int64
	start, hasStart := entries["start"]
	end, hasEnd := entries["end"]
	if hasStart && hasEnd {
		runtimeSeconds = end - start
	}

	captureStart := entries["captureStart"]
	captureEnd := entries["captureEnd"]
	captureSeconds := captureEnd - captureStart
	if captureSeconds < 0 {
		captureSeconds = 0
	}

	job.Runtime = types.SecondsToClock(runtimeSeconds)
	job.RuntimeSeconds = runtimeSeconds
	job.Capturetime = types.SecondsToClock(captureSeconds)
	job.CapturetimeSeconds = captureSeconds
	job.CaptureStart = nil
	job.CaptureEnd = nil
	if captureStart > 0 {
		t := time.Unix(captureStart, 0).UTC()
		job.CaptureStart = &t
	}
	if captureEnd > 0 {
		t := time.Unix(captureEnd, 0).UTC()
		job.CaptureEnd = &t
	}
}

// applyJobInfoTimes takes start and end from the scheduler view for jobs
// without a work tree. The times are assigned even when absent so a job
// that vanished from the queue does not keep phantom timestamps.
func applyJobInfoTimes(job *types.Job, info *types.SlurmJob) {
	var start, end *time.Time
	if info != nil {
		start = info.StartTime
		end = info.EndTime
	}

	if start != nil && end != nil {
		runtimeSeconds := int64(end.Sub(*start).Seconds())
		job.Runtime = types.SecondsToClock(runtimeSeconds)
		job.RuntimeSeconds = runtimeSeconds
	}

	job.StartTime = start
	job.EndTime = end
}

// backfillUserJobscript reads the submitted script for jobs that carry none
// (CLI registrations), from the scheduler-reported command path under the
// home mount. Retried every pass until a read succeeds.
func (w *Watcher) backfillUserJobscript(job *types.Job, info *types.SlurmJob) {
	if job.UserJobscriptFile != nil && *job.UserJobscriptFile != "" {
		return
	}
	if info == nil || info.Command == "" {
		return
	}

	data, err := os.ReadFile(paths.Internal(info.Command, w.mountPrefix))
	if err != nil {
		return
	}
	job.UserJobscriptFile = types.StrPtr(string(data))
}

// harvestOutput collects stdout/stderr for one job. Submitted jobs write
// both streams into one file under the issuer's output tree; that file is
// stored as stdout only. CLI jobs are read from the scheduler-reported
// locations, stderr only when it points somewhere else than stdout.
func (w *Watcher) harvestOutput(ctx context.Context, job *types.Job, dirs *paths.Directories, info *types.SlurmJob) {
	var stdout, stderr *string

	if dirs != nil {
		path := filepath.Join(dirs.Internal.Outputs, fmt.Sprintf("%d.out", job.JobID))
		data, err := os.ReadFile(path)
		if err != nil {
			// No output yet; keep any previous record untouched.
			return
		}
		stdout = types.StrPtr(string(data))
	} else if info != nil {
		if info.StandardOutput != "" {
			if data, err := os.ReadFile(paths.Internal(info.StandardOutput, w.mountPrefix)); err == nil {
				stdout = types.StrPtr(string(data))
			}
		}
		if info.StandardError != "" && info.StandardError != info.StandardOutput {
			if data, err := os.ReadFile(paths.Internal(info.StandardError, w.mountPrefix)); err == nil {
				stderr = types.StrPtr(string(data))
			}
		}
	}

	output := &types.Output{
		RunNr:          job.RunNr,
		JobID:          job.JobID,
		StandardOutput: stdout,
		StandardError:  stderr,
		LastUpdate:     w.now().UTC(),
	}
	if err := w.store.UpsertOutput(ctx, output); err != nil {
		w.log.Error().Err(err).Int64("job_id", job.JobID).Msg("Could not persist job output")
	}
}
