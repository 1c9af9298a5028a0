// Package submitter turns a pending benchmark into scheduler jobs. It
// prepares the per-user work tree, renders and writes the job scripts for
// every permutation, dispatches them through the scheduler and records the
// outcome on the benchmark. Submission runs asynchronously; the benchmark
// is created and acknowledged before the first job reaches the scheduler.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/metrics"
	"github.com/megware/xbatctld/pkg/paths"
	"github.com/megware/xbatctld/pkg/permutation"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

// Failure reasons persisted on the benchmark record. These are user-facing;
// internal error details stay in the logs.
const (
	setupFailedReason      = "Submission failed due to an internal error - please contact administrator"
	submissionFailedReason = "Submission of job failed - this may be caused by an invalid configuration or an internal error"
	noJobsReason           = "No jobs were submitted"
)

// Permissions for the per-user work tree and the job scripts placed in it.
// The scheduler reads both as the issuer, the node agents read outputs as
// root, so group/other read is required.
const (
	directoryPermissions = os.FileMode(0o755)
	jobscriptPermissions = os.FileMode(0o755)
)

// SetupError aborts a submission before or while jobs reach the scheduler
// and carries the user-facing reason stored on the failed benchmark.
type SetupError struct {
	Msg string
	Err error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *SetupError) Unwrap() error { return e.Err }

// Scheduler is the submission surface of the scheduler adapter.
type Scheduler interface {
	Submit(ctx context.Context, username, jobscriptPath, homeDir string,
		configuration map[string]any, variables map[string]string) (int64, error)
}

// OwnershipChecker verifies that a directory belongs to a user.
type OwnershipChecker interface {
	DirOwnedByUser(ctx context.Context, path, username string, uid, gid int64) bool
}

// Submitter submits benchmarks to the scheduler.
type Submitter struct {
	store       store.Store
	scheduler   Scheduler
	users       OwnershipChecker
	mountPrefix string
	log         zerolog.Logger
}

// New creates a Submitter. mountPrefix is where user home trees are mounted
// inside the controller container; filesystem work happens below it while
// scheduler command lines use the plain host paths.
func New(st store.Store, scheduler Scheduler, users OwnershipChecker, mountPrefix string) *Submitter {
	return &Submitter{
		store:       st,
		scheduler:   scheduler,
		users:       users,
		mountPrefix: mountPrefix,
		log:         log.WithComponent("submitter"),
	}
}

// Run executes the asynchronous part of a submission and persists the
// outcome: state running with the assigned job ids, or state failed with a
// user-facing reason. Individual rejected jobs do not fail the benchmark;
// an empty submission does.
func (s *Submitter) Run(ctx context.Context, runNr int64, user *types.UserProfile) {
	jobIDs, err := s.submit(ctx, runNr, user)

	switch {
	case err != nil:
		s.log.Error().Err(err).Int64("run_nr", runNr).Msg("Submission failed")
		reason := submissionFailedReason
		var setupErr *SetupError
		if errors.As(err, &setupErr) {
			reason = setupErr.Msg
		}
		s.markFailed(ctx, runNr, reason)

	case len(jobIDs) == 0:
		s.log.Warn().Int64("run_nr", runNr).Msg("No jobs submitted for benchmark")
		s.markFailed(ctx, runNr, noJobsReason)

	default:
		s.log.Debug().Int64("run_nr", runNr).Ints64("job_ids", jobIDs).
			Msg("Submitted benchmark")
		err := s.store.UpdateBenchmark(ctx, runNr, map[string]any{
			"jobIds": jobIDs,
			"state":  types.BenchmarkStateRunning,
		})
		if err != nil {
			s.log.Error().Err(err).Int64("run_nr", runNr).
				Msg("Could not persist submitted state")
		}
	}
}

// submit prepares the work tree, renders all permutations and dispatches
// them. It returns the job ids the scheduler accepted.
func (s *Submitter) submit(ctx context.Context, runNr int64, user *types.UserProfile) ([]int64, error) {
	benchmark, err := s.store.GetBenchmark(ctx, runNr)
	if err != nil {
		return nil, fmt.Errorf("failed to load benchmark %d: %w", runNr, err)
	}

	dirs := paths.ForHome(user.HomeDirectory, s.mountPrefix)

	for _, dir := range dirs.Internal.List() {
		if err := s.ensureDirectory(ctx, dir, user); err != nil {
			return nil, err
		}
	}

	jobs, err := permutation.Expand(benchmark, dirs.External.Outputs, dirs.External.Logs)
	if err != nil {
		return nil, fmt.Errorf("failed to expand permutations: %w", err)
	}

	var jobIDs []int64
	for i := range jobs {
		job := jobs[i]
		scriptName := job.Identificator + ".sh"
		internalPath := filepath.Join(dirs.Internal.Jobscripts, scriptName)
		externalPath := filepath.Join(dirs.External.Jobscripts, scriptName)

		if err := s.writeJobscript(internalPath, *job.JobscriptFile, user); err != nil {
			return jobIDs, err
		}

		configuration, _ := job.Configuration["jobscript"].(map[string]any)
		jobID, err := s.scheduler.Submit(ctx, user.UserName, externalPath,
			user.HomeDirectory, configuration, job.Variables)
		if err != nil {
			// The remaining permutations may still succeed; the caller
			// decides what an incomplete benchmark means.
			s.log.Warn().Err(err).Str("identificator", job.Identificator).
				Msg("Scheduler rejected job")
			continue
		}

		jobIDs = append(jobIDs, jobID)
		metrics.JobsSubmittedTotal.Inc()

		job.JobID = jobID
		if err := s.store.CreateJob(ctx, &job); err != nil {
			s.log.Error().Err(err).Int64("job_id", jobID).
				Msg("Could not insert job document")
			return jobIDs, &SetupError{Msg: setupFailedReason, Err: err}
		}
	}

	return jobIDs, nil
}

// ensureDirectory creates dir if missing and aligns owner and permissions
// with the issuer. Concurrent submissions for the same user may race on
// creation, so an existing directory is not an error.
func (s *Submitter) ensureDirectory(ctx context.Context, dir string, user *types.UserProfile) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Debug().Str("dir", dir).Msg("Creating directory")
		if mkErr := os.Mkdir(dir, directoryPermissions); mkErr != nil && !errors.Is(mkErr, fs.ErrExist) {
			return fmt.Errorf("failed to create directory %s: %w", dir, mkErr)
		}
		if info, err = os.Stat(dir); err != nil {
			return fmt.Errorf("failed to inspect directory %s: %w", dir, err)
		}
	case err != nil:
		return fmt.Errorf("failed to inspect directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("work path %s exists but is not a directory", dir)
	}

	if !s.users.DirOwnedByUser(ctx, dir, user.UserName, user.UID, user.GID) {
		s.log.Debug().Str("dir", dir).Str("user", user.UserName).Msg("Changing directory owner")
		if err := os.Chown(dir, int(user.UID), int(user.GID)); err != nil {
			return fmt.Errorf("failed to change owner of %s: %w", dir, err)
		}
	}

	if info.Mode().Perm() != directoryPermissions {
		s.log.Debug().Str("dir", dir).Msg("Changing directory permissions")
		if err := os.Chmod(dir, directoryPermissions); err != nil {
			return fmt.Errorf("failed to change permissions of %s: %w", dir, err)
		}
	}

	return nil
}

// writeJobscript places a rendered script into the user's work tree,
// executable and owned by the issuer.
func (s *Submitter) writeJobscript(path, content string, user *types.UserProfile) error {
	if err := os.WriteFile(path, []byte(content), jobscriptPermissions); err != nil {
		return fmt.Errorf("failed to write jobscript %s: %w", path, err)
	}
	// WriteFile modes pass through the umask; align explicitly.
	if err := os.Chmod(path, jobscriptPermissions); err != nil {
		return fmt.Errorf("failed to change permissions of %s: %w", path, err)
	}
	if err := os.Chown(path, int(user.UID), int(user.GID)); err != nil {
		return fmt.Errorf("failed to change owner of %s: %w", path, err)
	}
	return nil
}

// markFailed stores a terminal failed state with a user-facing reason.
func (s *Submitter) markFailed(ctx context.Context, runNr int64, reason string) {
	err := s.store.UpdateBenchmark(ctx, runNr, map[string]any{
		"state":         types.BenchmarkStateFailed,
		"failureReason": reason,
	})
	if err != nil {
		s.log.Error().Err(err).Int64("run_nr", runNr).Msg("Could not persist failure state")
	}
}
