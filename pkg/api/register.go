package api

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/megware/xbatctld/api/rpc"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

// benchmarkWindow is how long a requested node calibration may run before a
// later registration is allowed to request it again.
const benchmarkWindow = 15 * 60 // seconds

// RegisterJob is called by the node agent when a job starts on a node. It
// records the node under the job document, decides whether the node needs a
// calibration run, and returns the monitoring settings the agent should use.
//
// A job id the controller has never seen belongs to a run started outside the
// controller (sbatch on the command line); it gets a synthetic benchmark and
// job document so the registration loop picks it up like any other run.
func (s *Server) RegisterJob(ctx context.Context, req *rpc.RegisterJobRequest) (*rpc.RegisterJobResponse, error) {
	if req.JobID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "jobId is required")
	}
	if req.Hostname == "" || req.Hash == "" {
		return nil, status.Error(codes.InvalidArgument, "hostname and hash are required")
	}

	node := types.JobNode{Hash: req.Hash, Hostname: req.Hostname}

	job, err := s.store.GetJob(ctx, req.JobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		job, err = s.createCLIJob(ctx, req.JobID, node)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to register job: %v", err)
		}
	case err != nil:
		return nil, status.Errorf(codes.Internal, "failed to load job: %v", err)
	default:
		if err := s.store.SetJobNode(ctx, req.JobID, node); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to record job node: %v", err)
		}
	}

	required, err := s.calibrationRequired(ctx, req.Hash)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to check node profile: %v", err)
	}

	settings := s.monitoringSettings(job)
	s.log.Info().Int64("job_id", req.JobID).Str("node", req.Hostname).
		Bool("benchmark_required", required).Msg("Node registered")

	return &rpc.RegisterJobResponse{
		JobID:             req.JobID,
		Interval:          settings.Interval,
		EnableMonitoring:  settings.EnableMonitoring,
		EnableLikwid:      settings.EnableLikwid,
		BenchmarkRequired: required,
	}, nil
}

// createCLIJob records a benchmark and job document for a run the controller
// did not submit. Issuer and name stay unset until the watcher backfills them
// from the queue.
func (s *Server) createCLIJob(ctx context.Context, jobID int64, node types.JobNode) (*types.Job, error) {
	benchmark := &types.Benchmark{
		State:  types.BenchmarkStateRunning,
		CLI:    true,
		JobIDs: []int64{jobID},
	}
	if err := s.store.CreateBenchmark(ctx, benchmark); err != nil {
		return nil, fmt.Errorf("failed to create benchmark: %w", err)
	}

	job := &types.Job{
		RunNr:         benchmark.RunNr,
		JobID:         jobID,
		Identificator: fmt.Sprintf("%d-0-0", benchmark.RunNr),
		CLI:           true,
		Nodes:         map[string]types.JobNode{node.Hostname: node},
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.log.Info().Int64("run_nr", benchmark.RunNr).Int64("job_id", jobID).
		Msg("Created benchmark for externally submitted job")
	return job, nil
}

// calibrationRequired decides whether the registering node has to run the
// calibration micro-benchmarks. A node without a profile always does; a node
// with an incomplete profile repeats them once the previous request has aged
// out of the benchmark window. Complete profiles are kept until deleted.
func (s *Server) calibrationRequired(ctx context.Context, hash string) (bool, error) {
	profile, err := s.store.GetNodeProfile(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		profile = &types.NodeProfile{Hash: hash, LastUpdate: s.now().Unix()}
		if err := s.store.CreateNodeProfile(ctx, profile); err != nil {
			return false, fmt.Errorf("failed to create node profile: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if profile.CalibrationComplete() {
		return false, nil
	}
	if s.now().Unix()-profile.LastUpdate <= benchmarkWindow {
		// A calibration requested by an earlier registration is presumably
		// still running; do not start a second one on the same node.
		return false, nil
	}
	if err := s.store.TouchNodeProfile(ctx, hash, s.now().Unix()); err != nil {
		return false, fmt.Errorf("failed to refresh node profile: %w", err)
	}
	return true, nil
}

// monitoringSettings derives the agent settings from the job's configuration
// snapshot. CLI jobs have no snapshot and get the controller defaults.
func (s *Server) monitoringSettings(job *types.Job) types.MonitoringSettings {
	settings := types.MonitoringSettings{
		JobID:            job.JobID,
		Interval:         s.cliInterval,
		EnableMonitoring: true,
		EnableLikwid:     true,
	}
	if job.Configuration == nil {
		return settings
	}
	if v, ok := configInt(job.Configuration["interval"]); ok && v > 0 {
		settings.Interval = v
	}
	if v, ok := job.Configuration["enableMonitoring"].(bool); ok {
		settings.EnableMonitoring = v
	}
	if v, ok := job.Configuration["enableLikwid"].(bool); ok {
		settings.EnableLikwid = v
	}
	return settings
}

// configInt coerces numeric snapshot values, which arrive as int, int32,
// int64 or float64 depending on the decoder.
func configInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
