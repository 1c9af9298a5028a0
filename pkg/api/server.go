package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/megware/xbatctld/api/rpc"
	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/metrics"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

const (
	// drainTimeout bounds how long Stop waits for in-flight RPCs.
	drainTimeout = 5 * time.Second

	// submitSetupReason is stored on a benchmark whose issuer could not be
	// resolved to a cluster account before submission even started.
	submitSetupReason = "Submission failed due to an internal error - please contact administrator"
)

// Scheduler is the queue surface the RPC layer exposes to clients.
type Scheduler interface {
	Jobs(ctx context.Context) map[int64]*types.SlurmJob
	Nodes(ctx context.Context) map[string]types.SlurmNode
	Partitions(ctx context.Context) map[string][]string
	Cancel(ctx context.Context, ids []int64) error
}

// UserResolver looks up cluster accounts by name.
type UserResolver interface {
	Resolve(ctx context.Context, username string) (*types.UserProfile, error)
}

// SubmitRunner executes the submission pipeline for an accepted benchmark.
type SubmitRunner interface {
	Run(ctx context.Context, runNr int64, user *types.UserProfile)
}

// Purger removes measurement rows that no longer belong to any job document.
type Purger interface {
	Purge(ctx context.Context) error
}

// Options carries the server dependencies.
type Options struct {
	Store     store.Store
	Scheduler Scheduler
	Users     UserResolver
	Submitter SubmitRunner

	// Purger may be nil when no time-series store is configured; the purge
	// RPC then reports Unavailable.
	Purger Purger

	// CLIMonitorInterval is the sampling interval (seconds) handed to node
	// agents of jobs without a configured one.
	CLIMonitorInterval int
}

// Server implements the controller RPC service.
type Server struct {
	store     store.Store
	scheduler Scheduler
	users     UserResolver
	submitter SubmitRunner
	purger    Purger

	cliInterval int

	grpc *grpc.Server

	// baseCtx outlives individual RPCs so that work spawned by a handler is
	// cancelled by daemon shutdown, not by the caller hanging up.
	baseCtx context.Context
	tasks   sync.WaitGroup

	now func() time.Time
	log zerolog.Logger
}

// NewServer creates the RPC server. ctx is the daemon context handed to
// asynchronous submission and purge tasks.
func NewServer(ctx context.Context, opts Options) *Server {
	s := &Server{
		store:       opts.Store,
		scheduler:   opts.Scheduler,
		users:       opts.Users,
		submitter:   opts.Submitter,
		purger:      opts.Purger,
		cliInterval: opts.CLIMonitorInterval,
		baseCtx:     ctx,
		now:         time.Now,
		log:         log.WithComponent("api"),
	}
	s.grpc = grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Hour,
			Timeout: 20 * time.Second,
		}),
		grpc.UnaryInterceptor(UnaryInterceptor(s.log)),
	)
	rpc.RegisterControllerServer(s.grpc, s)
	return s
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves connections from lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("RPC server listening")
	return s.grpc.Serve(lis)
}

// Stop drains in-flight RPCs, forces the server down once the drain timeout
// expires, and waits for spawned submission and purge tasks to return.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.log.Warn().Msg("Drain timeout expired, forcing RPC server down")
		s.grpc.Stop()
	}
	s.tasks.Wait()
}

// spawn runs fn on the daemon context, tracked for shutdown.
func (s *Server) spawn(fn func(ctx context.Context)) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn(s.baseCtx)
	}()
}

// SubmitBenchmark snapshots the named configuration into a new benchmark
// document and responds with its run number. Submission itself proceeds
// asynchronously; failures past this point are recorded on the benchmark
// rather than returned to the caller.
func (s *Server) SubmitBenchmark(ctx context.Context, req *rpc.SubmitBenchmarkRequest) (*rpc.SubmitBenchmarkResponse, error) {
	if req.Issuer == "" {
		return nil, status.Error(codes.InvalidArgument, "issuer is required")
	}
	if req.ConfigID == "" {
		return nil, status.Error(codes.InvalidArgument, "configId is required")
	}

	configuration, err := s.store.GetConfiguration(ctx, req.ConfigID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Errorf(codes.InvalidArgument, "unknown configuration %q", req.ConfigID)
		}
		return nil, status.Errorf(codes.Internal, "failed to load configuration: %v", err)
	}

	benchmark := &types.Benchmark{
		Name:           types.StrPtr(req.Name),
		Issuer:         types.StrPtr(req.Issuer),
		State:          types.BenchmarkStatePending,
		JobIDs:         []int64{},
		Variables:      req.Variables,
		SharedProjects: req.SharedProjects,
		Configuration:  configuration,
	}
	if err := s.store.CreateBenchmark(ctx, benchmark); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to create benchmark: %v", err)
	}
	metrics.BenchmarksSubmittedTotal.Inc()

	runNr := benchmark.RunNr
	issuer := req.Issuer
	s.log.Info().Int64("run_nr", runNr).Str("issuer", issuer).Msg("Benchmark accepted")

	s.spawn(func(ctx context.Context) {
		user, err := s.users.Resolve(ctx, issuer)
		if err != nil || !user.Valid() {
			s.log.Error().Err(err).Int64("run_nr", runNr).Str("issuer", issuer).
				Msg("Could not resolve issuer account")
			s.markFailed(ctx, runNr, submitSetupReason)
			return
		}
		s.submitter.Run(ctx, runNr, user)
	})

	return &rpc.SubmitBenchmarkResponse{RunNr: runNr}, nil
}

// GetNodes returns the scheduler's node inventory.
func (s *Server) GetNodes(ctx context.Context, _ *rpc.Empty) (*rpc.GetNodesResponse, error) {
	return &rpc.GetNodesResponse{Nodes: s.scheduler.Nodes(ctx)}, nil
}

// GetJobs returns the scheduler's job view, including recently evicted jobs
// still held in the cache.
func (s *Server) GetJobs(ctx context.Context, _ *rpc.Empty) (*rpc.GetJobsResponse, error) {
	return &rpc.GetJobsResponse{Jobs: s.scheduler.Jobs(ctx)}, nil
}

// GetPartitions returns the partition to node-list mapping.
func (s *Server) GetPartitions(ctx context.Context, _ *rpc.Empty) (*rpc.GetPartitionsResponse, error) {
	return &rpc.GetPartitionsResponse{Partitions: s.scheduler.Partitions(ctx)}, nil
}

// CancelJobs cancels the given scheduler jobs. The state change is picked up
// by the per-benchmark watchers; no document is touched here.
func (s *Server) CancelJobs(ctx context.Context, req *rpc.CancelJobsRequest) (*rpc.CancelJobsResponse, error) {
	if len(req.JobIDs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no job ids given")
	}
	if err := s.scheduler.Cancel(ctx, req.JobIDs); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to cancel jobs: %v", err)
	}
	s.log.Info().Ints64("job_ids", req.JobIDs).Msg("Cancelled jobs")
	return &rpc.CancelJobsResponse{}, nil
}

// GetUserInfo resolves a cluster account.
func (s *Server) GetUserInfo(ctx context.Context, req *rpc.GetUserInfoRequest) (*rpc.GetUserInfoResponse, error) {
	if req.Username == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}
	user, err := s.users.Resolve(ctx, req.Username)
	if err != nil || !user.Valid() {
		return nil, status.Errorf(codes.NotFound, "unknown user %q", req.Username)
	}
	return &rpc.GetUserInfoResponse{User: *user}, nil
}

// PurgeQuestDB starts a purge of orphaned measurement rows and responds
// immediately; progress is visible in the logs only.
func (s *Server) PurgeQuestDB(ctx context.Context, _ *rpc.Empty) (*rpc.PurgeQuestDBResponse, error) {
	if s.purger == nil {
		return nil, status.Error(codes.Unavailable, "time-series store not configured")
	}
	s.spawn(func(ctx context.Context) {
		if err := s.purger.Purge(ctx); err != nil {
			s.log.Error().Err(err).Msg("Purge of time-series store failed")
		}
	})
	return &rpc.PurgeQuestDBResponse{}, nil
}

// markFailed stores a terminal failed state with a user-facing reason.
func (s *Server) markFailed(ctx context.Context, runNr int64, reason string) {
	err := s.store.UpdateBenchmark(ctx, runNr, map[string]any{
		"state":         types.BenchmarkStateFailed,
		"failureReason": reason,
	})
	if err != nil {
		s.log.Error().Err(err).Int64("run_nr", runNr).Msg("Could not persist failure state")
	}
}
