package store

import (
	"context"
	"errors"

	"github.com/megware/xbatctld/pkg/types"
)

// Collection names in the document store. The controller only writes a
// subset; the rest belong to the REST front-end and are reachable through
// the generic helpers on Mongo.
const (
	CollectionBenchmarks           = "benchmarks"
	CollectionJobs                 = "jobs"
	CollectionOutputs              = "outputs"
	CollectionNodes                = "nodes"
	CollectionUsers                = "users"
	CollectionProjects             = "projects"
	CollectionConfigurations       = "configurations"
	CollectionConfigurationFolders = "configuration_folders"
	CollectionTokens               = "tokens"
	CollectionClients              = "clients"
	CollectionSettings             = "settings"
	CollectionMisc                 = "misc"
	CollectionReservedJobIDs       = "reserved_jobIds"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Store defines the typed document-store surface used by the controller.
// Implemented by Mongo for deployments and Memory for tests and demo mode.
type Store interface {
	// Benchmarks. CreateBenchmark allocates the run number and assigns it
	// to the passed benchmark. UpdateBenchmark applies a partial update
	// with set semantics so concurrent writers with disjoint field sets
	// do not clobber each other.
	CreateBenchmark(ctx context.Context, benchmark *types.Benchmark) error
	GetBenchmark(ctx context.Context, runNr int64) (*types.Benchmark, error)
	ListBenchmarksByJobIDs(ctx context.Context, jobIDs []int64) ([]*types.Benchmark, error)
	UpdateBenchmark(ctx context.Context, runNr int64, fields map[string]any) error

	// Jobs. ReplaceJob overwrites the whole document and is reserved for
	// the harvester, which works on a freshly read copy; SetJobNode
	// touches only the node map so it can race with harvest safely.
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, jobID int64) (*types.Job, error)
	ListJobsByRunNr(ctx context.Context, runNr int64) ([]*types.Job, error)
	ListJobIDs(ctx context.Context) ([]int64, error)
	ReplaceJob(ctx context.Context, job *types.Job) error
	SetJobNode(ctx context.Context, jobID int64, node types.JobNode) error

	// Outputs
	UpsertOutput(ctx context.Context, output *types.Output) error
	GetOutput(ctx context.Context, jobID int64) (*types.Output, error)

	// Node profiles, keyed by the agent-reported hardware hash.
	GetNodeProfile(ctx context.Context, hash string) (*types.NodeProfile, error)
	CreateNodeProfile(ctx context.Context, profile *types.NodeProfile) error
	TouchNodeProfile(ctx context.Context, hash string, lastUpdate int64) error

	// Configurations (owned by the REST front-end, read for snapshots).
	GetConfiguration(ctx context.Context, id string) (map[string]any, error)

	// User profiles (owned by the REST front-end's directory sync, read
	// for submission and result processing).
	GetUserProfile(ctx context.Context, username string) (*types.UserProfile, error)

	// Job-id allocator: gap-filling with crash-safe reservations.
	NextJobID(ctx context.Context) (int64, error)
	ReleaseReservedJobIDs(ctx context.Context, jobIDs []int64) error

	// Aggregates exported by the metrics collector.
	BenchmarkStateCounts(ctx context.Context) (map[string]int64, error)
	JobCount(ctx context.Context) (int64, error)

	// Utility
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
