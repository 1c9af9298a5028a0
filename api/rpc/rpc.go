package rpc

import (
	"github.com/megware/xbatctld/pkg/types"
)

// Empty is the request message of parameterless operations.
type Empty struct{}

// SubmitBenchmarkRequest asks the controller to create and submit a new
// benchmark from a stored configuration.
type SubmitBenchmarkRequest struct {
	Issuer         string                 `json:"issuer"`
	Name           string                 `json:"name"`
	ConfigID       string                 `json:"configId"`
	Variables      []types.ConfigVariable `json:"variables"`
	SharedProjects []string               `json:"sharedProjects"`
}

// SubmitBenchmarkResponse acknowledges a submission. Job submission runs
// asynchronously; the run number is all a caller needs to observe progress.
type SubmitBenchmarkResponse struct {
	RunNr int64 `json:"runNr"`
}

// GetNodesResponse carries the scheduler's node view, keyed by hostname.
type GetNodesResponse struct {
	Nodes map[string]types.SlurmNode `json:"nodes"`
}

// GetJobsResponse carries the scheduler's queue view, keyed by job id.
type GetJobsResponse struct {
	Jobs map[int64]*types.SlurmJob `json:"jobs"`
}

// GetPartitionsResponse maps partition names to their member hostnames.
type GetPartitionsResponse struct {
	Partitions map[string][]string `json:"partitions"`
}

// CancelJobsRequest names the scheduler jobs to cancel.
type CancelJobsRequest struct {
	JobIDs []int64 `json:"jobIds"`
}

// CancelJobsResponse acknowledges a cancellation request.
type CancelJobsResponse struct{}

// GetUserInfoRequest asks for the host identity of a user.
type GetUserInfoRequest struct {
	Username string `json:"username"`
}

// GetUserInfoResponse carries the resolved host identity.
type GetUserInfoResponse struct {
	User types.UserProfile `json:"user"`
}

// RegisterJobRequest is sent by the node agent when a job starts on a
// compute node. Hash identifies the node's hardware fingerprint.
type RegisterJobRequest struct {
	JobID    int64  `json:"jobId"`
	Hostname string `json:"hostname"`
	Hash     string `json:"hash"`
}

// RegisterJobResponse tells the node agent how to monitor the job and
// whether node calibration has to run first.
type RegisterJobResponse struct {
	JobID             int64 `json:"jobId"`
	Interval          int   `json:"interval"`
	EnableMonitoring  bool  `json:"enableMonitoring"`
	EnableLikwid      bool  `json:"enableLikwid"`
	BenchmarkRequired bool  `json:"benchmarkRequired"`
}

// PurgeQuestDBResponse acknowledges that the purge task was started.
type PurgeQuestDBResponse struct{}
