package framework

import (
	"context"

	"github.com/megware/xbatctld/api/rpc"
	"github.com/megware/xbatctld/pkg/types"
)

// Client wraps the controller client with test-friendly methods
type Client struct {
	*rpc.ControllerClient
}

// NewClient creates a new test client wrapper
func NewClient(c *rpc.ControllerClient) *Client {
	return &Client{ControllerClient: c}
}

// Submit creates a benchmark from a stored configuration and returns the
// assigned run number. Job submission continues asynchronously.
func (c *Client) Submit(ctx context.Context, issuer, name, configID string, variables ...types.ConfigVariable) (int64, error) {
	resp, err := c.SubmitBenchmark(ctx, &rpc.SubmitBenchmarkRequest{
		Issuer:    issuer,
		Name:      name,
		ConfigID:  configID,
		Variables: variables,
	})
	if err != nil {
		return 0, err
	}
	return resp.RunNr, nil
}

// Register announces a job start from a compute node, the way the node
// agent does.
func (c *Client) Register(ctx context.Context, jobID int64, hostname, hash string) (*rpc.RegisterJobResponse, error) {
	return c.RegisterJob(ctx, &rpc.RegisterJobRequest{
		JobID:    jobID,
		Hostname: hostname,
		Hash:     hash,
	})
}

// Cancel cancels the given scheduler jobs.
func (c *Client) Cancel(ctx context.Context, ids ...int64) error {
	_, err := c.CancelJobs(ctx, &rpc.CancelJobsRequest{JobIDs: ids})
	return err
}

// Jobs returns the controller's queue view.
func (c *Client) Jobs(ctx context.Context) (map[int64]*types.SlurmJob, error) {
	resp, err := c.GetJobs(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Nodes returns the controller's node view.
func (c *Client) Nodes(ctx context.Context) (map[string]types.SlurmNode, error) {
	resp, err := c.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// Partitions returns the partition membership map.
func (c *Client) Partitions(ctx context.Context) (map[string][]string, error) {
	resp, err := c.GetPartitions(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Partitions, nil
}

// UserInfo resolves a username to its host identity.
func (c *Client) UserInfo(ctx context.Context, username string) (*types.UserProfile, error) {
	resp, err := c.GetUserInfo(ctx, &rpc.GetUserInfoRequest{Username: username})
	if err != nil {
		return nil, err
	}
	return &resp.User, nil
}
