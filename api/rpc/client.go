package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ControllerClient is the typed client of the xbat.Controller service.
type ControllerClient struct {
	cc grpc.ClientConnInterface
}

// NewControllerClient wraps an existing connection. The connection must
// speak the json content subtype (Dial sets this up).
func NewControllerClient(cc grpc.ClientConnInterface) *ControllerClient {
	return &ControllerClient{cc: cc}
}

// Dial connects to a controller at addr. The controller listens inside the
// deployment's private network; transport security is the gateway's job.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to controller at %s: %w", addr, err)
	}
	return conn, nil
}

func (c *ControllerClient) SubmitBenchmark(ctx context.Context, req *SubmitBenchmarkRequest, opts ...grpc.CallOption) (*SubmitBenchmarkResponse, error) {
	out := new(SubmitBenchmarkResponse)
	if err := c.cc.Invoke(ctx, MethodSubmitBenchmark, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControllerClient) GetNodes(ctx context.Context, opts ...grpc.CallOption) (*GetNodesResponse, error) {
	out := new(GetNodesResponse)
	if err := c.cc.Invoke(ctx, MethodGetNodes, &Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControllerClient) GetJobs(ctx context.Context, opts ...grpc.CallOption) (*GetJobsResponse, error) {
	out := new(GetJobsResponse)
	if err := c.cc.Invoke(ctx, MethodGetJobs, &Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControllerClient) GetPartitions(ctx context.Context, opts ...grpc.CallOption) (*GetPartitionsResponse, error) {
	out := new(GetPartitionsResponse)
	if err := c.cc.Invoke(ctx, MethodGetPartitions, &Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControllerClient) CancelJobs(ctx context.Context, req *CancelJobsRequest, opts ...grpc.CallOption) (*CancelJobsResponse, error) {
	out := new(CancelJobsResponse)
	if err := c.cc.Invoke(ctx, MethodCancelJobs, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControllerClient) GetUserInfo(ctx context.Context, req *GetUserInfoRequest, opts ...grpc.CallOption) (*GetUserInfoResponse, error) {
	out := new(GetUserInfoResponse)
	if err := c.cc.Invoke(ctx, MethodGetUserInfo, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControllerClient) RegisterJob(ctx context.Context, req *RegisterJobRequest, opts ...grpc.CallOption) (*RegisterJobResponse, error) {
	out := new(RegisterJobResponse)
	if err := c.cc.Invoke(ctx, MethodRegisterJob, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControllerClient) PurgeQuestDB(ctx context.Context, opts ...grpc.CallOption) (*PurgeQuestDBResponse, error) {
	out := new(PurgeQuestDBResponse)
	if err := c.cc.Invoke(ctx, MethodPurgeQuestDB, &Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
