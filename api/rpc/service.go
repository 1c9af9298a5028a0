package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "xbat.Controller"

// Full method names as they appear on the wire and in interceptors.
const (
	MethodSubmitBenchmark = "/xbat.Controller/SubmitBenchmark"
	MethodGetNodes        = "/xbat.Controller/GetNodes"
	MethodGetJobs         = "/xbat.Controller/GetJobs"
	MethodGetPartitions   = "/xbat.Controller/GetPartitions"
	MethodCancelJobs      = "/xbat.Controller/CancelJobs"
	MethodGetUserInfo     = "/xbat.Controller/GetUserInfo"
	MethodRegisterJob     = "/xbat.Controller/RegisterJob"
	MethodPurgeQuestDB    = "/xbat.Controller/PurgeQuestDB"
)

// ControllerServer is the server-side contract of the xbat.Controller
// service. All operations are unary.
type ControllerServer interface {
	// SubmitBenchmark creates a benchmark from a stored configuration,
	// allocates its run number and submits its jobs asynchronously.
	SubmitBenchmark(ctx context.Context, req *SubmitBenchmarkRequest) (*SubmitBenchmarkResponse, error)

	// GetNodes, GetJobs and GetPartitions expose the scheduler adapter's
	// cached views.
	GetNodes(ctx context.Context, req *Empty) (*GetNodesResponse, error)
	GetJobs(ctx context.Context, req *Empty) (*GetJobsResponse, error)
	GetPartitions(ctx context.Context, req *Empty) (*GetPartitionsResponse, error)

	// CancelJobs cancels scheduler jobs.
	CancelJobs(ctx context.Context, req *CancelJobsRequest) (*CancelJobsResponse, error)

	// GetUserInfo resolves a username to its host identity.
	GetUserInfo(ctx context.Context, req *GetUserInfoRequest) (*GetUserInfoResponse, error)

	// RegisterJob binds a node-agent-reported job into the controller and
	// returns the agent's monitoring settings.
	RegisterJob(ctx context.Context, req *RegisterJobRequest) (*RegisterJobResponse, error)

	// PurgeQuestDB starts the orphaned-metrics purge asynchronously.
	PurgeQuestDB(ctx context.Context, req *Empty) (*PurgeQuestDBResponse, error)
}

// RegisterControllerServer registers srv on a gRPC server.
func RegisterControllerServer(s grpc.ServiceRegistrar, srv ControllerServer) {
	s.RegisterService(&ControllerServiceDesc, srv)
}

// ControllerServiceDesc is the hand-maintained service descriptor; it
// stands in for the descriptor protoc would generate.
var ControllerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitBenchmark", Handler: submitBenchmarkHandler},
		{MethodName: "GetNodes", Handler: getNodesHandler},
		{MethodName: "GetJobs", Handler: getJobsHandler},
		{MethodName: "GetPartitions", Handler: getPartitionsHandler},
		{MethodName: "CancelJobs", Handler: cancelJobsHandler},
		{MethodName: "GetUserInfo", Handler: getUserInfoHandler},
		{MethodName: "RegisterJob", Handler: registerJobHandler},
		{MethodName: "PurgeQuestDB", Handler: purgeQuestDBHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xbat/controller",
}

func submitBenchmarkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitBenchmarkRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).SubmitBenchmark(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSubmitBenchmark}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).SubmitBenchmark(ctx, req.(*SubmitBenchmarkRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getNodesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).GetNodes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetNodes}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).GetNodes(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getJobsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).GetJobs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetJobs}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).GetJobs(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getPartitionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).GetPartitions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetPartitions}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).GetPartitions(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelJobsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CancelJobsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).CancelJobs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCancelJobs}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).CancelJobs(ctx, req.(*CancelJobsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getUserInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetUserInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).GetUserInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetUserInfo}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).GetUserInfo(ctx, req.(*GetUserInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func registerJobHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).RegisterJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRegisterJob}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).RegisterJob(ctx, req.(*RegisterJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func purgeQuestDBHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).PurgeQuestDB(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPurgeQuestDB}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).PurgeQuestDB(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}
