package api

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/megware/xbatctld/pkg/metrics"
)

// UnaryInterceptor logs every RPC and records the request metrics.
func UnaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)

		method := methodName(info.FullMethod)
		code := status.Code(err)
		metrics.RPCRequestsTotal.WithLabelValues(method, code.String()).Inc()
		timer.ObserveDurationVec(metrics.RPCRequestDuration, method)

		if err != nil {
			logger.Error().Err(err).Str("method", method).
				Str("code", code.String()).Msg("RPC failed")
		} else {
			logger.Debug().Str("method", method).
				Dur("duration", timer.Duration()).Msg("RPC handled")
		}
		return resp, err
	}
}

// methodName strips the service prefix from a full method path, e.g.
// "/xbat.Controller/GetJobs" becomes "GetJobs".
func methodName(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return full
}
