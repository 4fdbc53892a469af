package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"vet-scribe-service/internal/observability/metrics"
)

// UnaryServerInterceptor counts and logs every unary call by method and status code.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(m, log.Debug(), info.FullMethod, start, err).Msg("gRPC unary call")
		return resp, err
	}
}

// StreamServerInterceptor counts and logs every stream by method and status code.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(m, log.Info(), info.FullMethod, start, err).
			Bool("success", err == nil).
			Msg("gRPC stream completed")
		return err
	}
}

func observeCall(m *metrics.Metrics, ev *zerolog.Event, method string, start time.Time, err error) *zerolog.Event {
	code := status.Code(err).String()
	m.RecordGRPCRequest(method, code)
	return ev.
		Str("method", method).
		Str("code", code).
		Dur("duration", time.Since(start))
}
