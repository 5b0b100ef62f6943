package api

import (
	"context"
	"path"
	"time"

	"github.com/matheus3301/huddle/internal/metrics"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryInterceptor records request metrics and logs failed calls.
func UnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		name := path.Base(info.FullMethod)
		code := status.Code(err)
		metrics.RequestsTotal.WithLabelValues(name, code.String()).Inc()
		metrics.RequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			logger.Debug("request failed",
				zap.String("method", name),
				zap.String("code", code.String()),
				zap.Error(err))
		}
		return resp, err
	}
}

// StreamInterceptor records the outcome of streaming calls.
func StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		metrics.RequestsTotal.WithLabelValues(path.Base(info.FullMethod), status.Code(err).String()).Inc()
		return err
	}
}
