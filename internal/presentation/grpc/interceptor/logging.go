package interceptor

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// LoggingInterceptor アクセスログとメトリクスを記録する
func LoggingInterceptor(logger *otelinfra.Logger, metrics *otelinfra.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		metrics.RecordRequest(ctx, "GRPC", info.FullMethod)

		resp, err := handler(ctx, req)

		elapsed := time.Since(start)
		metrics.RecordResponseTime(ctx, "GRPC", info.FullMethod, elapsed.Seconds())
		fields := map[string]interface{}{
			"method":      info.FullMethod,
			"code":        status.Code(err).String(),
			"duration_ms": elapsed.Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			logger.Warn(ctx, "gRPC request failed", fields)
			metrics.RecordError(ctx, "grpc_"+status.Code(err).String())
			return resp, err
		}
		logger.Info(ctx, "gRPC request completed", fields)
		return resp, nil
	}
}
