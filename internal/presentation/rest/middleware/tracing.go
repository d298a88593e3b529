package middleware

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware OpenTelemetryトレーシングミドルウェア
func TracingMiddleware() echo.MiddlewareFunc {
	tracer := otel.Tracer("cookie-wallet-http")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			ctx, span := tracer.Start(ctx, req.Method+" "+c.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.url", req.URL.String()),
				attribute.String("http.route", c.Path()),
				attribute.String("http.user_agent", req.UserAgent()),
			)
			if key := req.Header.Get(HeaderIdempotencyKey); key != "" {
				span.SetAttributes(attribute.String("idempotency_key", key))
			}

			c.SetRequest(req.WithContext(ctx))
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = statusOfError(err)
				span.RecordError(err)
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= 500 {
				span.SetStatus(otelcodes.Error, "server error")
			}
			return err
		}
	}
}
