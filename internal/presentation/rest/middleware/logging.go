package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// LoggingMiddleware アクセスログミドルウェア
func LoggingMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			logger.Debug(req.Context(), "HTTP request started", map[string]interface{}{
				"method":      req.Method,
				"path":        req.URL.Path,
				"remote_addr": req.RemoteAddr,
				"user_agent":  req.UserAgent(),
			})

			err := next(c)

			fields := map[string]interface{}{
				"method":      req.Method,
				"route":       c.Path(),
				"path":        req.URL.Path,
				"status_code": c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if userID, ok := c.Get(ContextKeyUserID).(string); ok {
				fields["user_id"] = userID
			}
			if key, ok := c.Get(ContextKeyIdempotencyKey).(string); ok {
				fields["idempotency_key"] = key
			}

			// エラーはErrorHandlerMiddlewareが記録する
			if err != nil {
				logger.Warn(c.Request().Context(), "HTTP request failed", fields)
			} else {
				logger.Info(c.Request().Context(), "HTTP request completed", fields)
			}
			return err
		}
	}
}
