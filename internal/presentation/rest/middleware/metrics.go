package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"cookie-wallet/internal/domain/apperr"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// MetricsMiddleware リクエスト数・応答時間・エラー数を記録する
func MetricsMiddleware(metrics *otelinfra.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			method := c.Request().Method

			metrics.RecordRequest(ctx, method, c.Path())
			err := next(c)
			metrics.RecordResponseTime(ctx, method, c.Path(), time.Since(start).Seconds())

			status := c.Response().Status
			if err != nil {
				status = statusOfError(err)
			}
			if status >= http.StatusBadRequest {
				errorType := "client_error"
				if status >= http.StatusInternalServerError {
					errorType = "server_error"
				}
				metrics.RecordError(ctx, errorType)
			}
			return err
		}
	}
}

// statusOfError まだレスポンスが書かれていないエラーのステータスを推定する
func statusOfError(err error) int {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return StatusOf(apperr.KindOf(err))
}
