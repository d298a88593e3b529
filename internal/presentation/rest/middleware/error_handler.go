package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"cookie-wallet/internal/application/limit"
	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandlerMiddleware エラーハンドリングミドルウェア
func ErrorHandlerMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			return handleError(c, err, logger)
		}
	}
}

// StatusOf エラー種別に対応するHTTPステータス
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindState:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError エラーを処理して適切なHTTPレスポンスを返す
func handleError(c echo.Context, err error, logger *otelinfra.Logger) error {
	ctx := c.Request().Context()

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		logger.Warn(ctx, "HTTP error", map[string]interface{}{
			"status_code": httpErr.Code,
			"message":     httpErr.Message,
		})
		message, ok := httpErr.Message.(string)
		if !ok {
			message = http.StatusText(httpErr.Code)
		}
		return c.JSON(httpErr.Code, ErrorResponse{
			Error:   http.StatusText(httpErr.Code),
			Message: message,
		})
	}

	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.Error(ctx, "Internal server error", err, map[string]interface{}{
			"path": c.Request().URL.Path,
		})
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_server_error",
			Message: "An unexpected error occurred",
		})
	}

	status := StatusOf(kind)
	fields := map[string]interface{}{
		"path":  c.Request().URL.Path,
		"code":  apperr.CodeOf(err),
		"error": err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "Dependency unavailable", err, fields)
	} else {
		logger.Warn(ctx, "Request rejected", fields)
	}
	return c.JSON(status, ErrorResponse{
		Error:   apperr.CodeOf(err),
		Message: err.Error(),
		Details: detailsOf(err),
	})
}

// detailsOf 型付きエラーの診断情報を取り出す
func detailsOf(err error) map[string]interface{} {
	var (
		mismatch     *order.AmountMismatchError
		unresolved   *order.UnresolvedItemsError
		exceeds      *order.RefundExceedsError
		insufficient *wallet.InsufficientBalanceError
		overLimit    *limit.LimitExceededError
	)
	switch {
	case errors.As(err, &mismatch):
		return map[string]interface{}{"expected": mismatch.Expected, "received": mismatch.Received}
	case errors.As(err, &unresolved):
		return map[string]interface{}{"unresolved_ids": unresolved.IDs}
	case errors.As(err, &exceeds):
		return map[string]interface{}{"requested": exceeds.Requested, "remaining": exceeds.Remaining}
	case errors.As(err, &insufficient):
		return map[string]interface{}{"requested": insufficient.Requested, "available": insufficient.Available}
	case errors.As(err, &overLimit):
		return map[string]interface{}{
			"currency":  overLimit.Currency,
			"period":    overLimit.Period,
			"limit":     overLimit.Limit,
			"attempted": overLimit.Attempted,
			"excess":    overLimit.Excess,
		}
	}
	return nil
}
