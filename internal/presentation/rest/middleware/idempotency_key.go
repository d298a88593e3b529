package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	// HeaderIdempotencyKey 冪等性キーのヘッダー
	HeaderIdempotencyKey = "Idempotency-Key"
	// ContextKeyIdempotencyKey 冪等性キーのキー
	ContextKeyIdempotencyKey = "idempotency_key"

	maxIdempotencyKeyLength = 255
)

// RequireIdempotencyKey Idempotency-Keyヘッダーを必須にする
func RequireIdempotencyKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderIdempotencyKey)
			if key == "" {
				return c.JSON(http.StatusBadRequest, ErrorResponse{
					Error:   "missing_idempotency_key",
					Message: "Idempotency-Key header is required",
				})
			}
			if len(key) > maxIdempotencyKeyLength {
				return c.JSON(http.StatusBadRequest, ErrorResponse{
					Error:   "invalid_idempotency_key",
					Message: "Idempotency-Key must be at most 255 characters",
				})
			}
			c.Set(ContextKeyIdempotencyKey, key)
			return next(c)
		}
	}
}
