package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	apiCSP     = "default-src 'none'; frame-ancestors 'none'"
	swaggerCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"
)

// SecurityHeadersMiddleware セキュリティヘッダーを設定するミドルウェア
func SecurityHeadersMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")

			// Swagger UIは同一オリジンのスクリプトを読む
			if isSwaggerPath(c.Request().URL.Path) {
				h.Set("Content-Security-Policy", swaggerCSP)
			} else {
				h.Set("Content-Security-Policy", apiCSP)
			}

			if c.Scheme() == "https" {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			return next(c)
		}
	}
}

func isSwaggerPath(path string) bool {
	return strings.HasPrefix(path, "/swagger")
}
