package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// ContextKeyOperator 管理操作の実行者のキー
const ContextKeyOperator = "operator"

// APIKeyMiddleware 管理API用のAPIキー認証ミドルウェア。
// X-Operatorヘッダーを監査ログ用の実行者として記録する
func APIKeyMiddleware(cfg *config.AdminAPIConfig, logger *otelinfra.Logger) echo.MiddlewareFunc {
	allowed := parseAllowList(cfg.AllowedIPs)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if !cfg.Enabled {
				logger.Warn(ctx, "Admin API is disabled", nil)
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "forbidden",
					Message: "Admin API is disabled",
				})
			}

			apiKey := c.Request().Header.Get("X-API-Key")
			if apiKey == "" {
				logger.Warn(ctx, "Missing X-API-Key header", nil)
				return unauthorized(c, "Missing X-API-Key header")
			}
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.APIKey)) != 1 {
				logger.Warn(ctx, "Invalid API key", nil)
				return unauthorized(c, "Invalid API key")
			}

			if len(allowed) > 0 {
				clientIP := getClientIP(c)
				if !isIPAllowed(clientIP, allowed) {
					logger.Warn(ctx, "IP address not allowed", map[string]interface{}{
						"ip": clientIP,
					})
					return c.JSON(http.StatusForbidden, ErrorResponse{
						Error:   "forbidden",
						Message: "IP address not allowed",
					})
				}
			}

			operator := c.Request().Header.Get("X-Operator")
			if operator == "" {
				operator = "admin-api"
			}
			c.Set(ContextKeyOperator, operator)
			return next(c)
		}
	}
}

// getClientIP クライアントのIPアドレスを取得
func getClientIP(c echo.Context) string {
	if forwardedFor := c.Request().Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	if realIP := c.Request().Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}

// parseAllowList 単一IPは/32(/128)のネットワークとして扱う
func parseAllowList(entries []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				continue
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		if _, n, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

// isIPAllowed IPアドレスが許可リストに含まれているかチェック
func isIPAllowed(ip string, allowed []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range allowed {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
