package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// ContextKeyUserID 認証済みユーザーIDのキー
const ContextKeyUserID = "user_id"

var errMissingSubject = errors.New("missing user id in token")

// AuthMiddleware JWT認証ミドルウェア。トークンの発行は外部の認証基盤が行う
func AuthMiddleware(cfg *config.JWTConfig, logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn(ctx, "Missing authorization header", nil)
				return unauthorized(c, "Missing authorization header")
			}
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				logger.Warn(ctx, "Invalid authorization header format", nil)
				return unauthorized(c, "Invalid authorization header format")
			}

			userID, err := ParseUserID(tokenString, cfg)
			if err != nil {
				logger.Warn(ctx, "Invalid token", map[string]interface{}{
					"error": err.Error(),
				})
				return unauthorized(c, "Invalid or expired token")
			}

			c.Set(ContextKeyUserID, userID)
			return next(c)
		}
	}
}

// ParseUserID トークンを検証してユーザーIDを取り出す。user_idクレームがなければsubを使う
func ParseUserID(tokenString string, cfg *config.JWTConfig) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...); err != nil {
		return "", err
	}

	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", errMissingSubject
}

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}
