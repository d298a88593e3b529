package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/port"
	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// ErrUserIDRequired ユーザーIDが空
var ErrUserIDRequired = apperr.Validation("user_id_required", "user_id is required")

// TokenApplicationService 運用・検証用にユーザーのJWTを発行する
type TokenApplicationService struct {
	jwtConfig *config.JWTConfig
	users     port.UserDirectory
	logger    *otelinfra.Logger
	now       func() time.Time
}

// NewTokenApplicationService 新しいTokenApplicationServiceを作成
func NewTokenApplicationService(jwtConfig *config.JWTConfig, users port.UserDirectory, logger *otelinfra.Logger) *TokenApplicationService {
	return &TokenApplicationService{
		jwtConfig: jwtConfig,
		users:     users,
		logger:    logger,
		now:       time.Now,
	}
}

// IssueToken 存在するユーザーに対してuser_idクレーム付きのJWTを発行
func (s *TokenApplicationService) IssueToken(ctx context.Context, req *IssueTokenRequest) (*IssueTokenResponse, error) {
	ctx, span := otel.Tracer("auth-service").Start(ctx, "TokenApplicationService.IssueToken")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", req.UserID))

	fail := func(msg string, err error) (*IssueTokenResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(ctx, msg, map[string]interface{}{
			"user_id": req.UserID,
			"error":   err.Error(),
		})
		return nil, err
	}

	if req.UserID == "" {
		return fail("User ID is required", ErrUserIDRequired)
	}
	exists, err := s.users.Exists(ctx, req.UserID)
	if err != nil {
		return fail("Failed to look up user", err)
	}
	if !exists {
		return fail("User not found", port.ErrUserNotFound)
	}

	now := s.now()
	expiresAt := now.Add(s.jwtConfig.Expiration)
	claims := jwt.MapClaims{
		"user_id": req.UserID,
		"sub":     req.UserID,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	}
	if s.jwtConfig.Issuer != "" {
		claims["iss"] = s.jwtConfig.Issuer
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, "Failed to sign token", err, map[string]interface{}{"user_id": req.UserID})
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Info(ctx, "Token issued", map[string]interface{}{
		"user_id":    req.UserID,
		"expires_at": expiresAt.Unix(),
	})
	return &IssueTokenResponse{
		Token:     tokenString,
		ExpiresIn: int64(s.jwtConfig.Expiration.Seconds()),
		TokenType: "Bearer",
	}, nil
}
