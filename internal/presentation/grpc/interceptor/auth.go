package interceptor

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

type userIDKey struct{}

// AdminServicePrefix 管理サービスのメソッド名の接頭辞。JWTではなくAPIキーで認証する
const AdminServicePrefix = "/cookiewallet.v1.AdminService/"

// UserIDFromContext 認証済みのユーザーIDを取り出す
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}

// WithUserID ユーザーIDをコンテキストに設定
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// AuthInterceptor JWT認証インターセプター
func AuthInterceptor(cfg *config.JWTConfig, logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, AdminServicePrefix) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn(ctx, "Missing metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			logger.Warn(ctx, "Missing authorization header", nil)
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}
		tokenString, ok := strings.CutPrefix(authHeaders[0], "Bearer ")
		if !ok || tokenString == "" {
			logger.Warn(ctx, "Invalid authorization header format", nil)
			return nil, status.Error(codes.Unauthenticated, "invalid authorization header format")
		}

		userID, err := parseUserID(tokenString, cfg)
		if err != nil {
			logger.Warn(ctx, "Invalid token", map[string]interface{}{
				"method": info.FullMethod,
				"error":  err.Error(),
			})
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		return handler(WithUserID(ctx, userID), req)
	}
}

func parseUserID(tokenString string, cfg *config.JWTConfig) (string, error) {
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
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", status.Error(codes.Unauthenticated, "missing user id in token")
	}
	return sub, nil
}
