package interceptor

import (
	"context"
	"crypto/subtle"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

type operatorKey struct{}

// OperatorFromContext 管理操作の実行者
func OperatorFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operatorKey{}).(string); ok && op != "" {
		return op
	}
	return "admin-grpc"
}

// APIKeyInterceptor 管理サービス用のAPIキー認証インターセプター
func APIKeyInterceptor(cfg *config.AdminAPIConfig, logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	allowed := parseAllowList(cfg.AllowedIPs)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, AdminServicePrefix) {
			return handler(ctx, req)
		}
		if !cfg.Enabled {
			logger.Warn(ctx, "Admin API is disabled", nil)
			return nil, status.Error(codes.PermissionDenied, "admin API is disabled")
		}

		md, _ := metadata.FromIncomingContext(ctx)
		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			logger.Warn(ctx, "Missing x-api-key metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing x-api-key metadata")
		}
		if subtle.ConstantTimeCompare([]byte(apiKeys[0]), []byte(cfg.APIKey)) != 1 {
			logger.Warn(ctx, "Invalid API key", nil)
			return nil, status.Error(codes.Unauthenticated, "invalid API key")
		}

		if len(allowed) > 0 {
			clientIP := clientIP(ctx, md)
			if !isIPAllowed(clientIP, allowed) {
				logger.Warn(ctx, "IP address not allowed", map[string]interface{}{"ip": clientIP})
				return nil, status.Error(codes.PermissionDenied, "IP address not allowed")
			}
		}

		if ops := md.Get("x-operator"); len(ops) > 0 {
			ctx = context.WithValue(ctx, operatorKey{}, ops[0])
		}
		return handler(ctx, req)
	}
}

// clientIP プロキシのメタデータ、なければ接続元アドレス
func clientIP(ctx context.Context, md metadata.MD) string {
	if forwardedFor := md.Get("x-forwarded-for"); len(forwardedFor) > 0 {
		first, _, _ := strings.Cut(forwardedFor[0], ",")
		return strings.TrimSpace(first)
	}
	if realIP := md.Get("x-real-ip"); len(realIP) > 0 {
		return realIP[0]
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
	}
	return ""
}

func parseAllowList(entries []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				bits := 128
				if ip.To4() != nil {
					bits = 32
				}
				nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			}
			continue
		}
		if _, n, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

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
