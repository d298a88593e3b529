package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
	"cookie-wallet/internal/presentation/grpc/handler"
	"cookie-wallet/internal/presentation/grpc/interceptor"
)

// Services gRPCサーバーが公開するサービス
type Services struct {
	Wallet   handler.WalletReader
	Checkout handler.Checkouter
	Settle   handler.Settler
	Refund   handler.Refunder
	Admin    handler.AdminOperations
}

// Server gRPCサーバー
type Server struct {
	server   *grpc.Server
	listener net.Listener
	port     int
	logger   *otelinfra.Logger
}

// NewServer 新しいgRPCサーバーを作成
func NewServer(cfg *config.Config, logger *otelinfra.Logger, metrics *otelinfra.Metrics, svc Services) (*Server, error) {
	address := fmt.Sprintf(":%d", cfg.Server.GRPCPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return NewServerWithListener(cfg, logger, metrics, svc, listener), nil
}

// NewServerWithListener リスナーを指定してgRPCサーバーを作成（テスト用）
func NewServerWithListener(cfg *config.Config, logger *otelinfra.Logger, metrics *otelinfra.Metrics, svc Services, listener net.Listener) *Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptor.LoggingInterceptor(logger, metrics),
			interceptor.AuthInterceptor(&cfg.JWT, logger),
			interceptor.APIKeyInterceptor(&cfg.AdminAPI, logger),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Second,
			MaxConnectionAge:      30 * time.Second,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  5 * time.Second,
			Timeout:               1 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	grpcServer := grpc.NewServer(opts...)
	handler.RegisterWalletServiceServer(grpcServer, handler.NewWalletHandler(svc.Wallet, svc.Checkout, svc.Settle, svc.Refund))
	handler.RegisterAdminServiceServer(grpcServer, handler.NewAdminHandler(svc.Admin))

	// リフレクションを有効化（開発環境用）
	if cfg.Environment == "development" {
		reflection.Register(grpcServer)
	}

	port := 0
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return &Server{
		server:   grpcServer,
		listener: listener,
		port:     port,
		logger:   logger,
	}
}

// Start サーバーを起動
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "gRPC server starting", map[string]interface{}{"port": s.port})
	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop サーバーを停止。期限内に終わらなければ強制停止する
func (s *Server) Stop(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info(ctx, "gRPC server stopped", nil)
		return nil
	case <-ctx.Done():
		s.logger.Warn(ctx, "gRPC server shutdown timeout, forcing stop", nil)
		s.server.Stop()
		return ctx.Err()
	}
}

// Port サーバーのポート番号を返す
func (s *Server) Port() int {
	return s.port
}
