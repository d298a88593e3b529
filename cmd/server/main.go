package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cookie-wallet/internal/bootstrap"
	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
	grpcserver "cookie-wallet/internal/presentation/grpc"
	"cookie-wallet/internal/presentation/rest"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// OpenTelemetryの初期化
	tracerShutdown, err := otelinfra.InitTracer(&cfg.OpenTelemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	meterShutdown, err := otelinfra.InitMeter(&cfg.OpenTelemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown meter: %v", err)
		}
		if err := tracerShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	logger := otelinfra.NewLoggerWithWriter(otelinfra.Tracer("cookie-wallet"), os.Stdout, cfg.Log.Level)
	metrics, err := otelinfra.NewMetrics("cookie-wallet")
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	c, err := bootstrap.Build(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to build services: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Printf("Failed to close connections: %v", err)
		}
	}()

	router := rest.NewRouter(cfg, logger, metrics, rest.Services{
		Checkout:   c.Checkout,
		Settlement: c.Settlement,
		Refund:     c.Refund,
		Wallet:     c.Wallet,
		Coupons:    c.Coupons,
		Admin:      c.Admin,
		Health:     c.DB,
	})
	grpcSrv, err := grpcserver.NewServer(cfg, logger, metrics, grpcserver.Services{
		Wallet:   c.Wallet,
		Checkout: c.Checkout,
		Settle:   c.Settlement,
		Refund:   c.Refund,
		Admin:    c.Admin,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// バックグラウンドジョブ
	for _, j := range []interface{ Start(context.Context) }{
		c.OutboxSender,
		c.ReservationSweeper,
		c.IdempotencySweeper,
		c.BatchExpirer,
	} {
		g.Go(func() error {
			j.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		address := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info(gctx, "REST API server starting", map[string]interface{}{"address": address})
		if err := router.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("REST API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcSrv.Start(); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	// シグナルまたはいずれかの失敗で停止
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down servers", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if err := router.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("REST API shutdown: %w", err))
		}
		if err := grpcSrv.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("gRPC shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info(context.Background(), "Servers stopped", nil)
	return nil
}
