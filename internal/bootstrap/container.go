// Package bootstrap 設定から依存関係を組み立てる。サーバーとwalletctlで共有する
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	adminapp "cookie-wallet/internal/application/admin"
	authapp "cookie-wallet/internal/application/auth"
	checkoutapp "cookie-wallet/internal/application/checkout"
	couponapp "cookie-wallet/internal/application/coupon"
	idempotencyapp "cookie-wallet/internal/application/idempotency"
	limitapp "cookie-wallet/internal/application/limit"
	refundapp "cookie-wallet/internal/application/refund"
	"cookie-wallet/internal/application/settlement"
	walletapp "cookie-wallet/internal/application/wallet"
	"cookie-wallet/internal/domain/port"
	"cookie-wallet/internal/domain/service"
	"cookie-wallet/internal/domain/wallet"
	"cookie-wallet/internal/infrastructure/config"
	"cookie-wallet/internal/infrastructure/gateway"
	"cookie-wallet/internal/infrastructure/lock"
	"cookie-wallet/internal/infrastructure/messaging"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
	"cookie-wallet/internal/infrastructure/persistence/mysql"
	"cookie-wallet/internal/job"
)

// Container 組み立て済みのサービスとジョブ
type Container struct {
	DB *mysql.DB

	Wallet      *walletapp.WalletApplicationService
	Coupons     *couponapp.CouponApplicationService
	Idempotency *idempotencyapp.IdempotencyApplicationService
	Checkout    *checkoutapp.CheckoutApplicationService
	Settlement  *settlement.SettlementApplicationService
	Refund      *refundapp.RefundApplicationService
	Admin       *adminapp.AdminApplicationService
	Tokens      *authapp.TokenApplicationService

	OutboxSender       *job.OutboxSender
	ReservationSweeper *job.ReservationSweeper
	IdempotencySweeper *job.IdempotencySweeper
	BatchExpirer       *job.BatchExpirer

	closers []func() error
}

// Build 設定に従って依存関係を組み立てる。
// Redisが無効ならプロセス内ロック、Kafkaが無効ならログ出力、ゲートウェイURLが空ならサンドボックスを使う
func Build(cfg *config.Config, logger *otelinfra.Logger, metrics *otelinfra.Metrics) (*Container, error) {
	policy, err := wallet.NewDebitPolicy(cfg.Wallet.DebitPolicy)
	if err != nil {
		return nil, err
	}

	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	c := &Container{DB: db}
	c.closers = append(c.closers, db.Close)

	locker, err := c.newLocker(cfg, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	publisher, err := c.newPublisher(cfg, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	var paymentGateway port.PaymentGateway = gateway.SandboxGateway{}
	if cfg.Gateway.BaseURL != "" {
		paymentGateway = gateway.NewHTTPGateway(&cfg.Gateway)
	} else {
		logger.Warn(context.Background(), "GATEWAY_BASE_URL is empty, using sandbox gateway", nil)
	}

	// リポジトリ
	balanceRepo := mysql.NewBalanceRepository(db)
	batchRepo := mysql.NewBatchRepository(db)
	ledgerRepo := mysql.NewLedgerRepository(db)
	allocationRepo := mysql.NewAllocationRepository(db)
	orderRepo := mysql.NewOrderRepository(db)
	couponRepo := mysql.NewCouponRepository(db)
	userCouponRepo := mysql.NewUserCouponRepository(db)
	idempotencyRepo := mysql.NewIdempotencyRepository(db)
	outboxRepo := mysql.NewOutboxRepository(db)
	users := mysql.NewUserDirectory(db)
	audit := mysql.NewAuditWriter(db)
	catalog := mysql.NewCatalogReader(db)
	txManager := mysql.NewTransactionManager(db)

	// アプリケーションサービス
	c.Wallet = walletapp.NewWalletApplicationService(
		balanceRepo, batchRepo, ledgerRepo, allocationRepo, txManager,
		walletapp.Settings{
			DebitPolicy:      policy,
			PurchaseBatchTTL: cfg.Wallet.PurchaseBatchTTL,
			RefundBatchTTL:   cfg.Wallet.RefundBatchTTL,
			BonusBatchTTL:    cfg.Wallet.BonusBatchTTL,
		},
		logger, metrics,
	)
	c.Coupons = couponapp.NewCouponApplicationService(couponRepo, userCouponRepo, logger, metrics)
	c.Idempotency = idempotencyapp.NewIdempotencyApplicationService(idempotencyRepo, cfg.Idempotency.TTL, logger, metrics)
	limits := limitapp.NewLimitApplicationService(orderRepo, balanceRepo, limitapp.Settings{
		DailyCash:   cfg.Limits.DailyCash,
		DailyCookie: cfg.Limits.DailyCookie,
		Location:    cfg.Limits.Location(),
	}, logger)

	c.OutboxSender = job.NewOutboxSender(outboxRepo, publisher, cfg.Sweep.OutboxInterval, cfg.Sweep.BatchSize, cfg.Kafka.MaxRetries, logger, metrics)

	c.Checkout = checkoutapp.NewCheckoutApplicationService(
		service.NewPriceReconciler(catalog),
		users, orderRepo, c.Coupons, c.Idempotency, limits, c.Wallet, txManager,
		logger, metrics,
	)
	c.Settlement = settlement.NewSettlementApplicationService(
		orderRepo, outboxRepo, c.Wallet, c.Coupons, c.Idempotency, paymentGateway,
		locker, audit, c.OutboxSender, txManager, cfg.Wallet.LockTTL,
		logger, metrics,
	)
	c.Refund = refundapp.NewRefundApplicationService(
		orderRepo, outboxRepo, c.Wallet, c.Coupons, c.Idempotency, paymentGateway,
		locker, audit, c.OutboxSender, txManager, cfg.Wallet.LockTTL,
		logger, metrics,
	)
	c.Admin = adminapp.NewAdminApplicationService(c.Wallet, c.Coupons, users, audit, logger)
	c.Tokens = authapp.NewTokenApplicationService(&cfg.JWT, users, logger)

	// バックグラウンドジョブ
	c.ReservationSweeper = job.NewReservationSweeper(
		orderRepo, c.Settlement, c.Coupons,
		cfg.Sweep.ReservationTimeout, cfg.Sweep.ReservationInterval, cfg.Sweep.BatchSize,
		logger, metrics,
	)
	c.IdempotencySweeper = job.NewIdempotencySweeper(c.Idempotency, cfg.Sweep.IdempotencyInterval, cfg.Sweep.BatchSize, logger)
	c.BatchExpirer = job.NewBatchExpirer(c.Wallet, cfg.Wallet.ExpiryInterval, cfg.Wallet.ExpiryBatchSize, logger)

	return c, nil
}

func (c *Container) newLocker(cfg *config.Config, logger *otelinfra.Logger) (port.Locker, error) {
	if !cfg.Redis.Enabled {
		logger.Warn(context.Background(), "Redis is disabled, using in-process wallet lock", nil)
		return lock.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	c.closers = append(c.closers, client.Close)
	return lock.NewRedisLocker(client), nil
}

func (c *Container) newPublisher(cfg *config.Config, logger *otelinfra.Logger) (port.EventPublisher, error) {
	if !cfg.Kafka.Enabled {
		logger.Warn(context.Background(), "Kafka is disabled, outbox events are written to the log", nil)
		return messaging.NewLogPublisher(logger), nil
	}

	publisher, err := messaging.NewKafkaPublisher(&cfg.Kafka)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, publisher.Close)
	return publisher, nil
}

// Close 接続を後から開いた順に閉じる
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
