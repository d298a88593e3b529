package job

import (
	"context"
	"sync"
	"time"

	walletapp "cookie-wallet/internal/application/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

const defaultExpiryInterval = time.Hour

// BatchExpirerService 期限切れバッチを失効させる
type BatchExpirerService interface {
	ExpireBatches(ctx context.Context, limit int) (*walletapp.ExpireResponse, error)
}

// BatchExpirer クッキーバッチの失効ジョブ
type BatchExpirer struct {
	wallet    BatchExpirerService
	logger    *otelinfra.Logger
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewBatchExpirer 新しいBatchExpirerを作成
func NewBatchExpirer(wallet BatchExpirerService, interval time.Duration, batchSize int, logger *otelinfra.Logger) *BatchExpirer {
	if interval <= 0 {
		interval = defaultExpiryInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &BatchExpirer{
		wallet:    wallet,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

// Start ジョブを開始する。ctxの終了かStopまでブロックする
func (e *BatchExpirer) Start(ctx context.Context) {
	loop(ctx, e.stopCh, e.interval, nil, func(ctx context.Context) {
		if _, err := e.RunOnce(ctx); err != nil {
			e.logger.Error(ctx, "Batch expiry finished with errors", err, nil)
		}
	})
}

// Stop ジョブを停止
func (e *BatchExpirer) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// RunOnce 期限切れバッチを1回分失効させる
func (e *BatchExpirer) RunOnce(ctx context.Context) (*walletapp.ExpireResponse, error) {
	return e.wallet.ExpireBatches(ctx, e.batchSize)
}
