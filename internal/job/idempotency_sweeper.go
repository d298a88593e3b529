package job

import (
	"context"
	"sync"
	"time"

	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

const (
	defaultIdempotencyInterval = 10 * time.Minute
	defaultStalePendingAfter   = time.Hour
)

// IdempotencyCleaner 期限切れの冪等性レコードを削除する
type IdempotencyCleaner interface {
	Sweep(ctx context.Context, limit int) (int64, error)
	CountStalePending(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencySweeper 冪等性レコードの掃除ジョブ
type IdempotencySweeper struct {
	cleaner    IdempotencyCleaner
	logger     *otelinfra.Logger
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewIdempotencySweeper 新しいIdempotencySweeperを作成
func NewIdempotencySweeper(cleaner IdempotencyCleaner, interval time.Duration, batchSize int, logger *otelinfra.Logger) *IdempotencySweeper {
	if interval <= 0 {
		interval = defaultIdempotencyInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &IdempotencySweeper{
		cleaner:    cleaner,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
		staleAfter: defaultStalePendingAfter,
		stopCh:     make(chan struct{}),
	}
}

// Start ジョブを開始する。ctxの終了かStopまでブロックする
func (s *IdempotencySweeper) Start(ctx context.Context) {
	loop(ctx, s.stopCh, s.interval, nil, func(ctx context.Context) {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error(ctx, "Idempotency sweep failed", err, nil)
		}
	})
}

// Stop ジョブを停止
func (s *IdempotencySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce 期限切れの確定済みレコードを削除する。
// 長時間PENDINGのままのレコードは削除せず警告だけ出す
func (s *IdempotencySweeper) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := s.cleaner.Sweep(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}
	if _, err := s.cleaner.CountStalePending(ctx, s.staleAfter); err != nil {
		s.logger.Warn(ctx, "Failed to count stale idempotency records", map[string]interface{}{"error": err.Error()})
	}
	return deleted, nil
}
