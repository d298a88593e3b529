package job

import (
	"context"
	"sync"
	"time"

	"cookie-wallet/internal/domain/outbox"
	"cookie-wallet/internal/domain/port"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

const (
	defaultOutboxInterval   = 5 * time.Second
	defaultOutboxBatchSize  = 100
	defaultOutboxMaxRetries = 5
)

// OutboxSender 未送信のアウトボックスメッセージを配信するジョブ。
// 定期実行に加えてNotifyでコミット直後に起こされる
type OutboxSender struct {
	repo       outbox.Repository
	publisher  port.EventPublisher
	logger     *otelinfra.Logger
	metrics    *otelinfra.Metrics
	interval   time.Duration
	batchSize  int
	maxRetries int
	notifyCh   chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewOutboxSender 新しいOutboxSenderを作成
func NewOutboxSender(
	repo outbox.Repository,
	publisher port.EventPublisher,
	interval time.Duration,
	batchSize int,
	maxRetries int,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *OutboxSender {
	if interval <= 0 {
		interval = defaultOutboxInterval
	}
	if batchSize <= 0 {
		batchSize = defaultOutboxBatchSize
	}
	if maxRetries <= 0 {
		maxRetries = defaultOutboxMaxRetries
	}
	return &OutboxSender{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		notifyCh:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Notify 送信処理を起こす。すでに起床待ちがあれば何もしない
func (s *OutboxSender) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Start ジョブを開始する。ctxの終了かStopまでブロックする
func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info(ctx, "Outbox sender started", map[string]interface{}{
		"interval":    s.interval.String(),
		"batch_size":  s.batchSize,
		"max_retries": s.maxRetries,
	})
	loop(ctx, s.stopCh, s.interval, s.notifyCh, func(ctx context.Context) {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error(ctx, "Failed to process outbox", err, nil)
		}
	})
	s.logger.Info(context.WithoutCancel(ctx), "Outbox sender stopped", nil)
}

// Stop ジョブを停止
func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce 未送信メッセージを1バッチ分配信し、送信できた件数を返す
func (s *OutboxSender) RunOnce(ctx context.Context) (int, error) {
	messages, err := s.repo.FindPending(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, m := range messages {
		if err := s.publisher.Publish(ctx, m.Topic, m.Key, m.Payload); err != nil {
			s.logger.Warn(ctx, "Failed to publish outbox message", map[string]interface{}{
				"message_id":  m.ID,
				"topic":       m.Topic,
				"retry_count": m.RetryCount,
				"error":       err.Error(),
			})
			if rerr := s.repo.MarkRetry(ctx, m.ID, err.Error(), s.maxRetries); rerr != nil {
				s.logger.Error(ctx, "Failed to record outbox retry", rerr, map[string]interface{}{"message_id": m.ID})
			}
			if m.RetryCount+1 >= s.maxRetries {
				s.metrics.RecordError(ctx, "outbox_dead_letter")
			}
			continue
		}
		if err := s.repo.MarkSent(ctx, m.ID); err != nil {
			// 再送されるが購読側はキーで重複排除する
			s.logger.Error(ctx, "Failed to mark outbox message as sent", err, map[string]interface{}{"message_id": m.ID})
			continue
		}
		sent++
	}

	if sent > 0 {
		s.metrics.RecordSweep(ctx, "outbox", int64(sent))
		s.logger.Debug(ctx, "Outbox messages published", map[string]interface{}{"count": sent})
	}
	return sent, nil
}
