package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"cookie-wallet/internal/domain/order"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

const (
	defaultReservationTimeout  = 30 * time.Minute
	defaultReservationInterval = time.Minute
	defaultSweepBatchSize      = 100
)

// OrderAbandoner 期限切れの注文を取り消す
type OrderAbandoner interface {
	Abandon(ctx context.Context, orderID string) (bool, error)
}

// CouponExpirer 期限切れのクーポンを失効させる
type CouponExpirer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// SweepResult 1回分の掃除結果
type SweepResult struct {
	Abandoned      int
	CouponsExpired int
}

// ReservationSweeper 決済されないまま放置された注文の予約を解放するジョブ
type ReservationSweeper struct {
	orderRepo order.OrderRepository
	abandoner OrderAbandoner
	coupons   CouponExpirer
	logger    *otelinfra.Logger
	metrics   *otelinfra.Metrics
	timeout   time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewReservationSweeper 新しいReservationSweeperを作成
func NewReservationSweeper(
	orderRepo order.OrderRepository,
	abandoner OrderAbandoner,
	coupons CouponExpirer,
	timeout time.Duration,
	interval time.Duration,
	batchSize int,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *ReservationSweeper {
	if timeout <= 0 {
		timeout = defaultReservationTimeout
	}
	if interval <= 0 {
		interval = defaultReservationInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &ReservationSweeper{
		orderRepo: orderRepo,
		abandoner: abandoner,
		coupons:   coupons,
		logger:    logger,
		metrics:   metrics,
		timeout:   timeout,
		interval:  interval,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
	}
}

// Start ジョブを開始する。ctxの終了かStopまでブロックする
func (s *ReservationSweeper) Start(ctx context.Context) {
	s.logger.Info(ctx, "Reservation sweeper started", map[string]interface{}{
		"timeout":  s.timeout.String(),
		"interval": s.interval.String(),
	})
	loop(ctx, s.stopCh, s.interval, nil, func(ctx context.Context) {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error(ctx, "Reservation sweep finished with errors", err, nil)
		}
	})
}

// Stop ジョブを停止
func (s *ReservationSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce タイムアウトしたPENDING注文を取り消し、期限切れクーポンを失効させる。
// 1件の失敗で残りを止めず、エラーはまとめて返す
func (s *ReservationSweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{}

	stale, err := s.orderRepo.FindStalePending(ctx, s.now().Add(-s.timeout), s.batchSize)
	if err != nil {
		return res, err
	}

	var errs []error
	for _, o := range stale {
		abandoned, err := s.abandoner.Abandon(ctx, o.ID())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if abandoned {
			res.Abandoned++
		}
	}

	expired, err := s.coupons.ExpireOverdue(ctx, s.batchSize)
	if err != nil {
		errs = append(errs, err)
	}
	res.CouponsExpired = expired

	if res.Abandoned > 0 {
		s.metrics.RecordSweep(ctx, "reservation", int64(res.Abandoned))
	}
	if res.Abandoned > 0 {
		s.logger.Info(ctx, "Abandoned stale checkouts", map[string]interface{}{
			"abandoned": res.Abandoned,
			"scanned":   len(stale),
		})
	}
	return res, errors.Join(errs...)
}
