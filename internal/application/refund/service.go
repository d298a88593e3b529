package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	walletapp "cookie-wallet/internal/application/wallet"
	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/idempotency"
	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/outbox"
	"cookie-wallet/internal/domain/port"
	"cookie-wallet/internal/domain/transaction"
	"cookie-wallet/internal/domain/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// ErrInvalidRefundRequest 明細と金額の指定が不正
var ErrInvalidRefundRequest = apperr.Validation("invalid_refund_request", "specify either line items or an amount")

const defaultLockTTL = 30 * time.Second

// CookieRestorer 返金したクッキーを戻す
type CookieRestorer interface {
	RestoreForRefund(ctx context.Context, req *walletapp.RestoreRequest) (*walletapp.RestoreResponse, error)
}

// CouponReissuer 全額返金時のクーポン再発行
type CouponReissuer interface {
	Reissue(ctx context.Context, userCouponID string) (bool, error)
}

// IdempotencyGuard 冪等性キーの予約と確定
type IdempotencyGuard interface {
	Begin(ctx context.Context, userID, key string, scope idempotency.Scope, requestHash string) (*idempotency.Replay, error)
	Complete(ctx context.Context, userID, key string, response interface{}) error
	Fail(ctx context.Context, userID, key string, cause error) error
}

// OutboxNotifier コミット後に送信処理を起こす
type OutboxNotifier interface {
	Notify()
}

// RefundApplicationService 返金サービス
type RefundApplicationService struct {
	orderRepo  order.OrderRepository
	outboxRepo outbox.Repository
	wallet     CookieRestorer
	coupons    CouponReissuer
	idem       IdempotencyGuard
	gateway    port.PaymentGateway
	locker     port.Locker
	audit      port.AuditWriter
	notifier   OutboxNotifier
	txManager  transaction.TransactionManager
	lockTTL    time.Duration
	logger     *otelinfra.Logger
	metrics    *otelinfra.Metrics
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

// NewRefundApplicationService 新しいRefundApplicationServiceを作成
func NewRefundApplicationService(
	orderRepo order.OrderRepository,
	outboxRepo outbox.Repository,
	restorer CookieRestorer,
	coupons CouponReissuer,
	idem IdempotencyGuard,
	gateway port.PaymentGateway,
	locker port.Locker,
	audit port.AuditWriter,
	notifier OutboxNotifier,
	txManager transaction.TransactionManager,
	lockTTL time.Duration,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *RefundApplicationService {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &RefundApplicationService{
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
		wallet:     restorer,
		coupons:    coupons,
		idem:       idem,
		gateway:    gateway,
		locker:     locker,
		audit:      audit,
		notifier:   notifier,
		txManager:  txManager,
		lockTTL:    lockTTL,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("refund-service"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

func (s *RefundApplicationService) fail(ctx context.Context, span trace.Span, msg string, err error, fields map[string]interface{}) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConflict, apperr.KindState, apperr.KindNotFound, apperr.KindUnauthorized:
		fields["error"] = err.Error()
		s.logger.Warn(ctx, msg, fields)
	default:
		s.logger.Error(ctx, msg, err, fields)
		s.metrics.RecordError(ctx, "refund")
	}
}

// Refund 決済済みの注文を全額または一部返金する。
// 明細指定の場合は割引を按分した額、金額指定の場合はその額を返金する
func (s *RefundApplicationService) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	ctx, span := s.tracer.Start(ctx, "RefundApplicationService.Refund")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("order_id", req.OrderID),
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.Int64("amount", req.Amount),
		attribute.Int("line_item_count", len(req.LineItemIDs)),
	)
	fields := map[string]interface{}{
		"user_id":         req.UserID,
		"order_id":        req.OrderID,
		"idempotency_key": req.IdempotencyKey,
	}

	if (len(req.LineItemIDs) > 0) == (req.Amount != 0) {
		s.fail(ctx, span, "Refund rejected", ErrInvalidRefundRequest, fields)
		return nil, ErrInvalidRefundRequest
	}
	hash, err := idempotency.HashRequest(req)
	if err != nil {
		s.fail(ctx, span, "Failed to hash refund request", err, fields)
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, port.WalletLockKey(req.UserID), s.lockTTL)
	if err != nil {
		s.fail(ctx, span, "Failed to acquire wallet lock", err, fields)
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn(ctx, "Failed to release wallet lock", map[string]interface{}{
				"user_id": req.UserID,
				"error":   err.Error(),
			})
		}
	}()

	replay, err := s.idem.Begin(ctx, req.UserID, req.IdempotencyKey, idempotency.ScopeRefund, hash)
	if err != nil {
		s.fail(ctx, span, "Refund rejected", err, fields)
		return nil, err
	}
	if replay != nil {
		if err := replay.Err(); err != nil {
			return nil, err
		}
		var cached RefundResponse
		if err := replay.Decode(&cached); err != nil {
			err = fmt.Errorf("failed to decode cached refund result: %w", err)
			s.fail(ctx, span, "Failed to replay refund", err, fields)
			return nil, err
		}
		cached.Replayed = true
		return &cached, nil
	}

	var (
		resp   *RefundResponse
		method order.PaymentMethod
	)
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		r, m, err := s.refund(ctx, req)
		if err != nil {
			return err
		}
		resp, method = r, m
		return nil
	})
	if err != nil {
		if ferr := s.idem.Fail(context.WithoutCancel(ctx), req.UserID, req.IdempotencyKey, err); ferr != nil {
			s.logger.Error(ctx, "Failed to mark refund idempotency record as failed", ferr, fields)
		}
		s.metrics.RecordRefund(ctx, "rejected", method.String(), 0)
		s.fail(ctx, span, "Refund failed", err, fields)
		return nil, err
	}

	s.notifier.Notify()
	if err := s.audit.Write(context.WithoutCancel(ctx), port.AuditEntry{
		UserID:      req.UserID,
		Action:      "ORDER_REFUNDED",
		ReferenceID: req.OrderID,
		Detail: map[string]interface{}{
			"refund_id":       resp.RefundID,
			"amount":          resp.Amount,
			"fully_refunded":  resp.FullyRefunded,
			"coupon_reissued": resp.CouponReissued,
			"reason":          req.Reason,
		},
	}); err != nil {
		s.logger.Warn(ctx, "Failed to write audit log", map[string]interface{}{
			"order_id": req.OrderID,
			"error":    err.Error(),
		})
	}

	fields["refund_id"] = resp.RefundID
	fields["amount"] = resp.Amount
	fields["status"] = resp.Status
	s.metrics.RecordRefund(ctx, "refunded", method.String(), resp.Amount)
	s.logger.Info(ctx, "Order refunded", fields)
	return resp, nil
}

// refund トランザクション内の返金処理。現金の取消は最後に行い、失敗すればすべて巻き戻す
func (s *RefundApplicationService) refund(ctx context.Context, req *RefundRequest) (*RefundResponse, order.PaymentMethod, error) {
	o, err := s.orderRepo.FindByIDForUpdate(ctx, req.OrderID)
	if err != nil {
		return nil, "", err
	}
	method := o.PaymentMethod()
	if err := o.EnsureOwner(req.UserID); err != nil {
		return nil, method, err
	}
	if err := o.CheckRefundable(); err != nil {
		return nil, method, err
	}

	amount := req.Amount
	var perLine map[string]int64
	if len(req.LineItemIDs) > 0 {
		amount, perLine, err = o.RefundAmountForItems(req.LineItemIDs)
		if err != nil {
			return nil, method, err
		}
	}
	now := s.now()
	if err := o.ApplyRefund(amount, perLine, now); err != nil {
		return nil, method, err
	}

	refundID := s.newID()
	resp := &RefundResponse{
		RefundID:      refundID,
		OrderID:       o.ID(),
		Amount:        amount,
		RefundedTotal: o.RefundedAmount(),
		Remaining:     o.RemainingRefundable(),
		Status:        o.Status().String(),
		FullyRefunded: o.IsFullyRefunded(),
	}

	if method.IsCookie() {
		if _, err := s.wallet.RestoreForRefund(ctx, &walletapp.RestoreRequest{
			UserID:          o.UserID(),
			Amount:          amount,
			OrderReference:  wallet.Reference{Type: wallet.ReferenceTypeOrder, ID: o.ID()},
			RefundReference: wallet.Reference{Type: wallet.ReferenceTypeRefund, ID: refundID},
		}); err != nil {
			return nil, method, err
		}
		resp.CookiesRestored = amount
	}

	if err := s.orderRepo.Update(ctx, o); err != nil {
		return nil, method, err
	}
	o.IncrementVersion()
	if err := s.orderRepo.SaveRefund(ctx, order.NewRefund(refundID, o.ID(), o.UserID(), amount, req.Reason, req.LineItemIDs, now)); err != nil {
		return nil, method, err
	}

	if o.IsFullyRefunded() && o.HasCoupon() {
		reissued, err := s.coupons.Reissue(ctx, o.CouponRedemptionID())
		if err != nil {
			return nil, method, err
		}
		resp.CouponReissued = reissued
	}

	payload, err := json.Marshal(outbox.PaymentRefunded{
		OrderID:       o.ID(),
		RefundID:      refundID,
		UserID:        o.UserID(),
		Amount:        amount,
		RefundedTotal: o.RefundedAmount(),
		FullyRefunded: o.IsFullyRefunded(),
		RefundedAt:    now,
	})
	if err != nil {
		return nil, method, fmt.Errorf("failed to marshal payment refunded event: %w", err)
	}
	if err := s.outboxRepo.Save(ctx, outbox.NewMessage(s.newID(), outbox.TopicPaymentRefunded, o.ID(), payload, now)); err != nil {
		return nil, method, err
	}

	if err := s.idem.Complete(ctx, req.UserID, req.IdempotencyKey, resp); err != nil {
		return nil, method, err
	}

	if method.IsCash() && o.GatewayRef() != "" {
		if err := s.gateway.Cancel(ctx, o.GatewayRef(), amount); err != nil {
			return nil, method, err
		}
	}
	return resp, method, nil
}
