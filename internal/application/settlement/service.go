package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/application/receipt"
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

var (
	// ErrSettlementFailed 以前の決済が失敗している（キャッシュが残っていない場合）
	ErrSettlementFailed = apperr.State("settlement_failed", "order settlement previously failed")
	// ErrOrderClosed キャンセル済みの注文
	ErrOrderClosed = apperr.State("order_closed", "order is no longer payable")
	// ErrCheckoutCancelled ユーザーによるキャンセル
	ErrCheckoutCancelled = apperr.State("checkout_cancelled", "checkout cancelled")
	// ErrCheckoutAbandoned 決済されないまま放置された
	ErrCheckoutAbandoned = apperr.State("checkout_abandoned", "checkout abandoned")
)

const defaultLockTTL = 30 * time.Second

// WalletMutator 決済時の残高操作
type WalletMutator interface {
	Debit(ctx context.Context, req *walletapp.DebitRequest) (*walletapp.MutationResponse, error)
	Credit(ctx context.Context, req *walletapp.CreditRequest) (*walletapp.MutationResponse, error)
	Unfreeze(ctx context.Context, userID string, amount int64) (int64, error)
}

// CouponFinalizer クーポンの確定と解除
type CouponFinalizer interface {
	Finalize(ctx context.Context, userCouponID, orderID string) error
	Rollback(ctx context.Context, userCouponID, orderID string) error
}

// IdempotencyRecorder 冪等性レコードの確定
type IdempotencyRecorder interface {
	Result(ctx context.Context, userID, key string) (*idempotency.Replay, error)
	Complete(ctx context.Context, userID, key string, response interface{}) error
	Fail(ctx context.Context, userID, key string, cause error) error
}

// OutboxNotifier コミット後に送信処理を起こす
type OutboxNotifier interface {
	Notify()
}

// SettlementApplicationService 決済確定サービス
type SettlementApplicationService struct {
	orderRepo  order.OrderRepository
	outboxRepo outbox.Repository
	wallet     WalletMutator
	coupons    CouponFinalizer
	idem       IdempotencyRecorder
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

// NewSettlementApplicationService 新しいSettlementApplicationServiceを作成
func NewSettlementApplicationService(
	orderRepo order.OrderRepository,
	outboxRepo outbox.Repository,
	walletMutator WalletMutator,
	coupons CouponFinalizer,
	idem IdempotencyRecorder,
	gateway port.PaymentGateway,
	locker port.Locker,
	audit port.AuditWriter,
	notifier OutboxNotifier,
	txManager transaction.TransactionManager,
	lockTTL time.Duration,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *SettlementApplicationService {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &SettlementApplicationService{
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
		wallet:     walletMutator,
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
		tracer:     otel.Tracer("settlement-service"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

func (s *SettlementApplicationService) fail(ctx context.Context, span trace.Span, msg string, err error, fields map[string]interface{}) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConflict, apperr.KindState, apperr.KindNotFound, apperr.KindUnauthorized:
		fields["error"] = err.Error()
		s.logger.Warn(ctx, msg, fields)
	default:
		s.logger.Error(ctx, msg, err, fields)
		s.metrics.RecordError(ctx, "settlement")
	}
}

// lock ユーザー単位のロックを取得し、解放関数を返す
func (s *SettlementApplicationService) lock(ctx context.Context, userID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, port.WalletLockKey(userID), s.lockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn(ctx, "Failed to release wallet lock", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}, nil
}

// Settle PENDING注文の決済を確定する。
// 現金は先にゲートウェイで売上確定し、残高・クーポン・冪等性・注文・アウトボックスを1つのトランザクションで更新する
func (s *SettlementApplicationService) Settle(ctx context.Context, userID, orderID string) (*receipt.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "SettlementApplicationService.Settle")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.String("order_id", orderID))
	fields := map[string]interface{}{"user_id": userID, "order_id": orderID}

	o, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		s.fail(ctx, span, "Failed to find order", err, fields)
		return nil, err
	}
	if err := o.EnsureOwner(userID); err != nil {
		s.fail(ctx, span, "Settlement rejected", err, fields)
		return nil, err
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		s.fail(ctx, span, "Failed to acquire wallet lock", err, fields)
		return nil, err
	}
	defer unlock()

	// ロック取得までに状態が変わっている可能性がある
	o, err = s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		s.fail(ctx, span, "Failed to reload order", err, fields)
		return nil, err
	}
	method := o.PaymentMethod().String()
	fields["payment_method"] = method
	span.SetAttributes(attribute.String("status", o.Status().String()))

	switch {
	case o.Status().IsSettled() || o.Status() == order.StatusRefunded || o.Status() == order.StatusFailed:
		r, err := s.replay(ctx, o)
		if err != nil {
			s.fail(ctx, span, "Replaying failed settlement", err, fields)
			return nil, err
		}
		s.metrics.RecordSettlement(ctx, "replayed", method)
		return r, nil
	case o.Status() == order.StatusCancelled:
		s.fail(ctx, span, "Settlement rejected", ErrOrderClosed, fields)
		return nil, ErrOrderClosed
	}

	var gatewayRef string
	cash := o.CashAmount()
	if cash > 0 {
		gatewayRef, err = s.gateway.AuthorizeAndCapture(ctx, o.PaymentMethod(), cash, orderID)
		if err != nil {
			s.compensate(ctx, orderID, err)
			s.metrics.RecordSettlement(ctx, "failed", method)
			s.fail(ctx, span, "Payment capture failed", err, fields)
			return nil, err
		}
		span.SetAttributes(attribute.String("gateway_ref", gatewayRef))
	}

	var result *receipt.Receipt
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		r, err := s.settle(ctx, orderID, gatewayRef)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.compensate(ctx, orderID, err)
		if gatewayRef != "" {
			s.cancelCapture(ctx, gatewayRef, cash, orderID)
		}
		s.metrics.RecordSettlement(ctx, "failed", method)
		s.fail(ctx, span, "Settlement failed", err, fields)
		return nil, err
	}

	s.notifier.Notify()
	s.writeAudit(ctx, port.AuditEntry{
		UserID:      userID,
		Action:      "ORDER_SETTLED",
		ReferenceID: orderID,
		Detail: map[string]interface{}{
			"payment_method":  method,
			"total_amount":    result.TotalAmount,
			"gateway_ref":     gatewayRef,
			"cookies_granted": result.CookiesGranted,
		},
	})

	fields["total_amount"] = result.TotalAmount
	s.metrics.RecordSettlement(ctx, "paid", method)
	s.logger.Info(ctx, "Order settled", fields)
	return result, nil
}

// settle トランザクション内の決済確定処理
func (s *SettlementApplicationService) settle(ctx context.Context, orderID, gatewayRef string) (*receipt.Receipt, error) {
	o, err := s.orderRepo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status() != order.StatusPending {
		return nil, fmt.Errorf("%w: order is %s", order.ErrInvalidTransition, o.Status())
	}
	now := s.now()
	ref := wallet.Reference{Type: wallet.ReferenceTypeOrder, ID: o.ID()}

	if amount := o.CookieAmount(); amount > 0 {
		if _, err := s.wallet.Debit(ctx, &walletapp.DebitRequest{
			UserID:      o.UserID(),
			Amount:      amount,
			Reference:   ref,
			ReleaseHold: true,
		}); err != nil {
			return nil, err
		}
	}
	if grant := o.CookieGrantTotal(); grant > 0 {
		if _, err := s.wallet.Credit(ctx, &walletapp.CreditRequest{
			UserID:    o.UserID(),
			Amount:    grant,
			BatchType: wallet.BatchTypePaid,
			Source:    wallet.BatchSourcePurchase,
			Reference: ref,
		}); err != nil {
			return nil, err
		}
	}
	if o.HasCoupon() {
		if err := s.coupons.Finalize(ctx, o.CouponRedemptionID(), o.ID()); err != nil {
			return nil, err
		}
	}

	if err := o.MarkPaid(gatewayRef, now); err != nil {
		return nil, err
	}
	if err := s.orderRepo.Update(ctx, o); err != nil {
		return nil, err
	}
	o.IncrementVersion()

	r := receipt.FromOrder(o)
	if err := s.idem.Complete(ctx, o.UserID(), o.IdempotencyKey(), r); err != nil {
		return nil, err
	}

	event := outbox.PaymentCompleted{
		OrderID:       o.ID(),
		UserID:        o.UserID(),
		Items:         make([]outbox.PaymentCompletedItem, 0, len(o.Items())),
		PaymentMethod: o.PaymentMethod().String(),
		TotalAmount:   o.TotalAmount(),
		SettledAt:     now,
	}
	for _, li := range o.Items() {
		event.Items = append(event.Items, outbox.PaymentCompletedItem{
			ItemType: li.ItemType().String(),
			ItemID:   li.ItemID(),
			Quantity: li.Quantity(),
		})
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment completed event: %w", err)
	}
	if err := s.outboxRepo.Save(ctx, outbox.NewMessage(s.newID(), outbox.TopicPaymentCompleted, o.ID(), payload, now)); err != nil {
		return nil, err
	}
	return r, nil
}

// replay 確定済みの注文に対してキャッシュされた結果を返す
func (s *SettlementApplicationService) replay(ctx context.Context, o *order.Order) (*receipt.Receipt, error) {
	cached, err := s.idem.Result(ctx, o.UserID(), o.IdempotencyKey())
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if err := cached.Err(); err != nil {
			return nil, err
		}
		var r receipt.Receipt
		if err := cached.Decode(&r); err == nil {
			return &r, nil
		}
	}
	// 保持期限切れでキャッシュが消えている
	if o.Status() == order.StatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrSettlementFailed, o.FailureReason())
	}
	return receipt.FromOrder(o), nil
}

// compensate 失敗した決済の後始末。注文をFAILEDにし、仮押さえとクーポンを戻す
func (s *SettlementApplicationService) compensate(ctx context.Context, orderID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orderRepo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status() != order.StatusPending {
			return nil
		}
		if err := o.MarkFailed(cause.Error(), s.now()); err != nil {
			return err
		}
		return s.release(ctx, o, cause)
	})
	if err != nil {
		s.logger.Error(ctx, "Failed to compensate settlement", err, map[string]interface{}{
			"order_id": orderID,
			"cause":    cause.Error(),
		})
		s.metrics.RecordError(ctx, "settlement_compensation")
	}
}

// release 状態を変えたPENDING注文を保存し、仮押さえ・クーポン・冪等性レコードを戻す
func (s *SettlementApplicationService) release(ctx context.Context, o *order.Order, cause error) error {
	if err := s.orderRepo.Update(ctx, o); err != nil {
		return err
	}
	o.IncrementVersion()
	if amount := o.CookieAmount(); amount > 0 {
		if _, err := s.wallet.Unfreeze(ctx, o.UserID(), amount); err != nil {
			return err
		}
	}
	if o.HasCoupon() {
		if err := s.coupons.Rollback(ctx, o.CouponRedemptionID(), o.ID()); err != nil {
			return err
		}
	}
	return s.idem.Fail(ctx, o.UserID(), o.IdempotencyKey(), cause)
}

func (s *SettlementApplicationService) cancelCapture(ctx context.Context, gatewayRef string, amount int64, orderID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.gateway.Cancel(ctx, gatewayRef, amount); err != nil {
		s.logger.Error(ctx, "Failed to cancel captured payment", err, map[string]interface{}{
			"order_id":    orderID,
			"gateway_ref": gatewayRef,
			"amount":      amount,
		})
		s.metrics.RecordError(ctx, "gateway_cancel")
	}
}

func (s *SettlementApplicationService) writeAudit(ctx context.Context, entry port.AuditEntry) {
	if err := s.audit.Write(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn(ctx, "Failed to write audit log", map[string]interface{}{
			"action":       entry.Action,
			"reference_id": entry.ReferenceID,
			"error":        err.Error(),
		})
	}
}

// Cancel 所有者がPENDING注文をキャンセルする
func (s *SettlementApplicationService) Cancel(ctx context.Context, userID, orderID string) (*receipt.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "SettlementApplicationService.Cancel")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.String("order_id", orderID))
	fields := map[string]interface{}{"user_id": userID, "order_id": orderID}

	o, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		s.fail(ctx, span, "Failed to find order", err, fields)
		return nil, err
	}
	if err := o.EnsureOwner(userID); err != nil {
		s.fail(ctx, span, "Cancel rejected", err, fields)
		return nil, err
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		s.fail(ctx, span, "Failed to acquire wallet lock", err, fields)
		return nil, err
	}
	defer unlock()

	r, err := s.close(ctx, orderID, ErrCheckoutCancelled)
	if err != nil {
		s.fail(ctx, span, "Failed to cancel order", err, fields)
		return nil, err
	}

	s.writeAudit(ctx, port.AuditEntry{UserID: userID, Action: "ORDER_CANCELLED", ReferenceID: orderID})
	s.logger.Info(ctx, "Order cancelled", fields)
	return r, nil
}

// Abandon 期限を過ぎたPENDING注文をキャンセルする。既にPENDINGでない場合はnilを返す
func (s *SettlementApplicationService) Abandon(ctx context.Context, orderID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "SettlementApplicationService.Abandon")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	_, err := s.close(ctx, orderID, ErrCheckoutAbandoned)
	if errors.Is(err, order.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		s.fail(ctx, span, "Failed to abandon order", err, map[string]interface{}{"order_id": orderID})
		return false, err
	}
	return true, nil
}

// close PENDING注文をCANCELLEDにして確保していたものを戻す
func (s *SettlementApplicationService) close(ctx context.Context, orderID string, cause error) (*receipt.Receipt, error) {
	var result *receipt.Receipt
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orderRepo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := o.Cancel(cause.Error(), s.now()); err != nil {
			return err
		}
		if err := s.release(ctx, o, cause); err != nil {
			return err
		}
		result = receipt.FromOrder(o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
