package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	couponapp "cookie-wallet/internal/application/coupon"
	"cookie-wallet/internal/application/receipt"
	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/idempotency"
	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/port"
	"cookie-wallet/internal/domain/service"
	"cookie-wallet/internal/domain/transaction"
	"cookie-wallet/internal/domain/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// ErrUserDirectoryUnavailable ユーザー参照に失敗
var ErrUserDirectoryUnavailable = apperr.Infrastructure("user_directory_unavailable", "user lookup failed")

// CouponReserver クーポンの確保と解除
type CouponReserver interface {
	ValidateAndReserve(ctx context.Context, userID, userCouponID, orderID string, baseAmount int64) (*couponapp.Reservation, error)
	Rollback(ctx context.Context, userCouponID, orderID string) error
}

// IdempotencyGuard 冪等性キーの判定
type IdempotencyGuard interface {
	Lookup(ctx context.Context, userID, key string, scope idempotency.Scope, requestHash string) (*idempotency.Replay, error)
	Begin(ctx context.Context, userID, key string, scope idempotency.Scope, requestHash string) (*idempotency.Replay, error)
	Fail(ctx context.Context, userID, key string, cause error) error
}

// LimitChecker 利用上限の判定
type LimitChecker interface {
	CheckDailyLimit(ctx context.Context, userID string, cashAmount, cookieAmount int64) error
}

// WalletHolder 残高参照と仮押さえ
type WalletHolder interface {
	Available(ctx context.Context, userID string) (int64, error)
	Freeze(ctx context.Context, userID string, amount int64) error
}

// CheckoutApplicationService 決済検証パイプライン
type CheckoutApplicationService struct {
	reconciler *service.PriceReconciler
	users      port.UserDirectory
	orderRepo  order.OrderRepository
	coupons    CouponReserver
	idem       IdempotencyGuard
	limits     LimitChecker
	wallet     WalletHolder
	txManager  transaction.TransactionManager
	logger     *otelinfra.Logger
	metrics    *otelinfra.Metrics
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

// NewCheckoutApplicationService 新しいCheckoutApplicationServiceを作成
func NewCheckoutApplicationService(
	reconciler *service.PriceReconciler,
	users port.UserDirectory,
	orderRepo order.OrderRepository,
	coupons CouponReserver,
	idem IdempotencyGuard,
	limits LimitChecker,
	walletHolder WalletHolder,
	txManager transaction.TransactionManager,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *CheckoutApplicationService {
	return &CheckoutApplicationService{
		reconciler: reconciler,
		users:      users,
		orderRepo:  orderRepo,
		coupons:    coupons,
		idem:       idem,
		limits:     limits,
		wallet:     walletHolder,
		txManager:  txManager,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("checkout-service"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// compensation 途中で失敗したときに戻す必要のある状態
type compensation struct {
	reservation *couponapp.Reservation
	begun       bool
}

// Checkout 注文内容を検証し、PENDING注文を作成してクッキーを仮押さえする。
// 検証は固定の順序で行い、最初の失敗で打ち切る
func (s *CheckoutApplicationService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutApplicationService.Checkout")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.String("payment_method", req.PaymentMethod),
		attribute.Int("item_count", len(req.Items)),
	)
	fields := map[string]interface{}{
		"user_id":         req.UserID,
		"idempotency_key": req.IdempotencyKey,
		"payment_method":  req.PaymentMethod,
		"cash_amount":     req.CashAmount,
		"cookie_amount":   req.CookieAmount,
	}

	hash, err := idempotency.HashRequest(req)
	if err != nil {
		s.reject(ctx, span, req, err, fields)
		return nil, err
	}

	replay, err := s.idem.Lookup(ctx, req.UserID, req.IdempotencyKey, idempotency.ScopeCheckout, hash)
	if err != nil {
		s.reject(ctx, span, req, err, fields)
		return nil, err
	}
	if replay != nil {
		s.metrics.RecordCheckout(ctx, "replayed", req.PaymentMethod)
		return fromReplay(replay)
	}

	exists, err := s.users.Exists(ctx, req.UserID)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUserDirectoryUnavailable, err)
		s.reject(ctx, span, req, err, fields)
		return nil, err
	}
	if !exists {
		s.reject(ctx, span, req, port.ErrUserNotFound, fields)
		return nil, port.ErrUserNotFound
	}

	comp := &compensation{}
	resp, err := s.validate(ctx, req, hash, comp)
	if err != nil {
		s.compensate(ctx, req, comp, err)
		s.reject(ctx, span, req, err, fields)
		return nil, err
	}

	span.SetAttributes(attribute.String("order_id", resp.Receipt.OrderID))
	fields["order_id"] = resp.Receipt.OrderID
	fields["total_amount"] = resp.Receipt.TotalAmount
	s.metrics.RecordCheckout(ctx, "validated", resp.Receipt.PaymentMethod)
	s.logger.Info(ctx, "Checkout validated", fields)
	return resp, nil
}

func (s *CheckoutApplicationService) validate(ctx context.Context, req *CheckoutRequest, hash string, comp *compensation) (*CheckoutResponse, error) {
	// 1. 明細
	if len(req.Items) == 0 {
		return nil, order.ErrEmptyOrder
	}

	// 2. 支払い方法
	method, err := order.SplitPayment(order.PaymentMethod(req.PaymentMethod), req.CashAmount, req.CookieAmount)
	if err != nil {
		return nil, err
	}

	// 3. 価格照合
	inputs := make([]order.LineItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		inputs = append(inputs, order.LineItemInput{
			ItemType:        order.ItemType(it.ItemType),
			ItemID:          it.ItemID,
			Quantity:        it.Quantity,
			ClientUnitPrice: it.UnitPrice,
		})
	}
	rec, err := s.reconciler.Reconcile(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for _, item := range rec.Items {
		if item.Input.ItemType.IsBundle() && !method.IsCash() {
			return nil, order.ErrBundleRequiresCash
		}
	}

	// 4. クッキー残高
	if method.IsCookie() && req.CookieAmount > 0 {
		available, err := s.wallet.Available(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if available < req.CookieAmount {
			return nil, &wallet.InsufficientBalanceError{Requested: req.CookieAmount, Available: available}
		}
	}

	// 5. クーポンと合計金額
	orderID := s.newID()
	var discount int64
	if req.CouponRedemptionID != "" {
		reservation, err := s.coupons.ValidateAndReserve(ctx, req.UserID, req.CouponRedemptionID, orderID, rec.Total)
		if err != nil {
			return nil, err
		}
		comp.reservation = reservation
		discount = reservation.Discount
	}
	expected := rec.Total - discount
	received := req.CashAmount + req.CookieAmount
	if expected != received {
		return nil, &order.AmountMismatchError{Expected: expected, Received: received}
	}

	// 6. 冪等性キー
	replay, err := s.idem.Begin(ctx, req.UserID, req.IdempotencyKey, idempotency.ScopeCheckout, hash)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		// LookupとBeginの間に同じキーの処理が確定した
		if comp.reservation != nil {
			s.rollbackCoupon(ctx, comp.reservation)
			comp.reservation = nil
		}
		return fromReplay(replay)
	}
	comp.begun = true

	// 7. 利用上限
	var cashTotal, cookieTotal int64
	if method.IsCash() {
		cashTotal = expected
	} else {
		cookieTotal = expected
	}
	if err := s.limits.CheckDailyLimit(ctx, req.UserID, cashTotal, cookieTotal); err != nil {
		return nil, err
	}

	now := s.now()
	lines := make([]*order.LineItem, 0, len(rec.Items))
	for _, item := range rec.Items {
		li, err := order.NewLineItem(s.newID(), item.Input.ItemType, item.Input.ItemID, item.Input.Quantity, item.UnitPrice, item.CookieQuantity)
		if err != nil {
			return nil, err
		}
		lines = append(lines, li)
	}
	couponID := ""
	if comp.reservation != nil {
		couponID = comp.reservation.UserCouponID
	}
	o, err := order.NewOrder(orderID, req.UserID, lines, method, discount, couponID, req.IdempotencyKey, now)
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.orderRepo.Create(ctx, o); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if amount := o.CookieAmount(); amount > 0 {
			if err := s.wallet.Freeze(ctx, req.UserID, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutResponse{Receipt: receipt.FromOrder(o)}, nil
}

// compensate 確保済みのクーポンを戻し、冪等性レコードを失敗で確定する。
// クライアントが切断していても実行する
func (s *CheckoutApplicationService) compensate(ctx context.Context, req *CheckoutRequest, comp *compensation, cause error) {
	ctx = context.WithoutCancel(ctx)
	if comp.reservation != nil {
		s.rollbackCoupon(ctx, comp.reservation)
	}
	if comp.begun {
		if err := s.idem.Fail(ctx, req.UserID, req.IdempotencyKey, cause); err != nil {
			s.logger.Error(ctx, "Failed to mark idempotency record as failed", err, map[string]interface{}{
				"user_id":         req.UserID,
				"idempotency_key": req.IdempotencyKey,
			})
			s.metrics.RecordError(ctx, "checkout_compensation")
		}
	}
}

func (s *CheckoutApplicationService) rollbackCoupon(ctx context.Context, r *couponapp.Reservation) {
	if err := s.coupons.Rollback(ctx, r.UserCouponID, r.OrderID); err != nil {
		s.logger.Error(ctx, "Failed to roll back coupon reservation", err, map[string]interface{}{
			"user_coupon_id": r.UserCouponID,
			"order_id":       r.OrderID,
		})
		s.metrics.RecordError(ctx, "checkout_compensation")
	}
}

func (s *CheckoutApplicationService) reject(ctx context.Context, span trace.Span, req *CheckoutRequest, err error, fields map[string]interface{}) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	fields["error_code"] = apperr.CodeOf(err)

	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindValidation, apperr.KindConflict, apperr.KindState, apperr.KindNotFound, apperr.KindUnauthorized:
		fields["error"] = err.Error()
		s.logger.Warn(ctx, "Checkout rejected", fields)
		s.metrics.RecordCheckout(ctx, "rejected", req.PaymentMethod)
	default:
		s.logger.Error(ctx, "Checkout failed", err, fields)
		s.metrics.RecordCheckout(ctx, "error", req.PaymentMethod)
		s.metrics.RecordError(ctx, "checkout")
	}
}

func fromReplay(replay *idempotency.Replay) (*CheckoutResponse, error) {
	if err := replay.Err(); err != nil {
		return nil, err
	}
	var r receipt.Receipt
	if err := replay.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode cached checkout result: %w", err)
	}
	return &CheckoutResponse{Receipt: &r, Replayed: true}, nil
}
