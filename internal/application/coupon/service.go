package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/coupon"
	"cookie-wallet/internal/domain/transaction"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// CouponApplicationService クーポンアプリケーションサービス
type CouponApplicationService struct {
	couponRepo     coupon.CouponRepository
	userCouponRepo coupon.UserCouponRepository
	logger         *otelinfra.Logger
	metrics        *otelinfra.Metrics
	tracer         trace.Tracer
	now            func() time.Time
	newID          func() string
}

// NewCouponApplicationService 新しいCouponApplicationServiceを作成
func NewCouponApplicationService(
	couponRepo coupon.CouponRepository,
	userCouponRepo coupon.UserCouponRepository,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *CouponApplicationService {
	return &CouponApplicationService{
		couponRepo:     couponRepo,
		userCouponRepo: userCouponRepo,
		logger:         logger,
		metrics:        metrics,
		tracer:         otel.Tracer("coupon-service"),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
}

func (s *CouponApplicationService) fail(ctx context.Context, span trace.Span, msg string, err error, fields map[string]interface{}) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	if apperr.KindOf(err) == apperr.KindValidation || apperr.KindOf(err) == apperr.KindConflict {
		fields["error"] = err.Error()
		s.logger.Warn(ctx, msg, fields)
		return
	}
	s.logger.Error(ctx, msg, err, fields)
	s.metrics.RecordError(ctx, "coupon")
}

// ValidateAndReserve クーポンを検証して注文のために確保し、割引額を返す。
// 確保はステータスを条件にした更新で行い、同時の確保は一方だけが成功する
func (s *CouponApplicationService) ValidateAndReserve(ctx context.Context, userID, userCouponID, orderID string, baseAmount int64) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "CouponApplicationService.ValidateAndReserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("user_coupon_id", userCouponID),
		attribute.String("order_id", orderID),
		attribute.Int64("base_amount", baseAmount),
	)
	fields := map[string]interface{}{
		"user_id":        userID,
		"user_coupon_id": userCouponID,
		"order_id":       orderID,
	}

	now := s.now()
	uc, err := s.userCouponRepo.FindByID(ctx, userCouponID)
	if err != nil {
		s.fail(ctx, span, "Failed to find user coupon", err, fields)
		return nil, err
	}
	if err := uc.CheckReservable(userID, now); err != nil {
		s.fail(ctx, span, "Coupon is not reservable", err, fields)
		return nil, err
	}

	def, err := s.couponRepo.FindByID(ctx, uc.CouponID())
	if err != nil {
		s.fail(ctx, span, "Failed to find coupon", err, fields)
		return nil, err
	}
	if !def.IsWithinValidity(now) {
		err := coupon.ErrCouponExpired
		if now.Before(def.ValidFrom()) {
			err = coupon.ErrCouponNotYetValid
		}
		s.fail(ctx, span, "Coupon is outside its validity period", err, fields)
		return nil, err
	}
	if baseAmount < def.MinimumAmount() {
		err := fmt.Errorf("%w: minimum %d, amount %d", coupon.ErrBelowMinimumAmount, def.MinimumAmount(), baseAmount)
		s.fail(ctx, span, "Order amount below coupon minimum", err, fields)
		return nil, err
	}
	discount := def.Discount(baseAmount)

	if err := uc.Reserve(orderID, now); err != nil {
		s.fail(ctx, span, "Failed to reserve coupon", err, fields)
		return nil, err
	}
	swapped, err := s.userCouponRepo.CompareAndSwap(ctx, uc, coupon.StatusAvailable, "")
	if err != nil {
		s.fail(ctx, span, "Failed to reserve coupon", err, fields)
		return nil, err
	}
	if !swapped {
		s.fail(ctx, span, "Coupon reservation lost", coupon.ErrReservationLost, fields)
		return nil, coupon.ErrReservationLost
	}

	fields["discount"] = discount
	transaction.AfterCommit(ctx, func() {
		s.metrics.RecordCouponTransition(ctx, coupon.StatusAvailable.String(), coupon.StatusReserved.String())
		s.logger.Info(ctx, "Coupon reserved", fields)
	})

	return &Reservation{
		UserCouponID: uc.ID(),
		CouponID:     uc.CouponID(),
		OrderID:      orderID,
		Discount:     discount,
	}, nil
}

// Finalize orderIDが確保中のクーポンを使用済みにする。同じ注文で使用済みなら何もしない
func (s *CouponApplicationService) Finalize(ctx context.Context, userCouponID, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "CouponApplicationService.Finalize")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_coupon_id", userCouponID),
		attribute.String("order_id", orderID),
	)
	fields := map[string]interface{}{
		"user_coupon_id": userCouponID,
		"order_id":       orderID,
	}

	uc, err := s.userCouponRepo.FindByID(ctx, userCouponID)
	if err != nil {
		s.fail(ctx, span, "Failed to find user coupon", err, fields)
		return err
	}
	if uc.Status() == coupon.StatusUsed && uc.OrderID() == orderID {
		return nil
	}
	if uc.Status() != coupon.StatusAvailable && uc.OrderID() != orderID {
		fields["held_by_order_id"] = uc.OrderID()
		s.fail(ctx, span, "Coupon is held by another order", coupon.ErrReservationLost, fields)
		return coupon.ErrReservationLost
	}
	if err := uc.Use(s.now()); err != nil {
		fields["status"] = uc.Status().String()
		s.fail(ctx, span, "Coupon cannot be finalized", err, fields)
		return err
	}
	swapped, err := s.userCouponRepo.CompareAndSwap(ctx, uc, coupon.StatusReserved, orderID)
	if err != nil {
		s.fail(ctx, span, "Failed to finalize coupon", err, fields)
		return err
	}
	if !swapped {
		s.fail(ctx, span, "Coupon reservation lost", coupon.ErrReservationLost, fields)
		return coupon.ErrReservationLost
	}

	transaction.AfterCommit(ctx, func() {
		s.metrics.RecordCouponTransition(ctx, coupon.StatusReserved.String(), coupon.StatusUsed.String())
		s.logger.Info(ctx, "Coupon finalized", fields)
	})
	return nil
}

// Rollback orderIDによる確保を解除してAVAILABLEに戻す。
// 補償処理から呼ばれるため、戻せない状態や他の注文の確保は警告のみとする
func (s *CouponApplicationService) Rollback(ctx context.Context, userCouponID, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "CouponApplicationService.Rollback")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_coupon_id", userCouponID),
		attribute.String("order_id", orderID),
	)
	fields := map[string]interface{}{
		"user_coupon_id": userCouponID,
		"order_id":       orderID,
	}

	uc, err := s.userCouponRepo.FindByID(ctx, userCouponID)
	if err != nil {
		s.fail(ctx, span, "Failed to find user coupon", err, fields)
		return err
	}
	from := uc.Status()
	fields["status"] = from.String()
	if from != coupon.StatusAvailable && uc.OrderID() != orderID {
		fields["held_by_order_id"] = uc.OrderID()
		s.logger.Warn(ctx, "Coupon is held by another order, not rolled back", fields)
		return nil
	}

	released, err := uc.Release(s.now())
	if err != nil {
		s.logger.Warn(ctx, "Coupon is not in a releasable state", fields)
		return nil
	}
	if !released {
		return nil
	}
	swapped, err := s.userCouponRepo.CompareAndSwap(ctx, uc, from, orderID)
	if err != nil {
		s.fail(ctx, span, "Failed to roll back coupon", err, fields)
		return err
	}
	if !swapped {
		s.logger.Warn(ctx, "Coupon changed before rollback", fields)
		return nil
	}

	transaction.AfterCommit(ctx, func() {
		s.metrics.RecordCouponTransition(ctx, from.String(), coupon.StatusAvailable.String())
		s.logger.Info(ctx, "Coupon rolled back", fields)
	})
	return nil
}

// Issue ユーザーにクーポンを発行する。有効期限はクーポン定義の終了日時
func (s *CouponApplicationService) Issue(ctx context.Context, userID, couponID string) (*UserCouponDetail, error) {
	ctx, span := s.tracer.Start(ctx, "CouponApplicationService.Issue")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.String("coupon_id", couponID))
	fields := map[string]interface{}{"user_id": userID, "coupon_id": couponID}

	def, err := s.couponRepo.FindByID(ctx, couponID)
	if err != nil {
		s.fail(ctx, span, "Failed to find coupon", err, fields)
		return nil, err
	}
	now := s.now()
	if !def.ValidUntil().IsZero() && !now.Before(def.ValidUntil()) {
		s.fail(ctx, span, "Coupon has expired", coupon.ErrCouponExpired, fields)
		return nil, coupon.ErrCouponExpired
	}

	uc := coupon.NewUserCoupon(s.newID(), couponID, userID, def.ValidUntil(), now)
	if err := s.userCouponRepo.Create(ctx, uc); err != nil {
		s.fail(ctx, span, "Failed to issue coupon", err, fields)
		return nil, err
	}

	fields["user_coupon_id"] = uc.ID()
	s.logger.Info(ctx, "Coupon issued", fields)
	return toDetail(uc, def), nil
}

// Reissue 返金で使用済みの引き換えと同じクーポンを新しく発行し直す。
// 元の引き換えはUSEDのまま残し、定義が有効期間外なら発行しない
func (s *CouponApplicationService) Reissue(ctx context.Context, userCouponID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "CouponApplicationService.Reissue")
	defer span.End()

	span.SetAttributes(attribute.String("user_coupon_id", userCouponID))
	fields := map[string]interface{}{"user_coupon_id": userCouponID}

	used, err := s.userCouponRepo.FindByID(ctx, userCouponID)
	if err != nil {
		s.fail(ctx, span, "Failed to find user coupon", err, fields)
		return false, err
	}
	if used.Status() != coupon.StatusUsed {
		fields["status"] = used.Status().String()
		s.logger.Info(ctx, "Coupon was not used, not reissued", fields)
		return false, nil
	}
	fields["user_id"] = used.UserID()
	fields["coupon_id"] = used.CouponID()

	def, err := s.couponRepo.FindByID(ctx, used.CouponID())
	if err != nil {
		s.fail(ctx, span, "Failed to find coupon", err, fields)
		return false, err
	}
	now := s.now()
	if !def.IsWithinValidity(now) {
		s.logger.Info(ctx, "Coupon outside validity, not reissued", fields)
		return false, nil
	}

	uc := coupon.NewUserCoupon(s.newID(), used.CouponID(), used.UserID(), def.ValidUntil(), now)
	if err := s.userCouponRepo.Create(ctx, uc); err != nil {
		s.fail(ctx, span, "Failed to reissue coupon", err, fields)
		return false, err
	}
	fields["new_user_coupon_id"] = uc.ID()
	s.logger.Info(ctx, "Coupon reissued", fields)
	return true, nil
}

// ExpireOverdue 期限を過ぎたAVAILABLE/RESERVEDのクーポンを失効させ、件数を返す
func (s *CouponApplicationService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "CouponApplicationService.ExpireOverdue")
	defer span.End()

	now := s.now()
	overdue, err := s.userCouponRepo.FindOverdue(ctx, now, limit)
	if err != nil {
		s.fail(ctx, span, "Failed to find overdue coupons", err, map[string]interface{}{})
		return 0, err
	}

	var expired int
	var errs []error
	for _, uc := range overdue {
		from, heldBy := uc.Status(), uc.OrderID()
		if err := uc.Expire(now); err != nil {
			continue
		}
		swapped, err := s.userCouponRepo.CompareAndSwap(ctx, uc, from, heldBy)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if swapped {
			expired++
			s.metrics.RecordCouponTransition(ctx, from.String(), coupon.StatusExpired.String())
		}
	}

	span.SetAttributes(attribute.Int("expired", expired))
	s.metrics.RecordSweep(ctx, "coupon_expiry", int64(expired))
	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.fail(ctx, span, "Failed to expire some coupons", err, map[string]interface{}{"expired": expired})
		return expired, err
	}
	if expired > 0 {
		s.logger.Info(ctx, "Expired overdue coupons", map[string]interface{}{"expired": expired})
	}
	return expired, nil
}

// ListAvailable ユーザーの利用可能なクーポンを取得
func (s *CouponApplicationService) ListAvailable(ctx context.Context, userID string) ([]UserCouponDetail, error) {
	ctx, span := s.tracer.Start(ctx, "CouponApplicationService.ListAvailable")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	now := s.now()
	ucs, err := s.userCouponRepo.FindAvailableByUserID(ctx, userID, now)
	if err != nil {
		s.fail(ctx, span, "Failed to list coupons", err, map[string]interface{}{"user_id": userID})
		return nil, err
	}

	defs := make(map[string]*coupon.Coupon)
	details := make([]UserCouponDetail, 0, len(ucs))
	for _, uc := range ucs {
		def, ok := defs[uc.CouponID()]
		if !ok {
			def, err = s.couponRepo.FindByID(ctx, uc.CouponID())
			if err != nil {
				s.fail(ctx, span, "Failed to find coupon", err, map[string]interface{}{"coupon_id": uc.CouponID()})
				return nil, err
			}
			defs[uc.CouponID()] = def
		}
		if !def.IsWithinValidity(now) {
			continue
		}
		details = append(details, *toDetail(uc, def))
	}
	return details, nil
}

func toDetail(uc *coupon.UserCoupon, def *coupon.Coupon) *UserCouponDetail {
	d := &UserCouponDetail{
		UserCouponID:    uc.ID(),
		CouponID:        def.ID(),
		Name:            def.Name(),
		DiscountType:    def.DiscountType().String(),
		DiscountValue:   def.DiscountValue(),
		MaximumDiscount: def.MaximumDiscount(),
		MinimumAmount:   def.MinimumAmount(),
		Status:          uc.Status().String(),
	}
	if def.DiscountType() == coupon.DiscountTypePercent {
		d.Rate = def.Rate().String()
	}
	if !uc.ExpiresAt().IsZero() {
		expiresAt := uc.ExpiresAt()
		d.ExpiresAt = &expiresAt
	}
	return d
}
