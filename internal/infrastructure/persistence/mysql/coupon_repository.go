package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/coupon"
)

// CouponRepository MySQL実装のCouponRepository
type CouponRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewCouponRepository 新しいCouponRepositoryを作成
func NewCouponRepository(db *DB) *CouponRepository {
	return &CouponRepository{
		db:     db,
		tracer: otel.Tracer("coupon-repository"),
	}
}

// FindByID クーポン定義を取得
func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (*coupon.Coupon, error) {
	ctx, span := r.tracer.Start(ctx, "CouponRepository.FindByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.coupon_id", couponID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "coupons"),
	)

	query := `
		SELECT coupon_id, name, discount_type, rate, discount_value, maximum_discount, minimum_amount, valid_from, valid_until
		FROM coupons
		WHERE coupon_id = ?
	`

	var (
		id, name, discountType                        string
		rate                                          decimal.Decimal
		discountValue, maximumDiscount, minimumAmount int64
		validFrom                                     time.Time
		validUntil                                    sql.NullTime
	)
	err := r.db.conn(ctx).QueryRowContext(ctx, query, couponID).Scan(
		&id, &name, &discountType, &rate, &discountValue, &maximumDiscount, &minimumAmount, &validFrom, &validUntil,
	)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "coupon not found")
		return nil, coupon.ErrCouponNotFound
	}
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to find coupon: %w", err)
	}

	dt, err := coupon.NewDiscountType(discountType)
	if err != nil {
		return nil, fmt.Errorf("invalid discount type: %w", err)
	}
	c, err := coupon.NewCoupon(id, name, dt, rate, discountValue, maximumDiscount, minimumAmount, validFrom, validUntil.Time)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct coupon entity: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "coupon found")
	return c, nil
}
