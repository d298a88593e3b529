package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coupon クーポン定義
type Coupon struct {
	id              string
	name            string
	discountType    DiscountType
	rate            decimal.Decimal // 定率の場合のパーセント（10 = 10%）
	discountValue   int64           // 定額の場合の割引額
	maximumDiscount int64           // 定率の上限（0 = 上限なし）
	minimumAmount   int64
	validFrom       time.Time
	validUntil      time.Time
}

// NewCoupon 新しいCouponを作成
func NewCoupon(
	id, name string,
	discountType DiscountType,
	rate decimal.Decimal,
	discountValue, maximumDiscount, minimumAmount int64,
	validFrom, validUntil time.Time,
) (*Coupon, error) {
	switch discountType {
	case DiscountTypePercent:
		if rate.LessThanOrEqual(decimal.Zero) || rate.GreaterThan(decimal.NewFromInt(100)) {
			return nil, ErrInvalidCoupon
		}
	case DiscountTypeFixed:
		if discountValue <= 0 {
			return nil, ErrInvalidCoupon
		}
	default:
		return nil, ErrInvalidCoupon
	}
	if maximumDiscount < 0 || minimumAmount < 0 {
		return nil, ErrInvalidCoupon
	}
	if !validUntil.IsZero() && validUntil.Before(validFrom) {
		return nil, ErrInvalidCoupon
	}

	return &Coupon{
		id:              id,
		name:            name,
		discountType:    discountType,
		rate:            rate,
		discountValue:   discountValue,
		maximumDiscount: maximumDiscount,
		minimumAmount:   minimumAmount,
		validFrom:       validFrom,
		validUntil:      validUntil,
	}, nil
}

// MustNewCoupon テスト用ヘルパー: NewCouponを呼び出し、エラーが発生した場合はpanicする
func MustNewCoupon(
	id, name string,
	discountType DiscountType,
	rate decimal.Decimal,
	discountValue, maximumDiscount, minimumAmount int64,
	validFrom, validUntil time.Time,
) *Coupon {
	c, err := NewCoupon(id, name, discountType, rate, discountValue, maximumDiscount, minimumAmount, validFrom, validUntil)
	if err != nil {
		panic(err)
	}
	return c
}

// ID クーポンIDを返す
func (c *Coupon) ID() string {
	return c.id
}

// Name 名称を返す
func (c *Coupon) Name() string {
	return c.name
}

// DiscountType 割引方式を返す
func (c *Coupon) DiscountType() DiscountType {
	return c.discountType
}

// Rate 定率のパーセントを返す
func (c *Coupon) Rate() decimal.Decimal {
	return c.rate
}

// DiscountValue 定額の割引額を返す
func (c *Coupon) DiscountValue() int64 {
	return c.discountValue
}

// MaximumDiscount 定率の上限を返す
func (c *Coupon) MaximumDiscount() int64 {
	return c.maximumDiscount
}

// MinimumAmount 最低利用金額を返す
func (c *Coupon) MinimumAmount() int64 {
	return c.minimumAmount
}

// ValidFrom 有効開始日時を返す
func (c *Coupon) ValidFrom() time.Time {
	return c.validFrom
}

// ValidUntil 有効期限を返す（ゼロ値は無期限）
func (c *Coupon) ValidUntil() time.Time {
	return c.validUntil
}

// IsWithinValidity 有効期間内かどうか
func (c *Coupon) IsWithinValidity(now time.Time) bool {
	if now.Before(c.validFrom) {
		return false
	}
	return c.validUntil.IsZero() || now.Before(c.validUntil)
}

// Discount 基準額に対する割引額を計算する。合計が負にならないよう基準額を上限とする
func (c *Coupon) Discount(baseAmount int64) int64 {
	if baseAmount <= 0 {
		return 0
	}

	var discount int64
	switch c.discountType {
	case DiscountTypePercent:
		discount = decimal.NewFromInt(baseAmount).
			Mul(c.rate).
			Div(decimal.NewFromInt(100)).
			Floor().
			IntPart()
		if c.maximumDiscount > 0 && discount > c.maximumDiscount {
			discount = c.maximumDiscount
		}
	case DiscountTypeFixed:
		discount = c.discountValue
	}

	if discount > baseAmount {
		discount = baseAmount
	}
	return discount
}
