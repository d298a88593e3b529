package coupon

import "time"

// Reservation 確保したクーポンと割引額
type Reservation struct {
	UserCouponID string
	CouponID     string
	OrderID      string
	Discount     int64
}

// UserCouponDetail ユーザークーポン情報
type UserCouponDetail struct {
	UserCouponID    string
	CouponID        string
	Name            string
	DiscountType    string
	Rate            string
	DiscountValue   int64
	MaximumDiscount int64
	MinimumAmount   int64
	Status          string
	ExpiresAt       *time.Time
}
