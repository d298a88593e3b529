package coupon

import "cookie-wallet/internal/domain/apperr"

var (
	// ErrCouponNotFound クーポンが見つからない
	ErrCouponNotFound = apperr.Validation("coupon_not_found", "coupon not found")
	// ErrCouponNotOwned 他ユーザーのクーポン
	ErrCouponNotOwned = apperr.Validation("coupon_not_owned", "coupon does not belong to the user")
	// ErrCouponNotAvailable 利用可能状態ではない
	ErrCouponNotAvailable = apperr.Validation("coupon_not_available", "coupon is not available")
	// ErrCouponExpired 有効期限切れ
	ErrCouponExpired = apperr.Validation("coupon_expired", "coupon has expired")
	// ErrCouponNotYetValid 有効期間前
	ErrCouponNotYetValid = apperr.Validation("coupon_not_yet_valid", "coupon is not yet valid")
	// ErrBelowMinimumAmount 最低利用金額に満たない
	ErrBelowMinimumAmount = apperr.Validation("coupon_below_minimum", "order amount is below the coupon minimum")
	// ErrInvalidCoupon クーポン定義が不正
	ErrInvalidCoupon = apperr.Validation("invalid_coupon", "invalid coupon definition")

	// ErrReservationLost 同時確保に負けた
	ErrReservationLost = apperr.Conflict("coupon_reservation_lost", "coupon was reserved by a concurrent request")

	// ErrInvalidTransition 許可されていないステータス遷移
	ErrInvalidTransition = apperr.State("invalid_coupon_transition", "invalid coupon status transition")
)
