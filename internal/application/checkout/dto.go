package checkout

import "cookie-wallet/internal/application/receipt"

// ItemInput 明細の入力
type ItemInput struct {
	ItemType  string `json:"item_type"`
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// CheckoutRequest 決済検証リクエスト。冪等性キーはハッシュ対象に含めない
type CheckoutRequest struct {
	UserID             string      `json:"user_id"`
	IdempotencyKey     string      `json:"-"`
	Items              []ItemInput `json:"items"`
	PaymentMethod      string      `json:"payment_method"`
	CashAmount         int64       `json:"cash_amount"`
	CookieAmount       int64       `json:"cookie_amount"`
	CouponRedemptionID string      `json:"coupon_redemption_id,omitempty"`
}

// CheckoutResponse 決済検証レスポンス
type CheckoutResponse struct {
	Receipt  *receipt.Receipt
	Replayed bool
}
