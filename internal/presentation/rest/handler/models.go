package handler

import (
	"time"

	"cookie-wallet/internal/application/receipt"
)

// CheckoutItem 明細
// @Description 購入する明細
type CheckoutItem struct {
	ItemType  string `json:"item_type" example:"COURSE"`
	ItemID    string `json:"item_id" example:"course-1"`
	Quantity  int    `json:"quantity" example:"1"`
	UnitPrice int64  `json:"unit_price" example:"1000"`
}

// CheckoutRequest 決済検証リクエスト
// @Description 決済検証リクエスト。Idempotency-Keyヘッダー必須
type CheckoutRequest struct {
	Items              []CheckoutItem `json:"items"`
	PaymentMethod      string         `json:"payment_method" example:"COOKIE"`
	CashAmount         int64          `json:"cash_amount" example:"0"`
	CookieAmount       int64          `json:"cookie_amount" example:"900"`
	CouponRedemptionID string         `json:"coupon_redemption_id,omitempty" example:"uc-1"`
}

// RefundRequest 返金リクエスト
// @Description line_item_idsかamountのどちらか一方を指定
type RefundRequest struct {
	LineItemIDs []string `json:"line_item_ids,omitempty"`
	Amount      int64    `json:"amount,omitempty" example:"500"`
	Reason      string   `json:"reason" example:"customer request"`
}

// ReceiptResponse 注文の結果
type ReceiptResponse = receipt.Receipt

// BatchResponse バッチ
type BatchResponse struct {
	BatchID   string     `json:"batch_id"`
	BatchType string     `json:"batch_type"`
	Source    string     `json:"source"`
	QtyTotal  int64      `json:"qty_total"`
	QtyRemain int64      `json:"qty_remain"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// WalletResponse ウォレット
type WalletResponse struct {
	UserID       string          `json:"user_id"`
	Amount       int64           `json:"amount"`
	FrozenAmount int64           `json:"frozen_amount"`
	Available    int64           `json:"available"`
	DailyLimit   int64           `json:"daily_limit"`
	MonthlyLimit int64           `json:"monthly_limit"`
	Batches      []BatchResponse `json:"batches"`
}

// LedgerEntryResponse 台帳エントリ
type LedgerEntryResponse struct {
	EntryID       string    `json:"entry_id"`
	EntryType     string    `json:"entry_type"`
	CookieAmount  int64     `json:"cookie_amount"`
	BalanceAfter  int64     `json:"balance_after"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// LedgerResponse 台帳履歴
type LedgerResponse struct {
	Entries []LedgerEntryResponse `json:"entries"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// CouponResponse 利用可能なクーポン
type CouponResponse struct {
	UserCouponID    string     `json:"user_coupon_id"`
	CouponID        string     `json:"coupon_id"`
	Name            string     `json:"name"`
	DiscountType    string     `json:"discount_type"`
	Rate            string     `json:"rate,omitempty"`
	DiscountValue   int64      `json:"discount_value,omitempty"`
	MaximumDiscount int64      `json:"maximum_discount,omitempty"`
	MinimumAmount   int64      `json:"minimum_amount"`
	Status          string     `json:"status"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// GrantRequest クッキー付与リクエスト
type GrantRequest struct {
	Amount    int64      `json:"amount" example:"500"`
	Kind      string     `json:"kind" example:"BONUS"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason" example:"campaign"`
}

// IssueCouponRequest クーポン発行リクエスト
type IssueCouponRequest struct {
	CouponID string `json:"coupon_id" example:"spring-10"`
}

// ReconcileResponse 照合結果
type ReconcileResponse struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	LedgerSum      int64  `json:"ledger_sum"`
	BatchRemainSum int64  `json:"batch_remain_sum"`
	Consistent     bool   `json:"consistent"`
}
