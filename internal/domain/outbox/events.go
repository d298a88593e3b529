package outbox

import "time"

// PaymentCompletedItem 受講登録向けの明細
type PaymentCompletedItem struct {
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// PaymentCompleted 決済完了イベント。購読側は order_id で冪等に処理する
type PaymentCompleted struct {
	OrderID       string                 `json:"order_id"`
	UserID        string                 `json:"user_id"`
	Items         []PaymentCompletedItem `json:"items"`
	PaymentMethod string                 `json:"payment_method"`
	TotalAmount   int64                  `json:"total_amount"`
	SettledAt     time.Time              `json:"settled_at"`
}

// PaymentRefunded 返金イベント
type PaymentRefunded struct {
	OrderID       string    `json:"order_id"`
	RefundID      string    `json:"refund_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	RefundedTotal int64     `json:"refunded_total"`
	FullyRefunded bool      `json:"fully_refunded"`
	RefundedAt    time.Time `json:"refunded_at"`
}
