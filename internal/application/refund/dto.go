package refund

// RefundRequest 返金リクエスト。明細指定か金額指定のどちらか一方
type RefundRequest struct {
	UserID         string   `json:"user_id"`
	OrderID        string   `json:"order_id"`
	IdempotencyKey string   `json:"-"`
	LineItemIDs    []string `json:"line_item_ids,omitempty"`
	Amount         int64    `json:"amount,omitempty"`
	Reason         string   `json:"reason"`
}

// RefundResponse 返金結果。冪等性レコードにこの形でキャッシュする
type RefundResponse struct {
	RefundID        string `json:"refund_id"`
	OrderID         string `json:"order_id"`
	Amount          int64  `json:"amount"`
	RefundedTotal   int64  `json:"refunded_total"`
	Remaining       int64  `json:"remaining"`
	Status          string `json:"status"`
	FullyRefunded   bool   `json:"fully_refunded"`
	CookiesRestored int64  `json:"cookies_restored,omitempty"`
	CouponReissued  bool   `json:"coupon_reissued"`
	Replayed        bool   `json:"-"`
}
