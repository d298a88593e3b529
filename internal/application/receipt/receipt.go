// Package receipt 注文の結果を表す共通のレスポンス。冪等性レコードにもこの形でキャッシュする
package receipt

import (
	"time"

	"cookie-wallet/internal/domain/order"
)

// ItemLine 明細
type ItemLine struct {
	LineItemID     string `json:"line_item_id"`
	ItemType       string `json:"item_type"`
	ItemID         string `json:"item_id"`
	Quantity       int    `json:"quantity"`
	UnitPrice      int64  `json:"unit_price"`
	LineTotal      int64  `json:"line_total"`
	RefundedAmount int64  `json:"refunded_amount"`
}

// Receipt 注文の状態
type Receipt struct {
	OrderID            string     `json:"order_id"`
	UserID             string     `json:"user_id"`
	Status             string     `json:"status"`
	PaymentMethod      string     `json:"payment_method"`
	Subtotal           int64      `json:"subtotal"`
	DiscountAmount     int64      `json:"discount_amount"`
	TotalAmount        int64      `json:"total_amount"`
	RefundedAmount     int64      `json:"refunded_amount"`
	CouponRedemptionID string     `json:"coupon_redemption_id,omitempty"`
	GatewayRef         string     `json:"gateway_ref,omitempty"`
	CookiesGranted     int64      `json:"cookies_granted,omitempty"`
	Items              []ItemLine `json:"items"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// FromOrder 注文からReceiptを作成
func FromOrder(o *order.Order) *Receipt {
	r := &Receipt{
		OrderID:            o.ID(),
		UserID:             o.UserID(),
		Status:             o.Status().String(),
		PaymentMethod:      o.PaymentMethod().String(),
		Subtotal:           o.Subtotal(),
		DiscountAmount:     o.DiscountAmount(),
		TotalAmount:        o.TotalAmount(),
		RefundedAmount:     o.RefundedAmount(),
		CouponRedemptionID: o.CouponRedemptionID(),
		GatewayRef:         o.GatewayRef(),
		Items:              make([]ItemLine, 0, len(o.Items())),
		PaidAt:             o.PaidAt(),
		CreatedAt:          o.CreatedAt(),
	}
	if o.Status() != order.StatusPending {
		r.CookiesGranted = o.CookieGrantTotal()
	}
	for _, li := range o.Items() {
		r.Items = append(r.Items, ItemLine{
			LineItemID:     li.ID(),
			ItemType:       li.ItemType().String(),
			ItemID:         li.ItemID(),
			Quantity:       li.Quantity(),
			UnitPrice:      li.UnitPrice(),
			LineTotal:      li.LineTotal(),
			RefundedAmount: li.RefundedAmount(),
		})
	}
	return r
}
