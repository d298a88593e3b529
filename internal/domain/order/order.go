package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LineItem 注文明細
type LineItem struct {
	id             string
	itemType       ItemType
	itemID         string
	quantity       int
	unitPrice      int64 // サーバー側で解決した単価
	cookieQuantity int64 // バンドル1個あたりの付与クッキー数
	refundedAmount int64
}

// NewLineItem 新しい明細を作成
func NewLineItem(id string, itemType ItemType, itemID string, quantity int, unitPrice, cookieQuantity int64) (*LineItem, error) {
	if quantity <= 0 || quantity > MaxBundleQuantity {
		return nil, ErrInvalidQuantity
	}
	if unitPrice < 0 || cookieQuantity < 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := MulAmount(unitPrice, int64(quantity)); err != nil {
		return nil, err
	}
	if _, err := MulAmount(cookieQuantity, int64(quantity)); err != nil {
		return nil, err
	}
	return &LineItem{
		id:             id,
		itemType:       itemType,
		itemID:         itemID,
		quantity:       quantity,
		unitPrice:      unitPrice,
		cookieQuantity: cookieQuantity,
	}, nil
}

// RestoreLineItem 永続化された明細を復元
func RestoreLineItem(id string, itemType ItemType, itemID string, quantity int, unitPrice, cookieQuantity, refundedAmount int64) *LineItem {
	return &LineItem{
		id:             id,
		itemType:       itemType,
		itemID:         itemID,
		quantity:       quantity,
		unitPrice:      unitPrice,
		cookieQuantity: cookieQuantity,
		refundedAmount: refundedAmount,
	}
}

// ID 明細IDを返す
func (li *LineItem) ID() string { return li.id }

// ItemType 明細種別を返す
func (li *LineItem) ItemType() ItemType { return li.itemType }

// ItemID カタログ上のIDを返す
func (li *LineItem) ItemID() string { return li.itemID }

// Quantity 数量を返す
func (li *LineItem) Quantity() int { return li.quantity }

// UnitPrice 単価を返す
func (li *LineItem) UnitPrice() int64 { return li.unitPrice }

// CookieQuantity バンドル1個あたりのクッキー数を返す
func (li *LineItem) CookieQuantity() int64 { return li.cookieQuantity }

// RefundedAmount この明細に対する返金済み額を返す
func (li *LineItem) RefundedAmount() int64 { return li.refundedAmount }

// LineTotal 明細合計を返す
func (li *LineItem) LineTotal() int64 {
	return li.unitPrice * int64(li.quantity)
}

// Order 注文エンティティ
type Order struct {
	id                 string
	userID             string
	items              []*LineItem
	paymentMethod      PaymentMethod
	status             Status
	subtotal           int64 // サーバー計算の明細合計
	discountAmount     int64
	totalAmount        int64 // 実際に支払う額
	refundedAmount     int64
	couponRedemptionID string
	idempotencyKey     string
	gatewayRef         string
	failureReason      string
	paidAt             *time.Time
	version            int
	createdAt          time.Time
	updatedAt          time.Time
}

// NewOrder 検証済みの内容から新しいPENDING注文を作成
func NewOrder(
	id, userID string,
	items []*LineItem,
	method PaymentMethod,
	discountAmount int64,
	couponRedemptionID, idempotencyKey string,
	now time.Time,
) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	if method != PaymentMethodCash && method != PaymentMethodCookie {
		return nil, ErrMixedPaymentUnsupported
	}

	var subtotal, grant int64
	for _, li := range items {
		if li.itemType.IsBundle() && method != PaymentMethodCash {
			return nil, ErrBundleRequiresCash
		}
		var err error
		if subtotal, err = AddAmount(subtotal, li.LineTotal()); err != nil {
			return nil, err
		}
		if li.itemType.IsBundle() {
			if grant, err = AddAmount(grant, li.cookieQuantity*int64(li.quantity)); err != nil {
				return nil, err
			}
		}
	}
	if discountAmount < 0 || discountAmount > subtotal {
		return nil, ErrInvalidAmount
	}

	return &Order{
		id:                 id,
		userID:             userID,
		items:              items,
		paymentMethod:      method,
		status:             StatusPending,
		subtotal:           subtotal,
		discountAmount:     discountAmount,
		totalAmount:        subtotal - discountAmount,
		couponRedemptionID: couponRedemptionID,
		idempotencyKey:     idempotencyKey,
		createdAt:          now,
		updatedAt:          now,
	}, nil
}

// RestoreParams 永続化された注文の復元パラメータ
type RestoreParams struct {
	ID                 string
	UserID             string
	Items              []*LineItem
	PaymentMethod      PaymentMethod
	Status             Status
	Subtotal           int64
	DiscountAmount     int64
	TotalAmount        int64
	RefundedAmount     int64
	CouponRedemptionID string
	IdempotencyKey     string
	GatewayRef         string
	FailureReason      string
	PaidAt             *time.Time
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Restore 永続化された注文を復元
func Restore(p RestoreParams) *Order {
	return &Order{
		id:                 p.ID,
		userID:             p.UserID,
		items:              p.Items,
		paymentMethod:      p.PaymentMethod,
		status:             p.Status,
		subtotal:           p.Subtotal,
		discountAmount:     p.DiscountAmount,
		totalAmount:        p.TotalAmount,
		refundedAmount:     p.RefundedAmount,
		couponRedemptionID: p.CouponRedemptionID,
		idempotencyKey:     p.IdempotencyKey,
		gatewayRef:         p.GatewayRef,
		failureReason:      p.FailureReason,
		paidAt:             p.PaidAt,
		version:            p.Version,
		createdAt:          p.CreatedAt,
		updatedAt:          p.UpdatedAt,
	}
}

// ID 注文IDを返す
func (o *Order) ID() string { return o.id }

// UserID 注文者のユーザーIDを返す
func (o *Order) UserID() string { return o.userID }

// Items 明細を返す
func (o *Order) Items() []*LineItem { return o.items }

// PaymentMethod 支払い方法を返す
func (o *Order) PaymentMethod() PaymentMethod { return o.paymentMethod }

// Status ステータスを返す
func (o *Order) Status() Status { return o.status }

// Subtotal 割引前の合計を返す
func (o *Order) Subtotal() int64 { return o.subtotal }

// DiscountAmount 割引額を返す
func (o *Order) DiscountAmount() int64 { return o.discountAmount }

// TotalAmount 支払総額を返す
func (o *Order) TotalAmount() int64 { return o.totalAmount }

// RefundedAmount 返金済み額を返す
func (o *Order) RefundedAmount() int64 { return o.refundedAmount }

// CouponRedemptionID 適用したクーポン引き換えIDを返す
func (o *Order) CouponRedemptionID() string { return o.couponRedemptionID }

// IdempotencyKey 作成時の冪等性キーを返す
func (o *Order) IdempotencyKey() string { return o.idempotencyKey }

// GatewayRef 決済ゲートウェイの参照IDを返す
func (o *Order) GatewayRef() string { return o.gatewayRef }

// FailureReason 失敗理由を返す
func (o *Order) FailureReason() string { return o.failureReason }

// PaidAt 決済日時を返す
func (o *Order) PaidAt() *time.Time { return o.paidAt }

// Version バージョンを返す
func (o *Order) Version() int { return o.version }

// CreatedAt 作成日時を返す
func (o *Order) CreatedAt() time.Time { return o.createdAt }

// UpdatedAt 更新日時を返す
func (o *Order) UpdatedAt() time.Time { return o.updatedAt }

// HasCoupon クーポンが適用されているかどうか
func (o *Order) HasCoupon() bool {
	return o.couponRedemptionID != ""
}

// CookieAmount クッキーで支払う額
func (o *Order) CookieAmount() int64 {
	if o.paymentMethod.IsCookie() {
		return o.totalAmount
	}
	return 0
}

// CashAmount 現金で支払う額
func (o *Order) CashAmount() int64 {
	if o.paymentMethod.IsCash() {
		return o.totalAmount
	}
	return 0
}

// HasBundle クッキーバンドルを含むかどうか
func (o *Order) HasBundle() bool {
	for _, li := range o.items {
		if li.itemType.IsBundle() {
			return true
		}
	}
	return false
}

// CookieGrantTotal 決済時に付与するクッキーの総数
func (o *Order) CookieGrantTotal() int64 {
	var total int64
	for _, li := range o.items {
		if li.itemType.IsBundle() {
			total += li.cookieQuantity * int64(li.quantity)
		}
	}
	return total
}

// RemainingRefundable 残りの返金可能額
func (o *Order) RemainingRefundable() int64 {
	return o.totalAmount - o.refundedAmount
}

// EnsureOwner 注文の所有者かどうかを検証
func (o *Order) EnsureOwner(userID string) error {
	if o.userID != userID {
		return ErrNotOwner
	}
	return nil
}

// IncrementVersion バージョンをインクリメント（楽観的ロック用）
func (o *Order) IncrementVersion() {
	o.version++
}

func (o *Order) transition(to Status, now time.Time) error {
	if err := Transition(o.status, to); err != nil {
		return err
	}
	o.status = to
	o.updatedAt = now
	return nil
}

// MarkPaid 決済完了にする
func (o *Order) MarkPaid(gatewayRef string, now time.Time) error {
	if err := o.transition(StatusPaid, now); err != nil {
		return err
	}
	o.gatewayRef = gatewayRef
	o.paidAt = &now
	return nil
}

// MarkFailed 決済失敗にする
func (o *Order) MarkFailed(reason string, now time.Time) error {
	if err := o.transition(StatusFailed, now); err != nil {
		return err
	}
	o.failureReason = reason
	return nil
}

// Cancel 決済前の注文をキャンセルする
func (o *Order) Cancel(reason string, now time.Time) error {
	if err := o.transition(StatusCancelled, now); err != nil {
		return err
	}
	o.failureReason = reason
	return nil
}

// CheckRefundable 返金可能な注文かどうかを検証
func (o *Order) CheckRefundable() error {
	if o.status != StatusPaid && o.status != StatusPartialRefunded {
		return fmt.Errorf("%w: status is %s", ErrNotRefundable, o.status)
	}
	if o.HasBundle() {
		return fmt.Errorf("%w: order contains cookie bundles", ErrNotRefundable)
	}
	return nil
}

// shareOf 割引を按分した明細の実支払額（切り捨て）
func (o *Order) shareOf(li *LineItem) int64 {
	if o.subtotal == 0 {
		return 0
	}
	return decimal.NewFromInt(li.LineTotal()).
		Mul(decimal.NewFromInt(o.totalAmount)).
		Div(decimal.NewFromInt(o.subtotal)).
		Floor().
		IntPart()
}

// RefundAmountForItems 明細指定の返金額を按分して算出する。
// 未返金の明細がすべて選ばれた場合は端数を最後の明細に寄せ、残額ちょうどになる。
func (o *Order) RefundAmountForItems(lineItemIDs []string) (int64, map[string]int64, error) {
	if len(lineItemIDs) == 0 {
		return 0, nil, ErrInvalidRefundAmount
	}

	byID := make(map[string]*LineItem, len(o.items))
	for _, li := range o.items {
		byID[li.id] = li
	}

	perLine := make(map[string]int64, len(lineItemIDs))
	var total int64
	var lastID string
	for _, id := range lineItemIDs {
		li, ok := byID[id]
		if !ok {
			return 0, nil, fmt.Errorf("%w: %s", ErrUnknownLineItem, id)
		}
		if _, dup := perLine[id]; dup {
			return 0, nil, fmt.Errorf("%w: %s", ErrDuplicateItem, id)
		}
		amount := o.shareOf(li) - li.refundedAmount
		if amount < 0 {
			amount = 0
		}
		perLine[id] = amount
		total += amount
		lastID = id
	}

	coversAll := true
	for _, li := range o.items {
		if _, selected := perLine[li.id]; selected {
			continue
		}
		if li.refundedAmount < o.shareOf(li) {
			coversAll = false
			break
		}
	}
	if coversAll {
		if diff := o.RemainingRefundable() - total; diff > 0 {
			perLine[lastID] += diff
			total += diff
		}
	}

	if total <= 0 {
		return 0, nil, ErrInvalidRefundAmount
	}
	return total, perLine, nil
}

// ApplyRefund 返金を反映しステータスを遷移させる。perLineはnil可（金額指定の返金）
func (o *Order) ApplyRefund(amount int64, perLine map[string]int64, now time.Time) error {
	if err := o.CheckRefundable(); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidRefundAmount
	}
	remaining := o.RemainingRefundable()
	if amount > remaining {
		return &RefundExceedsError{Requested: amount, Remaining: remaining}
	}

	next := StatusPartialRefunded
	if amount == remaining {
		next = StatusRefunded
	}
	if err := o.transition(next, now); err != nil {
		return err
	}

	for _, li := range o.items {
		if v, ok := perLine[li.id]; ok {
			li.refundedAmount += v
		}
	}
	o.refundedAmount += amount
	return nil
}

// IsFullyRefunded 全額返金済みかどうか
func (o *Order) IsFullyRefunded() bool {
	return o.status == StatusRefunded
}

// Refund 返金記録
type Refund struct {
	ID          string
	OrderID     string
	UserID      string
	Amount      int64
	Reason      string
	LineItemIDs []string
	CreatedAt   time.Time
}

// NewRefund 新しい返金記録を作成
func NewRefund(id, orderID, userID string, amount int64, reason string, lineItemIDs []string, now time.Time) *Refund {
	return &Refund{
		ID:          id,
		OrderID:     orderID,
		UserID:      userID,
		Amount:      amount,
		Reason:      reason,
		LineItemIDs: lineItemIDs,
		CreatedAt:   now,
	}
}
