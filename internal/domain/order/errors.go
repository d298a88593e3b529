package order

import (
	"fmt"
	"strings"

	"cookie-wallet/internal/domain/apperr"
)

var (
	// ErrEmptyOrder 明細が空
	ErrEmptyOrder = apperr.Validation("empty_order", "order has no line items")
	// ErrMixedPaymentUnsupported 現金とクッキーの併用は未対応
	ErrMixedPaymentUnsupported = apperr.Validation("mixed_payment_unsupported", "mixed cash and cookie payment is not supported")
	// ErrPaymentMethodMismatch 申告された支払い方法と金額の内訳が一致しない
	ErrPaymentMethodMismatch = apperr.Validation("payment_method_mismatch", "payment method does not match the submitted amounts")
	// ErrInvalidAmount 無効な金額
	ErrInvalidAmount = apperr.Validation("invalid_amount", "invalid amount")
	// ErrInvalidQuantity 無効な数量
	ErrInvalidQuantity = apperr.Validation("invalid_quantity", "invalid quantity")
	// ErrAmountTooLarge 金額が扱える範囲を超える
	ErrAmountTooLarge = apperr.Validation("amount_too_large", "amount exceeds the supported range")
	// ErrInvalidItemType 無効な明細種別
	ErrInvalidItemType = apperr.Validation("invalid_item_type", "invalid item type")
	// ErrDuplicateItem 同一講座・セクションの重複
	ErrDuplicateItem = apperr.Validation("duplicate_item", "duplicate line item")
	// ErrBundleRequiresCash クッキーバンドルは現金でのみ購入可能
	ErrBundleRequiresCash = apperr.Validation("bundle_requires_cash", "cookie bundles can only be purchased with cash")
	// ErrUnresolvedItems カタログに存在しない明細がある
	ErrUnresolvedItems = apperr.Validation("unresolved_items", "unresolved catalog items")
	// ErrAmountMismatch サーバー計算額と申告額が一致しない
	ErrAmountMismatch = apperr.Validation("amount_mismatch", "submitted total does not match server total")
	// ErrInvalidRefundAmount 無効な返金額
	ErrInvalidRefundAmount = apperr.Validation("invalid_refund_amount", "refund amount must be positive")
	// ErrUnknownLineItem 注文に含まれない明細ID
	ErrUnknownLineItem = apperr.Validation("unknown_line_item", "line item does not belong to the order")

	// ErrOrderNotFound 注文が見つからない
	ErrOrderNotFound = apperr.NotFound("order_not_found", "order not found")
	// ErrNotOwner 注文の所有者ではない
	ErrNotOwner = apperr.Unauthorized("not_order_owner", "order belongs to another user")

	// ErrInvalidTransition 許可されていないステータス遷移
	ErrInvalidTransition = apperr.State("invalid_order_transition", "invalid order status transition")
	// ErrNotRefundable 返金できない注文
	ErrNotRefundable = apperr.State("order_not_refundable", "order is not refundable")
	// ErrRefundExceedsRemaining 返金額が残りの返金可能額を超える
	ErrRefundExceedsRemaining = apperr.State("refund_exceeds_remaining", "refund amount exceeds remaining refundable amount")

	// ErrVersionConflict 楽観的ロック失敗
	ErrVersionConflict = apperr.Conflict("order_version_conflict", "order was modified concurrently")
)

// UnresolvedItemsError 解決できなかった明細IDをすべて保持する
type UnresolvedItemsError struct {
	IDs []string
}

func (e *UnresolvedItemsError) Error() string {
	return fmt.Sprintf("unresolved catalog items: %s", strings.Join(e.IDs, ", "))
}

func (e *UnresolvedItemsError) Unwrap() error {
	return ErrUnresolvedItems
}

// AmountMismatchError 期待値と申告値の両方を保持する
type AmountMismatchError struct {
	Expected int64
	Received int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("submitted total does not match: expected %d, received %d", e.Expected, e.Received)
}

func (e *AmountMismatchError) Unwrap() error {
	return ErrAmountMismatch
}

// RefundExceedsError 要求額と残額を保持する
type RefundExceedsError struct {
	Requested int64
	Remaining int64
}

func (e *RefundExceedsError) Error() string {
	return fmt.Sprintf("refund amount %d exceeds remaining refundable amount %d", e.Requested, e.Remaining)
}

func (e *RefundExceedsError) Unwrap() error {
	return ErrRefundExceedsRemaining
}
