package order

import (
	"context"
	"time"
)

// OrderRepository 注文リポジトリインターフェース
type OrderRepository interface {
	// Create 注文と明細を作成
	Create(ctx context.Context, o *Order) error

	// FindByID 注文IDで取得
	FindByID(ctx context.Context, orderID string) (*Order, error)

	// FindByIDForUpdate 注文IDで取得し行ロックを取得（トランザクション内で使用）
	FindByIDForUpdate(ctx context.Context, orderID string) (*Order, error)

	// Update ステータス・返金額・明細の返金額を更新（楽観的ロック対応）
	Update(ctx context.Context, o *Order) error

	// FindStalePending 指定時刻より前に作成されたPENDING注文を取得
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*Order, error)

	// SaveRefund 返金記録を保存
	SaveRefund(ctx context.Context, r *Refund) error
}

// SpendingReader 決済済み支出の集計
type SpendingReader interface {
	// SumSettledSpend 期間内に決済が成立した支払額（返金控除後）を支払い方法ごとに合計
	SumSettledSpend(ctx context.Context, userID string, method PaymentMethod, from, to time.Time) (int64, error)
}
