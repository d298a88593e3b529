package coupon

import (
	"context"
	"time"
)

// CouponRepository クーポン定義リポジトリインターフェース
type CouponRepository interface {
	// FindByID クーポンIDで定義を取得
	FindByID(ctx context.Context, couponID string) (*Coupon, error)
}

// UserCouponRepository ユーザークーポンリポジトリインターフェース
type UserCouponRepository interface {
	// FindByID 引き換えIDで取得
	FindByID(ctx context.Context, id string) (*UserCoupon, error)

	// FindAvailableByUserID ユーザーの利用可能なクーポンを取得
	FindAvailableByUserID(ctx context.Context, userID string, now time.Time) ([]*UserCoupon, error)

	// FindOverdue 期限を過ぎたAVAILABLE/RESERVEDのクーポンを取得
	FindOverdue(ctx context.Context, now time.Time, limit int) ([]*UserCoupon, error)

	// Create 新しいユーザークーポンを作成
	Create(ctx context.Context, uc *UserCoupon) error

	// CompareAndSwap ステータスがfromかつ確保中の注文がfromOrderIDの場合のみucの状態で更新する。
	// fromOrderIDが空なら未確保であることを条件にする。更新できなければfalse
	CompareAndSwap(ctx context.Context, uc *UserCoupon, from Status, fromOrderID string) (bool, error)
}
