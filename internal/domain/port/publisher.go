package port

import (
	"context"
	"time"

	"cookie-wallet/internal/domain/apperr"
)

// ErrLockNotAcquired ロックを取得できなかった
var ErrLockNotAcquired = apperr.Conflict("lock_not_acquired", "another operation is in progress for this user")

// EventPublisher イベントの配信先
type EventPublisher interface {
	// Publish トピックにメッセージを配信
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Locker ユーザー単位の分散ロック
type Locker interface {
	// Acquire ロックを取得し、解放関数を返す
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// WalletLockKey ユーザー単位のウォレット操作ロックのキー。決済と返金で共有する
func WalletLockKey(userID string) string {
	return "wallet:lock:" + userID
}
