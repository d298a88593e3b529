package idempotency

import (
	"context"
	"time"
)

// RecordRepository 冪等性レコードリポジトリインターフェース
type RecordRepository interface {
	// InsertIfAbsent (user_id, key) が存在しない場合のみ挿入する。挿入した場合true
	InsertIfAbsent(ctx context.Context, r *Record) (bool, error)

	// Find (user_id, key) で取得
	Find(ctx context.Context, userID, key string) (*Record, error)

	// ReplaceExpired 保持期限切れの確定済みレコードを新しいPENDINGレコードで置き換える。置き換えた場合true
	ReplaceExpired(ctx context.Context, r *Record, now time.Time) (bool, error)

	// Terminalize PENDINGのレコードを確定状態で更新する。PENDINGでなければfalse
	Terminalize(ctx context.Context, r *Record) (bool, error)

	// DeleteExpired 保持期限切れの確定済みレコードを削除する（PENDINGは対象外）
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)

	// CountStalePending 指定時刻より前に作成されたPENDINGレコード数
	CountStalePending(ctx context.Context, createdBefore time.Time) (int64, error)
}
