package wallet

import (
	"context"
	"time"
)

// BalanceRepository 残高リポジトリインターフェース
type BalanceRepository interface {
	// FindByUserID ユーザーIDで残高を取得
	FindByUserID(ctx context.Context, userID string) (*Balance, error)

	// FindByUserIDForUpdate ユーザーIDで残高を取得し行ロックを取得（トランザクション内で使用）
	FindByUserIDForUpdate(ctx context.Context, userID string) (*Balance, error)

	// Create 残高行を作成（既に存在する場合は何もしない）
	Create(ctx context.Context, b *Balance) error

	// Update 残高を更新（楽観的ロック対応）
	Update(ctx context.Context, b *Balance) error
}

// BatchRepository バッチリポジトリインターフェース
type BatchRepository interface {
	// FindActiveByUserID 有効で残量のあるバッチを取得（期限切れで未失効のものを含む）
	FindActiveByUserID(ctx context.Context, userID string) ([]*Batch, error)

	// FindByIDs バッチIDで取得
	FindByIDs(ctx context.Context, ids []string) ([]*Batch, error)

	// FindExpired 有効期限を過ぎて未失効のバッチを取得
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Batch, error)

	// Create 新しいバッチを作成
	Create(ctx context.Context, b *Batch) error

	// Update 残量と有効フラグを更新
	Update(ctx context.Context, b *Batch) error
}

// LedgerRepository 台帳リポジトリインターフェース（追記専用）
type LedgerRepository interface {
	// Append エントリを追記
	Append(ctx context.Context, e *LedgerEntry) error

	// FindByUserID ユーザーの台帳を新しい順に取得
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*LedgerEntry, error)

	// SumByUserID ユーザーの台帳の合計
	SumByUserID(ctx context.Context, userID string) (int64, error)
}

// AllocationRepository 消費割当リポジトリインターフェース
type AllocationRepository interface {
	// SaveAll 割当をまとめて保存
	SaveAll(ctx context.Context, allocations []*Allocation) error

	// FindByReference 発生元で割当を取得
	FindByReference(ctx context.Context, ref Reference) ([]*Allocation, error)

	// UpdateRestored 戻した量を更新
	UpdateRestored(ctx context.Context, a *Allocation) error
}
