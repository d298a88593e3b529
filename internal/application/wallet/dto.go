package wallet

import (
	"time"

	"cookie-wallet/internal/domain/wallet"
)

// DebitRequest 消費リクエスト
type DebitRequest struct {
	UserID      string
	Amount      int64
	Reference   wallet.Reference
	ReleaseHold bool // 決済時に確保済みの量を同時に解放する
}

// CreditRequest 付与リクエスト
type CreditRequest struct {
	UserID    string
	Amount    int64
	BatchType wallet.BatchType
	Source    wallet.BatchSource
	ExpiresAt *time.Time // nilの場合は出所ごとの既定TTL
	Reference wallet.Reference
}

// RestoreRequest 返金による戻しリクエスト
type RestoreRequest struct {
	UserID          string
	Amount          int64
	OrderReference  wallet.Reference // 元の消費
	RefundReference wallet.Reference // 台帳に記録する返金
}

// AllocationDetail 消費したバッチと量
type AllocationDetail struct {
	BatchID   string
	BatchType string
	Quantity  int64
}

// MutationResponse 残高変更の結果
type MutationResponse struct {
	UserID       string
	EntryID      string
	Amount       int64
	BalanceAfter int64
	Available    int64
	Allocations  []AllocationDetail
}

// RestoreResponse 返金による戻しの結果
type RestoreResponse struct {
	UserID          string
	EntryID         string
	Amount          int64
	RestoredInPlace int64    // 元のバッチへ戻した量
	Reissued        int64    // 新しいREFUNDバッチで戻した量
	NewBatchIDs     []string // 作成したREFUNDバッチ
	BalanceAfter    int64
}

// BatchDetail バッチ情報
type BatchDetail struct {
	BatchID   string
	BatchType string
	Source    string
	QtyTotal  int64
	QtyRemain int64
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// WalletResponse ウォレット情報
type WalletResponse struct {
	UserID       string
	Amount       int64
	FrozenAmount int64
	Available    int64
	DailyLimit   int64
	MonthlyLimit int64
	Batches      []BatchDetail
}

// LedgerEntryDetail 台帳エントリ
type LedgerEntryDetail struct {
	EntryID       string
	EntryType     string
	CookieAmount  int64
	BalanceAfter  int64
	ReferenceType string
	ReferenceID   string
	CreatedAt     time.Time
}

// HistoryResponse 台帳履歴
type HistoryResponse struct {
	UserID  string
	Entries []LedgerEntryDetail
	Limit   int
	Offset  int
}

// ReconcileResponse 照合結果
type ReconcileResponse struct {
	UserID         string
	Amount         int64
	LedgerSum      int64
	BatchRemainSum int64
	Consistent     bool
}

// ExpireResponse 失効処理の結果
type ExpireResponse struct {
	Batches   int
	Users     int
	Forfeited int64
}
