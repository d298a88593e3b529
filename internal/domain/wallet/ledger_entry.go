package wallet

import (
	"time"
)

// 参照種別
const (
	ReferenceTypeOrder  = "ORDER"
	ReferenceTypeRefund = "REFUND"
	ReferenceTypeGrant  = "ADMIN_GRANT"
	ReferenceTypeExpiry = "BATCH_EXPIRY"
)

// Reference 台帳エントリの発生元。外部キーではなく種別とIDの組で保持する
type Reference struct {
	Type string
	ID   string
}

// LedgerEntry 追記専用の台帳エントリ
type LedgerEntry struct {
	id           string
	userID       string
	entryType    EntryType
	cookieAmount int64 // 符号付き
	balanceAfter int64
	reference    Reference
	createdAt    time.Time
}

// NewLedgerEntry 新しい台帳エントリを作成。DEBIT/EXPIREは負、CHARGE/REFUNDは正で記録する
func NewLedgerEntry(id, userID string, entryType EntryType, qty, balanceAfter int64, ref Reference, now time.Time) (*LedgerEntry, error) {
	if qty <= 0 {
		return nil, ErrInvalidAmount
	}
	signed := qty
	if entryType == EntryTypeDebit || entryType == EntryTypeExpire {
		signed = -qty
	}
	return &LedgerEntry{
		id:           id,
		userID:       userID,
		entryType:    entryType,
		cookieAmount: signed,
		balanceAfter: balanceAfter,
		reference:    ref,
		createdAt:    now,
	}, nil
}

// RestoreLedgerEntry 永続化された台帳エントリを復元
func RestoreLedgerEntry(id, userID string, entryType EntryType, cookieAmount, balanceAfter int64, ref Reference, createdAt time.Time) *LedgerEntry {
	return &LedgerEntry{
		id:           id,
		userID:       userID,
		entryType:    entryType,
		cookieAmount: cookieAmount,
		balanceAfter: balanceAfter,
		reference:    ref,
		createdAt:    createdAt,
	}
}

// ID エントリIDを返す
func (e *LedgerEntry) ID() string { return e.id }

// UserID ユーザーIDを返す
func (e *LedgerEntry) UserID() string { return e.userID }

// Type エントリ種別を返す
func (e *LedgerEntry) Type() EntryType { return e.entryType }

// CookieAmount 増減したクッキー数を返す
func (e *LedgerEntry) CookieAmount() int64 { return e.cookieAmount }

// BalanceAfter 適用後の残高を返す
func (e *LedgerEntry) BalanceAfter() int64 { return e.balanceAfter }

// Reference 参照元を返す
func (e *LedgerEntry) Reference() Reference { return e.reference }

// CreatedAt 記帳日時を返す
func (e *LedgerEntry) CreatedAt() time.Time { return e.createdAt }
