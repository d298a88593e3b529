package wallet

import (
	"fmt"

	"cookie-wallet/internal/domain/apperr"
)

var (
	// ErrInvalidAmount 無効な数量
	ErrInvalidAmount = apperr.Validation("invalid_amount", "invalid cookie amount")
	// ErrInsufficientBalance 残高不足
	ErrInsufficientBalance = apperr.Validation("insufficient_balance", "insufficient balance")
	// ErrAmountTooLarge 数量が大きすぎる
	ErrAmountTooLarge = apperr.Validation("amount_too_large", "cookie amount too large")
	// ErrInvalidBatchKind 無効なバッチ種別または出所
	ErrInvalidBatchKind = apperr.Validation("invalid_batch_kind", "invalid batch type or source")
	// ErrInvalidPolicy 無効な消費ポリシー
	ErrInvalidPolicy = apperr.Validation("invalid_debit_policy", "invalid debit policy")

	// ErrWalletNotFound ウォレットが見つからない
	ErrWalletNotFound = apperr.NotFound("wallet_not_found", "wallet not found")
	// ErrBatchNotFound バッチが見つからない
	ErrBatchNotFound = apperr.NotFound("batch_not_found", "cookie batch not found")

	// ErrNegativeAvailable 利用可能残高が負になる
	ErrNegativeAvailable = apperr.State("negative_available_balance", "operation would drive available balance negative")
	// ErrBatchNotRestorable バッチに戻せない（失効済み等）
	ErrBatchNotRestorable = apperr.State("batch_not_restorable", "cookie batch cannot be restored")
	// ErrLedgerInconsistent 台帳と残高の不整合
	ErrLedgerInconsistent = apperr.State("ledger_inconsistent", "ledger sum does not match wallet balance")

	// ErrVersionConflict 楽観的ロック失敗
	ErrVersionConflict = apperr.Conflict("wallet_version_conflict", "wallet was modified concurrently")
)

// InsufficientBalanceError 不足額を保持する
type InsufficientBalanceError struct {
	Requested int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InconsistencyError 照合結果の差分を保持する
type InconsistencyError struct {
	UserID    string
	LedgerSum int64
	Amount    int64
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistent for %s: ledger sum %d, balance amount %d", e.UserID, e.LedgerSum, e.Amount)
}

func (e *InconsistencyError) Unwrap() error {
	return ErrLedgerInconsistent
}
