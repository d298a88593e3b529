package wallet

import (
	"time"
)

// MaxAmount 1ユーザーが保持できる最大数量
const MaxAmount = 1_000_000_000_000

// Balance ユーザーごとのクッキー残高
type Balance struct {
	userID       string
	amount       int64 // 総量
	frozenAmount int64 // 決済中で確保されている量
	dailyLimit   int64 // 0 = グローバル設定に従う
	monthlyLimit int64 // 0 = 上限なし
	version      int
	updatedAt    time.Time
}

// NewBalance 空の残高を作成
func NewBalance(userID string, now time.Time) *Balance {
	return &Balance{userID: userID, updatedAt: now}
}

// RestoreBalance 永続化された残高を復元
func RestoreBalance(userID string, amount, frozenAmount, dailyLimit, monthlyLimit int64, version int, updatedAt time.Time) *Balance {
	return &Balance{
		userID:       userID,
		amount:       amount,
		frozenAmount: frozenAmount,
		dailyLimit:   dailyLimit,
		monthlyLimit: monthlyLimit,
		version:      version,
		updatedAt:    updatedAt,
	}
}

// UserID ユーザーIDを返す
func (b *Balance) UserID() string {
	return b.userID
}

// Amount 総量を返す
func (b *Balance) Amount() int64 {
	return b.amount
}

// FrozenAmount 確保中の量を返す
func (b *Balance) FrozenAmount() int64 {
	return b.frozenAmount
}

// DailyLimit ユーザー個別の日次上限を返す
func (b *Balance) DailyLimit() int64 {
	return b.dailyLimit
}

// MonthlyLimit ユーザー個別の月次上限を返す
func (b *Balance) MonthlyLimit() int64 {
	return b.monthlyLimit
}

// Version バージョンを返す
func (b *Balance) Version() int {
	return b.version
}

// UpdatedAt 更新日時を返す
func (b *Balance) UpdatedAt() time.Time {
	return b.updatedAt
}

// Available 利用可能な量
func (b *Balance) Available() int64 {
	return b.amount - b.frozenAmount
}

// IncrementVersion バージョンをインクリメント（楽観的ロック用）
func (b *Balance) IncrementVersion() {
	b.version++
}

func (b *Balance) checkInvariant() error {
	if b.frozenAmount < 0 || b.frozenAmount > b.amount || b.Available() < 0 {
		return ErrNegativeAvailable
	}
	return nil
}

// apply 変更を試し、不変条件に違反する場合は元に戻す
func (b *Balance) apply(amount, frozen int64, now time.Time) error {
	prevAmount, prevFrozen := b.amount, b.frozenAmount
	b.amount, b.frozenAmount = amount, frozen
	if err := b.checkInvariant(); err != nil {
		b.amount, b.frozenAmount = prevAmount, prevFrozen
		return err
	}
	b.updatedAt = now
	return nil
}

// Debit 消費する。releaseHoldがtrueの場合、確保済みの量から同じだけ解放する
func (b *Balance) Debit(qty int64, releaseHold bool, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidAmount
	}
	frozen := b.frozenAmount
	if releaseHold {
		frozen -= min(qty, frozen)
	} else if b.Available() < qty {
		return &InsufficientBalanceError{Requested: qty, Available: b.Available()}
	}
	if b.amount-qty < frozen {
		return &InsufficientBalanceError{Requested: qty, Available: b.amount - frozen}
	}
	return b.apply(b.amount-qty, frozen, now)
}

// Credit 付与する
func (b *Balance) Credit(qty int64, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidAmount
	}
	if qty > MaxAmount || b.amount > MaxAmount-qty {
		return ErrAmountTooLarge
	}
	return b.apply(b.amount+qty, b.frozenAmount, now)
}

// Freeze 利用可能な量から確保する
func (b *Balance) Freeze(qty int64, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidAmount
	}
	if b.Available() < qty {
		return &InsufficientBalanceError{Requested: qty, Available: b.Available()}
	}
	return b.apply(b.amount, b.frozenAmount+qty, now)
}

// Unfreeze 確保を解放する。確保量を超える分は無視し、実際に解放した量を返す
func (b *Balance) Unfreeze(qty int64, now time.Time) (int64, error) {
	if qty <= 0 {
		return 0, ErrInvalidAmount
	}
	released := min(qty, b.frozenAmount)
	if err := b.apply(b.amount, b.frozenAmount-released, now); err != nil {
		return 0, err
	}
	return released, nil
}

// Expire 失効分を減らす。確保量が総量を超える場合は総量に合わせる
func (b *Balance) Expire(qty int64, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidAmount
	}
	if qty > b.amount {
		return ErrLedgerInconsistent
	}
	amount := b.amount - qty
	return b.apply(amount, min(b.frozenAmount, amount), now)
}

// SetLimits ユーザー個別の上限を設定する
func (b *Balance) SetLimits(daily, monthly int64, now time.Time) error {
	if daily < 0 || monthly < 0 {
		return ErrInvalidAmount
	}
	b.dailyLimit = daily
	b.monthlyLimit = monthly
	b.updatedAt = now
	return nil
}
