package wallet

import (
	"time"
)

// Batch 一度に付与されたクッキーのまとまり
type Batch struct {
	id            string
	userID        string
	qtyTotal      int64
	qtyRemain     int64
	batchType     BatchType
	source        BatchSource
	expiresAt     time.Time // ゼロ値は無期限
	isActive      bool
	originBatchID string // 返金で再発行した場合の元バッチ
	createdAt     time.Time
	updatedAt     time.Time
}

// NewBatch 新しいバッチを作成
func NewBatch(id, userID string, qty int64, batchType BatchType, source BatchSource, expiresAt time.Time, originBatchID string, now time.Time) (*Batch, error) {
	if qty <= 0 {
		return nil, ErrInvalidAmount
	}
	if qty > MaxAmount {
		return nil, ErrAmountTooLarge
	}
	return &Batch{
		id:            id,
		userID:        userID,
		qtyTotal:      qty,
		qtyRemain:     qty,
		batchType:     batchType,
		source:        source,
		expiresAt:     expiresAt,
		isActive:      true,
		originBatchID: originBatchID,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// RestoreBatch 永続化されたバッチを復元
func RestoreBatch(
	id, userID string,
	qtyTotal, qtyRemain int64,
	batchType BatchType,
	source BatchSource,
	expiresAt time.Time,
	isActive bool,
	originBatchID string,
	createdAt, updatedAt time.Time,
) *Batch {
	return &Batch{
		id:            id,
		userID:        userID,
		qtyTotal:      qtyTotal,
		qtyRemain:     qtyRemain,
		batchType:     batchType,
		source:        source,
		expiresAt:     expiresAt,
		isActive:      isActive,
		originBatchID: originBatchID,
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// ID バッチIDを返す
func (b *Batch) ID() string { return b.id }

// UserID 所有ユーザーIDを返す
func (b *Batch) UserID() string { return b.userID }

// QtyTotal 付与時の数量を返す
func (b *Batch) QtyTotal() int64 { return b.qtyTotal }

// QtyRemain 残量を返す
func (b *Batch) QtyRemain() int64 { return b.qtyRemain }

// Type 有償/無償の区分を返す
func (b *Batch) Type() BatchType { return b.batchType }

// Source 付与元を返す
func (b *Batch) Source() BatchSource { return b.source }

// ExpiresAt 有効期限を返す（ゼロ値は無期限）
func (b *Batch) ExpiresAt() time.Time { return b.expiresAt }

// IsActive 有効なバッチかどうか
func (b *Batch) IsActive() bool { return b.isActive }

// OriginBatchID 返金で復元した元バッチのIDを返す
func (b *Batch) OriginBatchID() string { return b.originBatchID }

// CreatedAt 作成日時を返す
func (b *Batch) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt 更新日時を返す
func (b *Batch) UpdatedAt() time.Time { return b.updatedAt }

// IsExpired 有効期限を過ぎているかどうか
func (b *Batch) IsExpired(now time.Time) bool {
	return !b.expiresAt.IsZero() && !now.Before(b.expiresAt)
}

// IsSpendable 消費対象になるかどうか
func (b *Batch) IsSpendable(now time.Time) bool {
	return b.isActive && b.qtyRemain > 0 && !b.IsExpired(now)
}

// Consume 残量から消費する
func (b *Batch) Consume(qty int64, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidAmount
	}
	if !b.IsSpendable(now) || qty > b.qtyRemain {
		return &InsufficientBalanceError{Requested: qty, Available: b.qtyRemain}
	}
	b.qtyRemain -= qty
	b.updatedAt = now
	return nil
}

// CanRestore 返金で同じバッチへ戻せるかどうか。失効済みのバッチは復活させない
func (b *Batch) CanRestore(qty int64, now time.Time) bool {
	return qty > 0 && b.isActive && !b.IsExpired(now) && b.qtyRemain+qty <= b.qtyTotal
}

// Restore 返金で残量を戻す
func (b *Batch) Restore(qty int64, now time.Time) error {
	if !b.CanRestore(qty, now) {
		return ErrBatchNotRestorable
	}
	b.qtyRemain += qty
	b.updatedAt = now
	return nil
}

// Expire 失効させ、没収した量を返す
func (b *Batch) Expire(now time.Time) int64 {
	if !b.isActive || !b.IsExpired(now) {
		return 0
	}
	forfeited := b.qtyRemain
	b.qtyRemain = 0
	b.isActive = false
	b.updatedAt = now
	return forfeited
}
