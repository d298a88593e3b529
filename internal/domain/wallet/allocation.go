package wallet

import "time"

// Allocation 1回の消費でどのバッチから何個使ったかの記録（返金時の戻し先）
type Allocation struct {
	id               string
	userID           string
	batchID          string
	reference        Reference
	quantity         int64
	restoredQuantity int64
	createdAt        time.Time
}

// NewAllocation 新しいAllocationを作成
func NewAllocation(id, userID, batchID string, ref Reference, qty int64, now time.Time) *Allocation {
	return &Allocation{
		id:        id,
		userID:    userID,
		batchID:   batchID,
		reference: ref,
		quantity:  qty,
		createdAt: now,
	}
}

// RestoreAllocation 永続化されたAllocationを復元
func RestoreAllocation(id, userID, batchID string, ref Reference, qty, restored int64, createdAt time.Time) *Allocation {
	return &Allocation{
		id:               id,
		userID:           userID,
		batchID:          batchID,
		reference:        ref,
		quantity:         qty,
		restoredQuantity: restored,
		createdAt:        createdAt,
	}
}

// ID 割当IDを返す
func (a *Allocation) ID() string { return a.id }

// UserID ユーザーIDを返す
func (a *Allocation) UserID() string { return a.userID }

// BatchID 消費したバッチのIDを返す
func (a *Allocation) BatchID() string { return a.batchID }

// Reference 消費の参照元を返す
func (a *Allocation) Reference() Reference { return a.reference }

// Quantity 消費した数量を返す
func (a *Allocation) Quantity() int64 { return a.quantity }

// RestoredQuantity 返金で戻した数量を返す
func (a *Allocation) RestoredQuantity() int64 { return a.restoredQuantity }

// CreatedAt 作成日時を返す
func (a *Allocation) CreatedAt() time.Time { return a.createdAt }

// Restorable まだ戻していない量
func (a *Allocation) Restorable() int64 {
	return a.quantity - a.restoredQuantity
}

// MarkRestored 戻した量を記録する
func (a *Allocation) MarkRestored(qty int64) error {
	if qty <= 0 || qty > a.Restorable() {
		return ErrInvalidAmount
	}
	a.restoredQuantity += qty
	return nil
}
