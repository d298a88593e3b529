package wallet

import (
	"fmt"
	"sort"
	"time"
)

// DebitPolicy バッチの消費順序
type DebitPolicy string

const (
	// PolicyExpiryFirst 種類を問わず有効期限が近い順
	PolicyExpiryFirst DebitPolicy = "EXPIRY_FIRST"
	// PolicyPaidFirst 有償を先に、同じ種類の中では有効期限が近い順
	PolicyPaidFirst DebitPolicy = "PAID_FIRST"
	// PolicyFreeFirst 無償を先に、同じ種類の中では有効期限が近い順
	PolicyFreeFirst DebitPolicy = "FREE_FIRST"
)

// NewDebitPolicy 新しいDebitPolicyを作成
func NewDebitPolicy(s string) (DebitPolicy, error) {
	switch DebitPolicy(s) {
	case PolicyExpiryFirst, PolicyPaidFirst, PolicyFreeFirst:
		return DebitPolicy(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidPolicy, s)
	}
}

// String 文字列表現を返す
func (p DebitPolicy) String() string {
	return string(p)
}

func (p DebitPolicy) tier(t BatchType) int {
	switch p {
	case PolicyPaidFirst:
		if t == BatchTypePaid {
			return 0
		}
		return 1
	case PolicyFreeFirst:
		if t == BatchTypeFree {
			return 0
		}
		return 1
	default:
		return 0
	}
}

// PlannedConsumption 消費計画の1行
type PlannedConsumption struct {
	Batch    *Batch
	Quantity int64
}

// SpendableTotal 消費可能なバッチ残量の合計
func SpendableTotal(batches []*Batch, now time.Time) int64 {
	var total int64
	for _, b := range batches {
		if b.IsSpendable(now) {
			total += b.qtyRemain
		}
	}
	return total
}

// OrderForDebit 消費可能なバッチをポリシーの順序で並べる。期限切れ・残量0・無効のバッチは除外する
func OrderForDebit(batches []*Batch, now time.Time, policy DebitPolicy) []*Batch {
	candidates := make([]*Batch, 0, len(batches))
	for _, b := range batches {
		if b.IsSpendable(now) {
			candidates = append(candidates, b)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ta, tb := policy.tier(a.batchType), policy.tier(b.batchType); ta != tb {
			return ta < tb
		}
		// 無期限のバッチは最後
		if !a.expiresAt.Equal(b.expiresAt) {
			if a.expiresAt.IsZero() {
				return false
			}
			if b.expiresAt.IsZero() {
				return true
			}
			return a.expiresAt.Before(b.expiresAt)
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.id < b.id
	})
	return candidates
}

// PlanDebit amountを消費する計画を立てる。足りない場合は部分的な計画を返さずエラーにする
func PlanDebit(batches []*Batch, amount int64, now time.Time, policy DebitPolicy) ([]PlannedConsumption, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ordered := OrderForDebit(batches, now, policy)
	remaining := amount
	plan := make([]PlannedConsumption, 0, len(ordered))
	for _, b := range ordered {
		if remaining == 0 {
			break
		}
		take := min(b.qtyRemain, remaining)
		plan = append(plan, PlannedConsumption{Batch: b, Quantity: take})
		remaining -= take
	}

	if remaining > 0 {
		return nil, &InsufficientBalanceError{Requested: amount, Available: amount - remaining}
	}
	return plan, nil
}
