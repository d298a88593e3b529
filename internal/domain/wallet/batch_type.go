package wallet

import "fmt"

// BatchType バッチの種類
type BatchType string

const (
	BatchTypePaid BatchType = "PAID" // 有償
	BatchTypeFree BatchType = "FREE" // 無償（ボーナス等）
)

// NewBatchType 新しいBatchTypeを作成
func NewBatchType(s string) (BatchType, error) {
	switch s {
	case "PAID", "FREE":
		return BatchType(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidBatchKind, s)
	}
}

// String 文字列表現を返す
func (t BatchType) String() string {
	return string(t)
}

// BatchSource バッチの出所
type BatchSource string

const (
	BatchSourcePurchase BatchSource = "PURCHASE" // クッキーバンドルの購入
	BatchSourceBonus    BatchSource = "BONUS"    // キャンペーン等の付与
	BatchSourceRefund   BatchSource = "REFUND"   // 返金による再付与
	BatchSourceAdmin    BatchSource = "ADMIN"    // 運用者による調整
)

// NewBatchSource 新しいBatchSourceを作成
func NewBatchSource(s string) (BatchSource, error) {
	switch s {
	case "PURCHASE", "BONUS", "REFUND", "ADMIN":
		return BatchSource(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidBatchKind, s)
	}
}

// String 文字列表現を返す
func (s BatchSource) String() string {
	return string(s)
}

// EntryType 台帳エントリの種類
type EntryType string

const (
	EntryTypeCharge EntryType = "CHARGE" // 付与
	EntryTypeDebit  EntryType = "DEBIT"  // 消費
	EntryTypeRefund EntryType = "REFUND" // 返金
	EntryTypeExpire EntryType = "EXPIRE" // 失効
)

// NewEntryType 新しいEntryTypeを作成
func NewEntryType(s string) (EntryType, error) {
	switch s {
	case "CHARGE", "DEBIT", "REFUND", "EXPIRE":
		return EntryType(s), nil
	default:
		return "", fmt.Errorf("invalid ledger entry type: %s", s)
	}
}

// String 文字列表現を返す
func (t EntryType) String() string {
	return string(t)
}
