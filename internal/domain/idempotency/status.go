package idempotency

import "fmt"

// Status 冪等性レコードのステータス
type Status string

const (
	StatusPending   Status = "PENDING"   // 処理中
	StatusCompleted Status = "COMPLETED" // 成功で確定
	StatusFailed    Status = "FAILED"    // 失敗で確定
)

// NewStatus 新しいStatusを作成
func NewStatus(s string) (Status, error) {
	switch s {
	case "PENDING", "COMPLETED", "FAILED":
		return Status(s), nil
	default:
		return "", fmt.Errorf("invalid idempotency status: %s", s)
	}
}

// String 文字列表現を返す
func (s Status) String() string {
	return string(s)
}

// IsTerminal 確定済みかどうか
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transition PENDINGからの確定のみ許可する
func Transition(from, to Status) error {
	if from == StatusPending && to.IsTerminal() {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Scope 冪等性キーの用途
type Scope string

const (
	ScopeCheckout Scope = "CHECKOUT"
	ScopeRefund   Scope = "REFUND"
)

// NewScope 新しいScopeを作成
func NewScope(s string) (Scope, error) {
	switch s {
	case "CHECKOUT", "REFUND":
		return Scope(s), nil
	default:
		return "", fmt.Errorf("invalid idempotency scope: %s", s)
	}
}

// String 文字列表現を返す
func (s Scope) String() string {
	return string(s)
}
