package order

import (
	"fmt"
)

// Status 注文ステータスを表す値オブジェクト
type Status string

const (
	StatusPending         Status = "PENDING"          // 検証済み・決済待ち
	StatusPaid            Status = "PAID"             // 決済完了
	StatusFailed          Status = "FAILED"           // 決済失敗
	StatusCancelled       Status = "CANCELLED"        // キャンセル（放棄を含む）
	StatusRefunded        Status = "REFUNDED"         // 全額返金済み
	StatusPartialRefunded Status = "PARTIAL_REFUNDED" // 一部返金済み
)

// transitions 許可される遷移の一覧
var transitions = map[Status][]Status{
	StatusPending:         {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:            {StatusRefunded, StatusPartialRefunded},
	StatusPartialRefunded: {StatusPartialRefunded, StatusRefunded},
}

// NewStatus 新しいStatusを作成
func NewStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid order status: %s", s)
	}
	return st, nil
}

// String 文字列表現を返す
func (s Status) String() string {
	return string(s)
}

// Valid 有効なステータスかどうかを返す
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusCancelled, StatusRefunded, StatusPartialRefunded:
		return true
	default:
		return false
	}
}

// IsTerminal これ以上遷移しないステータスかどうかを返す
func (s Status) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// IsSettled 決済が成立しているかどうか（利用上限の集計対象）
func (s Status) IsSettled() bool {
	return s == StatusPaid || s == StatusPartialRefunded
}

// Transition from から to への遷移が許可されているか検証する
func Transition(from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
