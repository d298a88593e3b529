package coupon

import "fmt"

// Status ユーザークーポンのステータス
type Status string

const (
	StatusAvailable Status = "AVAILABLE" // 利用可能
	StatusReserved  Status = "RESERVED"  // 決済中で確保済み
	StatusUsed      Status = "USED"      // 使用済み（終端）
	StatusExpired   Status = "EXPIRED"   // 期限切れ（終端）
)

var transitions = map[Status][]Status{
	StatusAvailable: {StatusReserved, StatusExpired},
	StatusReserved:  {StatusUsed, StatusAvailable, StatusExpired},
}

// NewStatus 新しいStatusを作成
func NewStatus(s string) (Status, error) {
	switch s {
	case "AVAILABLE", "RESERVED", "USED", "EXPIRED":
		return Status(s), nil
	default:
		return "", fmt.Errorf("invalid coupon status: %s", s)
	}
}

// String 文字列表現を返す
func (s Status) String() string {
	return string(s)
}

// IsTerminal 終端ステータスかどうかを返す
func (s Status) IsTerminal() bool {
	return s == StatusUsed || s == StatusExpired
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
