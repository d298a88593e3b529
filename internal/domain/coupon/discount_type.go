package coupon

import "fmt"

// DiscountType 割引方式
type DiscountType string

const (
	DiscountTypePercent DiscountType = "PERCENT" // 定率
	DiscountTypeFixed   DiscountType = "FIXED"   // 定額
)

// NewDiscountType 新しいDiscountTypeを作成
func NewDiscountType(s string) (DiscountType, error) {
	switch s {
	case "PERCENT", "FIXED":
		return DiscountType(s), nil
	default:
		return "", fmt.Errorf("invalid discount type: %s", s)
	}
}

// String 文字列表現を返す
func (t DiscountType) String() string {
	return string(t)
}
