package order

import "fmt"

// ItemType 明細の種類
type ItemType string

const (
	ItemTypeCourse       ItemType = "COURSE"        // 講座
	ItemTypeSection      ItemType = "SECTION"       // 講座内セクション（クッキーで個別購入可能）
	ItemTypeCookieBundle ItemType = "COOKIE_BUNDLE" // クッキーのまとめ売り
)

// NewItemType 新しいItemTypeを作成
func NewItemType(s string) (ItemType, error) {
	switch s {
	case "COURSE", "SECTION", "COOKIE_BUNDLE":
		return ItemType(s), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidItemType, s)
	}
}

// String 文字列表現を返す
func (t ItemType) String() string {
	return string(t)
}

// IsBundle クッキーバンドルかどうかを返す
func (t ItemType) IsBundle() bool {
	return t == ItemTypeCookieBundle
}

// LineItemInput クライアントから受け取った明細。単価は信用しない
type LineItemInput struct {
	ItemType        ItemType
	ItemID          string
	Quantity        int
	ClientUnitPrice int64 // 参考値としてのみ保持
}
