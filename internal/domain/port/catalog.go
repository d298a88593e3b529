package port

import (
	"context"

	"cookie-wallet/internal/domain/order"
)

// CatalogItem カタログ上の価格情報
type CatalogItem struct {
	ItemType        order.ItemType
	ItemID          string
	DiscountedPrice int64 // 販売価格（カタログ側の割引適用後）
	CookieQuantity  int64 // クッキーバンドルの場合の付与数
}

// CatalogReader 講座・セクション・バンドルの価格参照
type CatalogReader interface {
	// FindPrice 価格を取得する。存在しない場合はfound=false
	FindPrice(ctx context.Context, itemType order.ItemType, itemID string) (item *CatalogItem, found bool, err error)
}
