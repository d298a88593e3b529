package service

import (
	"context"
	"fmt"

	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/port"
)

// ErrCatalogUnavailable カタログ参照に失敗
var ErrCatalogUnavailable = apperr.Infrastructure("catalog_unavailable", "catalog lookup failed")

// ResolvedItem サーバー側で価格を確定した明細
type ResolvedItem struct {
	Input          order.LineItemInput
	UnitPrice      int64
	CookieQuantity int64
	LineTotal      int64
}

// Reconciliation 価格照合の結果
type Reconciliation struct {
	Items []ResolvedItem
	Total int64
}

// PriceReconciler クライアント申告の明細をカタログ価格で再計算するドメインサービス
type PriceReconciler struct {
	catalog port.CatalogReader
}

// NewPriceReconciler 新しいPriceReconcilerを作成
func NewPriceReconciler(catalog port.CatalogReader) *PriceReconciler {
	return &PriceReconciler{
		catalog: catalog,
	}
}

// Reconcile 各明細の価格をカタログから解決し合計を返す。
// 解決できない明細はすべて集めてからまとめてエラーにする
func (s *PriceReconciler) Reconcile(ctx context.Context, items []order.LineItemInput) (*Reconciliation, error) {
	if len(items) == 0 {
		return nil, order.ErrEmptyOrder
	}

	seen := make(map[string]struct{}, len(items))
	for _, in := range items {
		if _, err := order.NewItemType(string(in.ItemType)); err != nil {
			return nil, err
		}
		if in.Quantity < 1 || in.Quantity > order.MaxBundleQuantity {
			return nil, fmt.Errorf("%w: %s", order.ErrInvalidQuantity, in.ItemID)
		}
		// 講座とセクションは1つの注文に1回だけ
		if !in.ItemType.IsBundle() {
			if in.Quantity != 1 {
				return nil, fmt.Errorf("%w: %s", order.ErrInvalidQuantity, in.ItemID)
			}
			k := string(in.ItemType) + ":" + in.ItemID
			if _, dup := seen[k]; dup {
				return nil, fmt.Errorf("%w: %s", order.ErrDuplicateItem, in.ItemID)
			}
			seen[k] = struct{}{}
		}
	}

	result := &Reconciliation{Items: make([]ResolvedItem, 0, len(items))}
	var unresolved []string
	for _, in := range items {
		item, found, err := s.catalog.FindPrice(ctx, in.ItemType, in.ItemID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		if !found {
			unresolved = append(unresolved, in.ItemID)
			continue
		}

		lineTotal, err := order.MulAmount(item.DiscountedPrice, int64(in.Quantity))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, in.ItemID)
		}
		if result.Total, err = order.AddAmount(result.Total, lineTotal); err != nil {
			return nil, err
		}
		result.Items = append(result.Items, ResolvedItem{
			Input:          in,
			UnitPrice:      item.DiscountedPrice,
			CookieQuantity: item.CookieQuantity,
			LineTotal:      lineTotal,
		})
	}

	if len(unresolved) > 0 {
		return nil, &order.UnresolvedItemsError{IDs: unresolved}
	}
	return result, nil
}
