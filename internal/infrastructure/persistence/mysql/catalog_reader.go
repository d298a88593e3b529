package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/port"
)

// CatalogReader catalog_pricesを参照するport.CatalogReader
type CatalogReader struct {
	db     *DB
	tracer trace.Tracer
}

// NewCatalogReader 新しいCatalogReaderを作成
func NewCatalogReader(db *DB) *CatalogReader {
	return &CatalogReader{
		db:     db,
		tracer: otel.Tracer("catalog-reader"),
	}
}

// FindPrice 有効な価格を取得する。存在しない・販売停止中はfound=false
func (r *CatalogReader) FindPrice(ctx context.Context, itemType order.ItemType, itemID string) (*port.CatalogItem, bool, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogReader.FindPrice")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.item_type", itemType.String()),
		attribute.String("db.item_id", itemID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "catalog_prices"),
	)

	query := `
		SELECT discounted_price, cookie_quantity
		FROM catalog_prices
		WHERE item_type = ? AND item_id = ? AND is_active = TRUE
	`
	item := &port.CatalogItem{ItemType: itemType, ItemID: itemID}
	err := r.db.conn(ctx).QueryRowContext(ctx, query, itemType.String(), itemID).Scan(&item.DiscountedPrice, &item.CookieQuantity)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("db.found", false))
		span.SetStatus(otelcodes.Ok, "catalog item not found")
		return nil, false, nil
	}
	if err != nil {
		failSpan(span, err)
		return nil, false, fmt.Errorf("failed to find catalog price: %w", err)
	}

	span.SetAttributes(attribute.Bool("db.found", true))
	span.SetStatus(otelcodes.Ok, "catalog item found")
	return item, true, nil
}
