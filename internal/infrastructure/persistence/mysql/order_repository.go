package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/order"
)

const orderColumns = `order_id, user_id, payment_method, status, subtotal, discount_amount, total_amount, refunded_amount,
	user_coupon_id, idempotency_key, gateway_ref, failure_reason, paid_at, version, created_at, updated_at`

// OrderRepository MySQL実装のOrderRepository
type OrderRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewOrderRepository 新しいOrderRepositoryを作成
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{
		db:     db,
		tracer: otel.Tracer("order-repository"),
	}
}

// Create 注文と明細を作成
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.order_id", o.ID()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "orders"),
	)

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		o.ID(),
		o.UserID(),
		o.PaymentMethod().String(),
		o.Status().String(),
		o.Subtotal(),
		o.DiscountAmount(),
		o.TotalAmount(),
		o.RefundedAmount(),
		nullString(o.CouponRedemptionID()),
		o.IdempotencyKey(),
		nullString(o.GatewayRef()),
		nullString(o.FailureReason()),
		nullTimePtr(o.PaidAt()),
		o.Version(),
		o.CreatedAt(),
		o.UpdatedAt(),
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to create order: %w", err)
	}

	items := o.Items()
	placeholders := make([]string, 0, len(items))
	args := make([]interface{}, 0, len(items)*8)
	for _, li := range items {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			li.ID(), o.ID(), li.ItemType().String(), li.ItemID(),
			li.Quantity(), li.UnitPrice(), li.CookieQuantity(), li.RefundedAmount(),
		)
	}
	itemQuery := `
		INSERT INTO order_items (line_item_id, order_id, item_type, item_id, quantity, unit_price, cookie_quantity, refunded_amount)
		VALUES ` + strings.Join(placeholders, ", ")
	if _, err := r.db.conn(ctx).ExecContext(ctx, itemQuery, args...); err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to create order items: %w", err)
	}

	span.SetAttributes(attribute.Int("db.item_count", len(items)))
	span.SetStatus(otelcodes.Ok, "order created")
	return nil
}

// FindByID 注文IDで取得
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*order.Order, error) {
	return r.find(ctx, "OrderRepository.FindByID", orderID, false)
}

// FindByIDForUpdate 注文IDで取得し行ロックを取得
func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, orderID string) (*order.Order, error) {
	return r.find(ctx, "OrderRepository.FindByIDForUpdate", orderID, true)
}

func (r *OrderRepository) find(ctx context.Context, spanName, orderID string, lock bool) (*order.Order, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.order_id", orderID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "orders"),
	)

	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = ?`
	if lock {
		query = forUpdate(ctx, query)
	}
	p, err := scanOrderParams(r.db.conn(ctx).QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Error, "order not found")
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to find order: %w", err)
	}

	p.Items, err = r.findItems(ctx, orderID)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	o := order.Restore(p)

	span.SetAttributes(attribute.String("db.status", o.Status().String()))
	span.SetStatus(otelcodes.Ok, "order found")
	return o, nil
}

func (r *OrderRepository) findItems(ctx context.Context, orderID string) ([]*order.LineItem, error) {
	query := `
		SELECT line_item_id, item_type, item_id, quantity, unit_price, cookie_quantity, refunded_amount
		FROM order_items
		WHERE order_id = ?
		ORDER BY line_item_id
	`
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []*order.LineItem
	for rows.Next() {
		var (
			id, itemType, itemID                   string
			quantity                               int
			unitPrice, cookieQuantity, refundedAmt int64
		)
		if err := rows.Scan(&id, &itemType, &itemID, &quantity, &unitPrice, &cookieQuantity, &refundedAmt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		t, err := order.NewItemType(itemType)
		if err != nil {
			return nil, err
		}
		items = append(items, order.RestoreLineItem(id, t, itemID, quantity, unitPrice, cookieQuantity, refundedAmt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return items, nil
}

func scanOrderParams(row rowScanner) (order.RestoreParams, error) {
	var (
		p                             order.RestoreParams
		method, status                string
		couponID, gatewayRef, failure sql.NullString
		paidAt                        sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.UserID, &method, &status, &p.Subtotal, &p.DiscountAmount, &p.TotalAmount, &p.RefundedAmount,
		&couponID, &p.IdempotencyKey, &gatewayRef, &failure, &paidAt, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}

	if p.PaymentMethod, err = order.NewPaymentMethod(method); err != nil {
		return p, err
	}
	if p.Status, err = order.NewStatus(status); err != nil {
		return p, err
	}
	p.CouponRedemptionID = couponID.String
	p.GatewayRef = gatewayRef.String
	p.FailureReason = failure.String
	p.PaidAt = timePtr(paidAt)
	return p, nil
}

// Update ステータス・返金額・明細の返金額を更新（楽観的ロック対応）
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.order_id", o.ID()),
		attribute.String("db.status", o.Status().String()),
		attribute.Int("db.version", o.Version()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "orders"),
	)

	query := `
		UPDATE orders
		SET status = ?, refunded_amount = ?, gateway_ref = ?, failure_reason = ?, paid_at = ?,
			version = version + 1, updated_at = ?
		WHERE order_id = ? AND version = ?
	`
	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		o.Status().String(),
		o.RefundedAmount(),
		nullString(o.GatewayRef()),
		nullString(o.FailureReason()),
		nullTimePtr(o.PaidAt()),
		o.UpdatedAt(),
		o.ID(),
		o.Version(),
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to update order: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		span.SetStatus(otelcodes.Error, "version conflict")
		return order.ErrVersionConflict
	}

	// 返金が反映された明細のみ更新する
	for _, li := range o.Items() {
		if li.RefundedAmount() == 0 {
			continue
		}
		if _, err := r.db.conn(ctx).ExecContext(ctx,
			`UPDATE order_items SET refunded_amount = ? WHERE line_item_id = ?`,
			li.RefundedAmount(), li.ID(),
		); err != nil {
			failSpan(span, err)
			return fmt.Errorf("failed to update order item: %w", err)
		}
	}

	o.IncrementVersion()
	span.SetStatus(otelcodes.Ok, "order updated")
	return nil
}

// FindStalePending 指定時刻より前に作成されたPENDING注文を取得
func (r *OrderRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*order.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.FindStalePending")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "orders"),
	)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'PENDING' AND created_at < ?
		ORDER BY created_at
		LIMIT ?
	`
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, createdBefore, limit)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to query stale orders: %w", err)
	}

	// 明細は読み込まない。呼び出し側がFindByIDForUpdateで取り直す
	var orders []*order.Order
	for rows.Next() {
		p, err := scanOrderParams(rows)
		if err != nil {
			rows.Close()
			failSpan(span, err)
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order.Restore(p))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		failSpan(span, err)
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	rows.Close()

	span.SetAttributes(attribute.Int("db.result_count", len(orders)))
	span.SetStatus(otelcodes.Ok, "stale orders found")
	return orders, nil
}

// SaveRefund 返金記録を保存
func (r *OrderRepository) SaveRefund(ctx context.Context, rf *order.Refund) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.SaveRefund")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.order_id", rf.OrderID),
		attribute.Int64("db.amount", rf.Amount),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "order_refunds"),
	)

	var lineItems interface{}
	if len(rf.LineItemIDs) > 0 {
		data, err := json.Marshal(rf.LineItemIDs)
		if err != nil {
			failSpan(span, err)
			return fmt.Errorf("failed to marshal line item ids: %w", err)
		}
		lineItems = data
	}

	query := `
		INSERT INTO order_refunds (refund_id, order_id, user_id, amount, reason, line_item_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.conn(ctx).ExecContext(ctx, query,
		rf.ID, rf.OrderID, rf.UserID, rf.Amount, rf.Reason, lineItems, rf.CreatedAt,
	); err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to save refund: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "refund saved")
	return nil
}

// SumSettledSpend 期間内に決済が成立した支払額（返金控除後）を合計
func (r *OrderRepository) SumSettledSpend(ctx context.Context, userID string, method order.PaymentMethod, from, to time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.SumSettledSpend")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.payment_method", method.String()),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "orders"),
	)

	query := `
		SELECT COALESCE(SUM(total_amount - refunded_amount), 0)
		FROM orders
		WHERE user_id = ? AND payment_method = ? AND status IN ('PAID', 'PARTIAL_REFUNDED')
			AND paid_at >= ? AND paid_at < ?
	`
	var sum int64
	if err := r.db.conn(ctx).QueryRowContext(ctx, query, userID, method.String(), from, to).Scan(&sum); err != nil {
		failSpan(span, err)
		return 0, fmt.Errorf("failed to sum settled spend: %w", err)
	}

	span.SetAttributes(attribute.Int64("db.sum", sum))
	span.SetStatus(otelcodes.Ok, "settled spend summed")
	return sum, nil
}
