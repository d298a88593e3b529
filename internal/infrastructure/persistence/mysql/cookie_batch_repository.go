package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/wallet"
)

// BatchRepository MySQL実装のBatchRepository。
// バッチの更新は残高行をFOR UPDATEで押さえた状態で行う前提
type BatchRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewBatchRepository 新しいBatchRepositoryを作成
func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{
		db:     db,
		tracer: otel.Tracer("batch-repository"),
	}
}

const batchColumns = `batch_id, user_id, qty_total, qty_remain, batch_type, source, expires_at, is_active, origin_batch_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(s rowScanner) (*wallet.Batch, error) {
	var (
		id, userID, batchType, source string
		qtyTotal, qtyRemain           int64
		expiresAt                     sql.NullTime
		isActive                      bool
		originBatchID                 sql.NullString
		createdAt, updatedAt          time.Time
	)
	if err := s.Scan(&id, &userID, &qtyTotal, &qtyRemain, &batchType, &source, &expiresAt, &isActive, &originBatchID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	bt, err := wallet.NewBatchType(batchType)
	if err != nil {
		return nil, fmt.Errorf("invalid batch type: %w", err)
	}
	bs, err := wallet.NewBatchSource(source)
	if err != nil {
		return nil, fmt.Errorf("invalid batch source: %w", err)
	}
	return wallet.RestoreBatch(id, userID, qtyTotal, qtyRemain, bt, bs, expiresAt.Time, isActive, originBatchID.String, createdAt, updatedAt), nil
}

func (r *BatchRepository) query(ctx context.Context, span trace.Span, query string, args ...interface{}) ([]*wallet.Batch, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*wallet.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			failSpan(span, err)
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to iterate batches: %w", err)
	}

	span.SetAttributes(attribute.Int("db.rows", len(batches)))
	span.SetStatus(otelcodes.Ok, "batches found")
	return batches, nil
}

// FindActiveByUserID 有効で残量のあるバッチを取得
func (r *BatchRepository) FindActiveByUserID(ctx context.Context, userID string) ([]*wallet.Batch, error) {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.FindActiveByUserID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "cookie_batches"),
	)

	query := `SELECT ` + batchColumns + `
		FROM cookie_batches
		WHERE user_id = ? AND is_active = TRUE AND qty_remain > 0
		ORDER BY created_at, batch_id`
	return r.query(ctx, span, forUpdate(ctx, query), userID)
}

// FindByIDs IDでバッチを取得
func (r *BatchRepository) FindByIDs(ctx context.Context, ids []string) ([]*wallet.Batch, error) {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.FindByIDs")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.id_count", len(ids)),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "cookie_batches"),
	)
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + batchColumns + `
		FROM cookie_batches
		WHERE batch_id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)
		ORDER BY batch_id`
	return r.query(ctx, span, forUpdate(ctx, query), args...)
}

// FindExpired 期限切れで残量が残っている有効バッチを取得
func (r *BatchRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*wallet.Batch, error) {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.FindExpired")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "cookie_batches"),
	)

	query := `SELECT ` + batchColumns + `
		FROM cookie_batches
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at, batch_id
		LIMIT ?`
	return r.query(ctx, span, query, now, limit)
}

// Create バッチを作成
func (r *BatchRepository) Create(ctx context.Context, b *wallet.Batch) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.batch_id", b.ID()),
		attribute.String("db.user_id", b.UserID()),
		attribute.Int64("db.qty_total", b.QtyTotal()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "cookie_batches"),
	)

	query := `
		INSERT INTO cookie_batches (` + batchColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		b.ID(),
		b.UserID(),
		b.QtyTotal(),
		b.QtyRemain(),
		b.Type().String(),
		b.Source().String(),
		nullTime(b.ExpiresAt()),
		b.IsActive(),
		nullString(b.OriginBatchID()),
		b.CreatedAt(),
		b.UpdatedAt(),
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to create batch: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "batch created")
	return nil
}

// Update 残量と有効フラグを更新
func (r *BatchRepository) Update(ctx context.Context, b *wallet.Batch) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.batch_id", b.ID()),
		attribute.Int64("db.qty_remain", b.QtyRemain()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "cookie_batches"),
	)

	query := `
		UPDATE cookie_batches
		SET qty_remain = ?, is_active = ?, updated_at = ?
		WHERE batch_id = ?
	`
	result, err := r.db.conn(ctx).ExecContext(ctx, query, b.QtyRemain(), b.IsActive(), b.UpdatedAt(), b.ID())
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to update batch: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		failSpan(span, wallet.ErrBatchNotFound)
		return wallet.ErrBatchNotFound
	}

	span.SetStatus(otelcodes.Ok, "batch updated")
	return nil
}
