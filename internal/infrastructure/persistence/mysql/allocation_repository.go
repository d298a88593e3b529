package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/wallet"
)

// AllocationRepository MySQL実装のAllocationRepository
type AllocationRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewAllocationRepository 新しいAllocationRepositoryを作成
func NewAllocationRepository(db *DB) *AllocationRepository {
	return &AllocationRepository{
		db:     db,
		tracer: otel.Tracer("allocation-repository"),
	}
}

// SaveAll 消費内訳をまとめて保存
func (r *AllocationRepository) SaveAll(ctx context.Context, allocations []*wallet.Allocation) error {
	ctx, span := r.tracer.Start(ctx, "AllocationRepository.SaveAll")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.rows", len(allocations)),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "cookie_allocations"),
	)
	if len(allocations) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(allocations))
	args := make([]interface{}, 0, len(allocations)*8)
	for _, a := range allocations {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			a.ID(),
			a.UserID(),
			a.BatchID(),
			a.Reference().Type,
			a.Reference().ID,
			a.Quantity(),
			a.RestoredQuantity(),
			a.CreatedAt(),
		)
	}
	query := `
		INSERT INTO cookie_allocations (allocation_id, user_id, batch_id, reference_type, reference_id, quantity, restored_quantity, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := r.db.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to save allocations: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "allocations saved")
	return nil
}

// FindByReference 消費元の参照で内訳を取得（作成順）
func (r *AllocationRepository) FindByReference(ctx context.Context, ref wallet.Reference) ([]*wallet.Allocation, error) {
	ctx, span := r.tracer.Start(ctx, "AllocationRepository.FindByReference")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.reference_type", ref.Type),
		attribute.String("db.reference_id", ref.ID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "cookie_allocations"),
	)

	query := forUpdate(ctx, `
		SELECT allocation_id, user_id, batch_id, reference_type, reference_id, quantity, restored_quantity, created_at
		FROM cookie_allocations
		WHERE reference_type = ? AND reference_id = ?
		ORDER BY created_at, allocation_id`)
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, ref.Type, ref.ID)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []*wallet.Allocation
	for rows.Next() {
		var (
			id, userID, batchID, refType, refID string
			qty, restored                       int64
			createdAt                           time.Time
		)
		if err := rows.Scan(&id, &userID, &batchID, &refType, &refID, &qty, &restored, &createdAt); err != nil {
			failSpan(span, err)
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, wallet.RestoreAllocation(id, userID, batchID, wallet.Reference{Type: refType, ID: refID}, qty, restored, createdAt))
	}
	if err := rows.Err(); err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to iterate allocations: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "allocations found")
	return allocations, nil
}

// UpdateRestored 戻し済み数量を更新
func (r *AllocationRepository) UpdateRestored(ctx context.Context, a *wallet.Allocation) error {
	ctx, span := r.tracer.Start(ctx, "AllocationRepository.UpdateRestored")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.allocation_id", a.ID()),
		attribute.Int64("db.restored_quantity", a.RestoredQuantity()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "cookie_allocations"),
	)

	_, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE cookie_allocations SET restored_quantity = ? WHERE allocation_id = ?`,
		a.RestoredQuantity(), a.ID(),
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to update allocation: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "allocation updated")
	return nil
}
