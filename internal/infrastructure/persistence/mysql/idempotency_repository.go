package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/idempotency"
)

// IdempotencyRepository MySQL実装のRecordRepository
type IdempotencyRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewIdempotencyRepository 新しいIdempotencyRepositoryを作成
func NewIdempotencyRepository(db *DB) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:     db,
		tracer: otel.Tracer("idempotency-repository"),
	}
}

func marshalSnapshot(s *idempotency.ErrorSnapshot) (interface{}, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error snapshot: %w", err)
	}
	return data, nil
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// InsertIfAbsent 存在しない場合のみPENDINGで挿入する。挿入できた場合true
func (r *IdempotencyRepository) InsertIfAbsent(ctx context.Context, rec *idempotency.Record) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.InsertIfAbsent")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", rec.UserID()),
		attribute.String("db.scope", rec.Scope().String()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "idempotency_records"),
	)

	query := `
		INSERT INTO idempotency_records (user_id, idem_key, scope, request_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE user_id = user_id
	`
	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		rec.UserID(),
		rec.Key(),
		rec.Scope().String(),
		rec.RequestHash(),
		rec.Status().String(),
		rec.CreatedAt(),
		rec.UpdatedAt(),
	)
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	inserted := rowsAffected == 1
	span.SetAttributes(attribute.Bool("db.inserted", inserted))
	span.SetStatus(otelcodes.Ok, "idempotency record upserted")
	return inserted, nil
}

// Find ユーザーとキーでレコードを取得
func (r *IdempotencyRepository) Find(ctx context.Context, userID, key string) (*idempotency.Record, error) {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.Find")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "idempotency_records"),
	)

	query := `
		SELECT user_id, idem_key, scope, request_hash, status, response_snapshot, error_snapshot, expires_at, created_at, updated_at
		FROM idempotency_records
		WHERE user_id = ? AND idem_key = ?
	`
	var (
		uid, k, scope, hash, status string
		response, errSnapshot       []byte
		expiresAt                   sql.NullTime
		createdAt, updatedAt        time.Time
	)
	err := r.db.conn(ctx).QueryRowContext(ctx, query, userID, key).Scan(
		&uid, &k, &scope, &hash, &status, &response, &errSnapshot, &expiresAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "idempotency record not found")
		return nil, idempotency.ErrRecordNotFound
	}
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to find idempotency record: %w", err)
	}

	sc, err := idempotency.NewScope(scope)
	if err != nil {
		return nil, fmt.Errorf("invalid idempotency scope: %w", err)
	}
	st, err := idempotency.NewStatus(status)
	if err != nil {
		return nil, fmt.Errorf("invalid idempotency status: %w", err)
	}
	var snapshot *idempotency.ErrorSnapshot
	if len(errSnapshot) > 0 {
		snapshot = &idempotency.ErrorSnapshot{}
		if err := json.Unmarshal(errSnapshot, snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode error snapshot: %w", err)
		}
	}

	span.SetAttributes(attribute.String("db.status", status))
	span.SetStatus(otelcodes.Ok, "idempotency record found")
	return idempotency.RestoreRecord(uid, k, sc, hash, st, json.RawMessage(response), snapshot, timePtr(expiresAt), createdAt, updatedAt), nil
}

// ReplaceExpired 保持期限切れの確定済みレコードを新しいPENDINGで置き換える
func (r *IdempotencyRepository) ReplaceExpired(ctx context.Context, rec *idempotency.Record, now time.Time) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.ReplaceExpired")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", rec.UserID()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "idempotency_records"),
	)

	query := `
		UPDATE idempotency_records
		SET scope = ?, request_hash = ?, status = ?, response_snapshot = NULL, error_snapshot = NULL,
			expires_at = NULL, created_at = ?, updated_at = ?
		WHERE user_id = ? AND idem_key = ? AND status IN ('COMPLETED', 'FAILED') AND expires_at <= ?
	`
	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		rec.Scope().String(),
		rec.RequestHash(),
		rec.Status().String(),
		rec.CreatedAt(),
		rec.UpdatedAt(),
		rec.UserID(),
		rec.Key(),
		now,
	)
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to replace idempotency record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "idempotency record replaced")
	return rowsAffected == 1, nil
}

// Terminalize PENDINGのレコードを確定状態で書き込む
func (r *IdempotencyRepository) Terminalize(ctx context.Context, rec *idempotency.Record) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.Terminalize")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", rec.UserID()),
		attribute.String("db.status", rec.Status().String()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "idempotency_records"),
	)

	errSnapshot, err := marshalSnapshot(rec.ErrorSnapshot())
	if err != nil {
		failSpan(span, err)
		return false, err
	}

	query := `
		UPDATE idempotency_records
		SET status = ?, response_snapshot = ?, error_snapshot = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ? AND idem_key = ? AND status = 'PENDING'
	`
	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		rec.Status().String(),
		rawOrNil(rec.ResponseSnapshot()),
		errSnapshot,
		nullTimePtr(rec.ExpiresAt()),
		rec.UpdatedAt(),
		rec.UserID(),
		rec.Key(),
	)
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to terminalize idempotency record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "idempotency record terminalized")
	return rowsAffected == 1, nil
}

// DeleteExpired 保持期限切れの確定済みレコードを削除する。PENDINGは対象外
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.DeleteExpired")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.table", "idempotency_records"),
	)

	query := `
		DELETE FROM idempotency_records
		WHERE status IN ('COMPLETED', 'FAILED') AND expires_at < ?
		LIMIT ?
	`
	result, err := r.db.conn(ctx).ExecContext(ctx, query, now, limit)
	if err != nil {
		failSpan(span, err)
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		failSpan(span, err)
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	span.SetStatus(otelcodes.Ok, "expired idempotency records deleted")
	return rowsAffected, nil
}

// CountStalePending 指定時刻より前から残っているPENDINGの件数
func (r *IdempotencyRepository) CountStalePending(ctx context.Context, createdBefore time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "IdempotencyRepository.CountStalePending")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "idempotency_records"),
	)

	var count int64
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM idempotency_records WHERE status = 'PENDING' AND created_at < ?`,
		createdBefore,
	).Scan(&count)
	if err != nil {
		failSpan(span, err)
		return 0, fmt.Errorf("failed to count stale pending records: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "stale pending counted")
	return count, nil
}
