package mysql

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/wallet"
)

// LedgerRepository MySQL実装のLedgerRepository（追記のみ）
type LedgerRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewLedgerRepository 新しいLedgerRepositoryを作成
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{
		db:     db,
		tracer: otel.Tracer("ledger-repository"),
	}
}

// Append 台帳エントリを追記
func (r *LedgerRepository) Append(ctx context.Context, e *wallet.LedgerEntry) error {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.Append")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.entry_id", e.ID()),
		attribute.String("db.user_id", e.UserID()),
		attribute.String("db.entry_type", e.Type().String()),
		attribute.Int64("db.cookie_amount", e.CookieAmount()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "cookie_ledger"),
	)

	query := `
		INSERT INTO cookie_ledger (entry_id, user_id, entry_type, cookie_amount, balance_after, reference_type, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		e.ID(),
		e.UserID(),
		e.Type().String(),
		e.CookieAmount(),
		e.BalanceAfter(),
		e.Reference().Type,
		e.Reference().ID,
		e.CreatedAt(),
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "ledger entry appended")
	return nil
}

// FindByUserID ユーザーの台帳を新しい順に取得
func (r *LedgerRepository) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*wallet.LedgerEntry, error) {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.FindByUserID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.Int("db.limit", limit),
		attribute.Int("db.offset", offset),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "cookie_ledger"),
	)

	query := `
		SELECT entry_id, user_id, entry_type, cookie_amount, balance_after, reference_type, reference_id, created_at
		FROM cookie_ledger
		WHERE user_id = ?
		ORDER BY created_at DESC, entry_id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*wallet.LedgerEntry
	for rows.Next() {
		var (
			id, uid, entryType, refType, refID string
			cookieAmount, balanceAfter         int64
			createdAt                          time.Time
		)
		if err := rows.Scan(&id, &uid, &entryType, &cookieAmount, &balanceAfter, &refType, &refID, &createdAt); err != nil {
			failSpan(span, err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		et, err := wallet.NewEntryType(entryType)
		if err != nil {
			return nil, fmt.Errorf("invalid entry type: %w", err)
		}
		entries = append(entries, wallet.RestoreLedgerEntry(id, uid, et, cookieAmount, balanceAfter, wallet.Reference{Type: refType, ID: refID}, createdAt))
	}
	if err := rows.Err(); err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to iterate ledger: %w", err)
	}

	span.SetAttributes(attribute.Int("db.rows", len(entries)))
	span.SetStatus(otelcodes.Ok, "ledger found")
	return entries, nil
}

// SumByUserID 台帳の符号付き合計
func (r *LedgerRepository) SumByUserID(ctx context.Context, userID string) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.SumByUserID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "cookie_ledger"),
	)

	var sum int64
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cookie_amount), 0) FROM cookie_ledger WHERE user_id = ?`,
		userID,
	).Scan(&sum)
	if err != nil {
		failSpan(span, err)
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "ledger summed")
	return sum, nil
}
