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

	"cookie-wallet/internal/domain/wallet"
)

// BalanceRepository MySQL実装のBalanceRepository
type BalanceRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewBalanceRepository 新しいBalanceRepositoryを作成
func NewBalanceRepository(db *DB) *BalanceRepository {
	return &BalanceRepository{
		db:     db,
		tracer: otel.Tracer("balance-repository"),
	}
}

const selectBalance = `
		SELECT user_id, amount, frozen_amount, daily_limit, monthly_limit, version, updated_at
		FROM wallet_balances
		WHERE user_id = ?`

// FindByUserID ユーザーの残高を取得
func (r *BalanceRepository) FindByUserID(ctx context.Context, userID string) (*wallet.Balance, error) {
	ctx, span := r.tracer.Start(ctx, "BalanceRepository.FindByUserID")
	defer span.End()

	return r.find(ctx, span, userID, selectBalance)
}

// FindByUserIDForUpdate 行ロックを取って残高を取得
func (r *BalanceRepository) FindByUserIDForUpdate(ctx context.Context, userID string) (*wallet.Balance, error) {
	ctx, span := r.tracer.Start(ctx, "BalanceRepository.FindByUserIDForUpdate")
	defer span.End()

	return r.find(ctx, span, userID, forUpdate(ctx, selectBalance))
}

func (r *BalanceRepository) find(ctx context.Context, span trace.Span, userID, query string) (*wallet.Balance, error) {
	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "wallet_balances"),
	)

	var (
		dbUserID                       string
		amount, frozen, daily, monthly int64
		version                        int
		updatedAt                      sql.NullTime
	)
	err := r.db.conn(ctx).QueryRowContext(ctx, query, userID).Scan(
		&dbUserID, &amount, &frozen, &daily, &monthly, &version, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "wallet not found")
		return nil, wallet.ErrWalletNotFound
	}
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to find wallet balance: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("db.amount", amount),
		attribute.Int64("db.frozen_amount", frozen),
		attribute.Int("db.version", version),
	)
	span.SetStatus(otelcodes.Ok, "wallet found")
	return wallet.RestoreBalance(dbUserID, amount, frozen, daily, monthly, version, updatedAt.Time), nil
}

// Create 残高行を作成する。既に存在する場合は何もしない
func (r *BalanceRepository) Create(ctx context.Context, b *wallet.Balance) error {
	ctx, span := r.tracer.Start(ctx, "BalanceRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", b.UserID()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "wallet_balances"),
	)

	query := `
		INSERT INTO wallet_balances (user_id, amount, frozen_amount, daily_limit, monthly_limit, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE user_id = user_id
	`
	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		b.UserID(),
		b.Amount(),
		b.FrozenAmount(),
		b.DailyLimit(),
		b.MonthlyLimit(),
		b.Version(),
		b.UpdatedAt(),
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to create wallet balance: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "wallet created")
	return nil
}

// Update 残高を更新（楽観的ロック対応）。成功するとエンティティのバージョンを進める
func (r *BalanceRepository) Update(ctx context.Context, b *wallet.Balance) error {
	ctx, span := r.tracer.Start(ctx, "BalanceRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", b.UserID()),
		attribute.Int64("db.amount", b.Amount()),
		attribute.Int64("db.frozen_amount", b.FrozenAmount()),
		attribute.Int("db.version", b.Version()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "wallet_balances"),
	)

	query := `
		UPDATE wallet_balances
		SET amount = ?, frozen_amount = ?, daily_limit = ?, monthly_limit = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?
	`
	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		b.Amount(),
		b.FrozenAmount(),
		b.DailyLimit(),
		b.MonthlyLimit(),
		b.UpdatedAt(),
		b.UserID(),
		b.Version(),
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		failSpan(span, wallet.ErrVersionConflict)
		return wallet.ErrVersionConflict
	}

	b.IncrementVersion()
	span.SetStatus(otelcodes.Ok, "wallet updated")
	return nil
}
