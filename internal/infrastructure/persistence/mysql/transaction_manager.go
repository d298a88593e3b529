package mysql

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/transaction"
)

// TransactionManager トランザクション管理を提供
type TransactionManager struct {
	db     *DB
	tracer trace.Tracer
}

// NewTransactionManager 新しいトランザクションマネージャーを作成
func NewTransactionManager(db *DB) *TransactionManager {
	return &TransactionManager{
		db:     db,
		tracer: otel.Tracer("transaction-manager"),
	}
}

// WithTransaction トランザクション内で関数を実行する。
// 既にトランザクション内であれば同じトランザクションに参加する。
// AfterCommitで登録された処理はコミット成功後に実行される
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	ctx, span := tm.tracer.Start(ctx, "TransactionManager.WithTransaction")
	defer span.End()

	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	ctx, hooks := transaction.WithCommitHooks(ctx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			failSpan(span, err)
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
			failSpan(span, err)
			return
		}
		hooks.Run()
	}()

	return fn(withTx(ctx, tx))
}
