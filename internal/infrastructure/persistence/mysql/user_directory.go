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

	"cookie-wallet/internal/domain/port"
)

// UserDirectory usersテーブルを参照するport.UserDirectory
type UserDirectory struct {
	db     *DB
	tracer trace.Tracer
}

// NewUserDirectory 新しいUserDirectoryを作成
func NewUserDirectory(db *DB) *UserDirectory {
	return &UserDirectory{
		db:     db,
		tracer: otel.Tracer("user-directory"),
	}
}

// Exists ユーザーが存在するかどうか
func (r *UserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "UserDirectory.Exists")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "users"),
	)

	var exists bool
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = ?)`, userID,
	).Scan(&exists)
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	span.SetAttributes(attribute.Bool("db.exists", exists))
	span.SetStatus(otelcodes.Ok, "user existence checked")
	return exists, nil
}

// Get ユーザーを取得
func (r *UserDirectory) Get(ctx context.Context, userID string) (*port.UserRef, error) {
	ctx, span := r.tracer.Start(ctx, "UserDirectory.Get")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "users"),
	)

	var u port.UserRef
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT user_id, display_name FROM users WHERE user_id = ?`, userID,
	).Scan(&u.ID, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Error, "user not found")
		return nil, port.ErrUserNotFound
	}
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "user found")
	return &u, nil
}
