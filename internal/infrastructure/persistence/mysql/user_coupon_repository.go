package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/coupon"
)

// UserCouponRepository MySQL実装のUserCouponRepository
type UserCouponRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewUserCouponRepository 新しいUserCouponRepositoryを作成
func NewUserCouponRepository(db *DB) *UserCouponRepository {
	return &UserCouponRepository{
		db:     db,
		tracer: otel.Tracer("user-coupon-repository"),
	}
}

const userCouponColumns = `user_coupon_id, coupon_id, user_id, status, order_id, expires_at, reserved_at, used_at, version, created_at, updated_at`

func scanUserCoupon(s rowScanner) (*coupon.UserCoupon, error) {
	var (
		id, couponID, userID, status  string
		orderID                       sql.NullString
		expiresAt, reservedAt, usedAt sql.NullTime
		version                       int
		createdAt, updatedAt          time.Time
	)
	if err := s.Scan(&id, &couponID, &userID, &status, &orderID, &expiresAt, &reservedAt, &usedAt, &version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	st, err := coupon.NewStatus(status)
	if err != nil {
		return nil, fmt.Errorf("invalid coupon status: %w", err)
	}
	return coupon.RestoreUserCoupon(id, couponID, userID, st, orderID.String, expiresAt.Time, timePtr(reservedAt), timePtr(usedAt), version, createdAt, updatedAt), nil
}

func (r *UserCouponRepository) query(ctx context.Context, span trace.Span, query string, args ...interface{}) ([]*coupon.UserCoupon, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to query user coupons: %w", err)
	}
	defer rows.Close()

	var result []*coupon.UserCoupon
	for rows.Next() {
		uc, err := scanUserCoupon(rows)
		if err != nil {
			failSpan(span, err)
			return nil, fmt.Errorf("failed to scan user coupon: %w", err)
		}
		result = append(result, uc)
	}
	if err := rows.Err(); err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to iterate user coupons: %w", err)
	}

	span.SetAttributes(attribute.Int("db.rows", len(result)))
	span.SetStatus(otelcodes.Ok, "user coupons found")
	return result, nil
}

// FindByID 引き換えIDで取得
func (r *UserCouponRepository) FindByID(ctx context.Context, id string) (*coupon.UserCoupon, error) {
	ctx, span := r.tracer.Start(ctx, "UserCouponRepository.FindByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_coupon_id", id),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "user_coupons"),
	)

	query := `SELECT ` + userCouponColumns + ` FROM user_coupons WHERE user_coupon_id = ?`
	uc, err := scanUserCoupon(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "user coupon not found")
		return nil, coupon.ErrCouponNotFound
	}
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to find user coupon: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "user coupon found")
	return uc, nil
}

// FindAvailableByUserID 利用可能なクーポンを期限の近い順に取得
func (r *UserCouponRepository) FindAvailableByUserID(ctx context.Context, userID string, now time.Time) ([]*coupon.UserCoupon, error) {
	ctx, span := r.tracer.Start(ctx, "UserCouponRepository.FindAvailableByUserID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "user_coupons"),
	)

	query := `SELECT ` + userCouponColumns + `
		FROM user_coupons
		WHERE user_id = ? AND status = 'AVAILABLE' AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY expires_at IS NULL, expires_at, user_coupon_id`
	return r.query(ctx, span, query, userID, now)
}

// FindOverdue 期限切れのAVAILABLE/RESERVEDを取得
func (r *UserCouponRepository) FindOverdue(ctx context.Context, now time.Time, limit int) ([]*coupon.UserCoupon, error) {
	ctx, span := r.tracer.Start(ctx, "UserCouponRepository.FindOverdue")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "user_coupons"),
	)

	query := `SELECT ` + userCouponColumns + `
		FROM user_coupons
		WHERE status IN ('AVAILABLE', 'RESERVED') AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at, user_coupon_id
		LIMIT ?`
	return r.query(ctx, span, query, now, limit)
}

// Create 引き換えを作成
func (r *UserCouponRepository) Create(ctx context.Context, uc *coupon.UserCoupon) error {
	ctx, span := r.tracer.Start(ctx, "UserCouponRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_coupon_id", uc.ID()),
		attribute.String("db.coupon_id", uc.CouponID()),
		attribute.String("db.user_id", uc.UserID()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "user_coupons"),
	)

	query := `
		INSERT INTO user_coupons (` + userCouponColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		uc.ID(),
		uc.CouponID(),
		uc.UserID(),
		uc.Status().String(),
		nullString(uc.OrderID()),
		nullTime(uc.ExpiresAt()),
		nullTimePtr(uc.ReservedAt()),
		nullTimePtr(uc.UsedAt()),
		uc.Version(),
		uc.CreatedAt(),
		uc.UpdatedAt(),
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to create user coupon: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "user coupon created")
	return nil
}

// CompareAndSwap 現在のステータスと確保中の注文がfrom/fromOrderIDと一致する場合のみ状態を書き込む。
// 他の処理に先を越された場合はfalseを返す
func (r *UserCouponRepository) CompareAndSwap(ctx context.Context, uc *coupon.UserCoupon, from coupon.Status, fromOrderID string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "UserCouponRepository.CompareAndSwap")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_coupon_id", uc.ID()),
		attribute.String("db.from_status", from.String()),
		attribute.String("db.to_status", uc.Status().String()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "user_coupons"),
	)

	query := `
		UPDATE user_coupons
		SET status = ?, order_id = ?, reserved_at = ?, used_at = ?, version = version + 1, updated_at = ?
		WHERE user_coupon_id = ? AND status = ? AND (order_id <=> ?)
	`
	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		uc.Status().String(),
		nullString(uc.OrderID()),
		nullTimePtr(uc.ReservedAt()),
		nullTimePtr(uc.UsedAt()),
		uc.UpdatedAt(),
		uc.ID(),
		from.String(),
		nullString(fromOrderID),
	)
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to update user coupon: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		failSpan(span, err)
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	if rowsAffected == 0 {
		span.SetStatus(otelcodes.Ok, "status changed concurrently")
		return false, nil
	}

	uc.IncrementVersion()
	span.SetStatus(otelcodes.Ok, "user coupon updated")
	return true, nil
}
