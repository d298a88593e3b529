// Package mocks アプリケーション層のテストで使うtestifyモック
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"cookie-wallet/internal/domain/coupon"
	"cookie-wallet/internal/domain/idempotency"
	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/outbox"
	"cookie-wallet/internal/domain/transaction"
	"cookie-wallet/internal/domain/wallet"
)

// TransactionManager 渡された関数をそのまま実行するモック。
// fnが成功した場合だけコミット後フックを実行する
type TransactionManager struct {
	mock.Mock
}

func (m *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	txCtx, hooks := transaction.WithCommitHooks(ctx)
	if err := fn(txCtx); err != nil {
		return err
	}
	hooks.Run()
	return nil
}

// BalanceRepository モック残高リポジトリ
type BalanceRepository struct {
	mock.Mock
}

func (m *BalanceRepository) FindByUserID(ctx context.Context, userID string) (*wallet.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Balance), args.Error(1)
}

func (m *BalanceRepository) FindByUserIDForUpdate(ctx context.Context, userID string) (*wallet.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Balance), args.Error(1)
}

func (m *BalanceRepository) Create(ctx context.Context, b *wallet.Balance) error {
	return m.Called(ctx, b).Error(0)
}

func (m *BalanceRepository) Update(ctx context.Context, b *wallet.Balance) error {
	return m.Called(ctx, b).Error(0)
}

// BatchRepository モックバッチリポジトリ
type BatchRepository struct {
	mock.Mock
}

func (m *BatchRepository) FindActiveByUserID(ctx context.Context, userID string) ([]*wallet.Batch, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*wallet.Batch), args.Error(1)
}

func (m *BatchRepository) FindByIDs(ctx context.Context, ids []string) ([]*wallet.Batch, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*wallet.Batch), args.Error(1)
}

func (m *BatchRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*wallet.Batch, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*wallet.Batch), args.Error(1)
}

func (m *BatchRepository) Create(ctx context.Context, b *wallet.Batch) error {
	return m.Called(ctx, b).Error(0)
}

func (m *BatchRepository) Update(ctx context.Context, b *wallet.Batch) error {
	return m.Called(ctx, b).Error(0)
}

// LedgerRepository モック台帳リポジトリ
type LedgerRepository struct {
	mock.Mock
}

func (m *LedgerRepository) Append(ctx context.Context, e *wallet.LedgerEntry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *LedgerRepository) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*wallet.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*wallet.LedgerEntry), args.Error(1)
}

func (m *LedgerRepository) SumByUserID(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// AllocationRepository モック割当リポジトリ
type AllocationRepository struct {
	mock.Mock
}

func (m *AllocationRepository) SaveAll(ctx context.Context, allocations []*wallet.Allocation) error {
	return m.Called(ctx, allocations).Error(0)
}

func (m *AllocationRepository) FindByReference(ctx context.Context, ref wallet.Reference) ([]*wallet.Allocation, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*wallet.Allocation), args.Error(1)
}

func (m *AllocationRepository) UpdateRestored(ctx context.Context, a *wallet.Allocation) error {
	return m.Called(ctx, a).Error(0)
}

// CouponRepository モッククーポン定義リポジトリ
type CouponRepository struct {
	mock.Mock
}

func (m *CouponRepository) FindByID(ctx context.Context, couponID string) (*coupon.Coupon, error) {
	args := m.Called(ctx, couponID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.Coupon), args.Error(1)
}

// UserCouponRepository モックユーザークーポンリポジトリ
type UserCouponRepository struct {
	mock.Mock
}

func (m *UserCouponRepository) FindByID(ctx context.Context, id string) (*coupon.UserCoupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.UserCoupon), args.Error(1)
}

func (m *UserCouponRepository) FindAvailableByUserID(ctx context.Context, userID string, now time.Time) ([]*coupon.UserCoupon, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*coupon.UserCoupon), args.Error(1)
}

func (m *UserCouponRepository) FindOverdue(ctx context.Context, now time.Time, limit int) ([]*coupon.UserCoupon, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*coupon.UserCoupon), args.Error(1)
}

func (m *UserCouponRepository) Create(ctx context.Context, uc *coupon.UserCoupon) error {
	return m.Called(ctx, uc).Error(0)
}

func (m *UserCouponRepository) CompareAndSwap(ctx context.Context, uc *coupon.UserCoupon, from coupon.Status, fromOrderID string) (bool, error) {
	args := m.Called(ctx, uc, from, fromOrderID)
	return args.Bool(0), args.Error(1)
}

// IdempotencyRepository モック冪等性レコードリポジトリ
type IdempotencyRepository struct {
	mock.Mock
}

func (m *IdempotencyRepository) InsertIfAbsent(ctx context.Context, r *idempotency.Record) (bool, error) {
	args := m.Called(ctx, r)
	return args.Bool(0), args.Error(1)
}

func (m *IdempotencyRepository) Find(ctx context.Context, userID, key string) (*idempotency.Record, error) {
	args := m.Called(ctx, userID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Record), args.Error(1)
}

func (m *IdempotencyRepository) ReplaceExpired(ctx context.Context, r *idempotency.Record, now time.Time) (bool, error) {
	args := m.Called(ctx, r, now)
	return args.Bool(0), args.Error(1)
}

func (m *IdempotencyRepository) Terminalize(ctx context.Context, r *idempotency.Record) (bool, error) {
	args := m.Called(ctx, r)
	return args.Bool(0), args.Error(1)
}

func (m *IdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).(int64), args.Error(1)
}

func (m *IdempotencyRepository) CountStalePending(ctx context.Context, createdBefore time.Time) (int64, error) {
	args := m.Called(ctx, createdBefore)
	return args.Get(0).(int64), args.Error(1)
}

// OrderRepository モック注文リポジトリ
type OrderRepository struct {
	mock.Mock
}

func (m *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *OrderRepository) FindByID(ctx context.Context, orderID string) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *OrderRepository) FindByIDForUpdate(ctx context.Context, orderID string) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *OrderRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*order.Order, error) {
	args := m.Called(ctx, createdBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func (m *OrderRepository) SaveRefund(ctx context.Context, r *order.Refund) error {
	return m.Called(ctx, r).Error(0)
}

// SpendingReader モック支出集計
type SpendingReader struct {
	mock.Mock
}

func (m *SpendingReader) SumSettledSpend(ctx context.Context, userID string, method order.PaymentMethod, from, to time.Time) (int64, error) {
	args := m.Called(ctx, userID, method, from, to)
	return args.Get(0).(int64), args.Error(1)
}

// OutboxRepository モックアウトボックスリポジトリ
type OutboxRepository struct {
	mock.Mock
}

func (m *OutboxRepository) Save(ctx context.Context, msg *outbox.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *OutboxRepository) FindPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *OutboxRepository) MarkRetry(ctx context.Context, id, lastError string, maxRetries int) error {
	return m.Called(ctx, id, lastError, maxRetries).Error(0)
}
