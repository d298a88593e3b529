package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/port"
)

// CatalogReader モックカタログ
type CatalogReader struct {
	mock.Mock
}

func (m *CatalogReader) FindPrice(ctx context.Context, itemType order.ItemType, itemID string) (*port.CatalogItem, bool, error) {
	args := m.Called(ctx, itemType, itemID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*port.CatalogItem), args.Bool(1), args.Error(2)
}

// UserDirectory モックユーザー参照
type UserDirectory struct {
	mock.Mock
}

func (m *UserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *UserDirectory) Get(ctx context.Context, userID string) (*port.UserRef, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.UserRef), args.Error(1)
}

// PaymentGateway モック決済ゲートウェイ
type PaymentGateway struct {
	mock.Mock
}

func (m *PaymentGateway) AuthorizeAndCapture(ctx context.Context, method order.PaymentMethod, amount int64, orderID string) (string, error) {
	args := m.Called(ctx, method, amount, orderID)
	return args.String(0), args.Error(1)
}

func (m *PaymentGateway) Cancel(ctx context.Context, gatewayRef string, amount int64) error {
	return m.Called(ctx, gatewayRef, amount).Error(0)
}

// EventPublisher モックイベント配信
type EventPublisher struct {
	mock.Mock
}

func (m *EventPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return m.Called(ctx, topic, key, payload).Error(0)
}

// Locker 常に取得できるロック。Errを設定すると失敗する
type Locker struct {
	Err      error
	Acquired []string
	Released int
}

func (l *Locker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	l.Acquired = append(l.Acquired, key)
	return func(context.Context) error {
		l.Released++
		return nil
	}, nil
}

// AuditWriter モック監査ログ
type AuditWriter struct {
	mock.Mock
}

func (m *AuditWriter) Write(ctx context.Context, entry port.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}
