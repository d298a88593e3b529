package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"cookie-wallet/internal/application/mocks"
	walletapp "cookie-wallet/internal/application/wallet"
	"cookie-wallet/internal/domain/idempotency"
	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/outbox"
	"cookie-wallet/internal/domain/port"
	"cookie-wallet/internal/domain/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type mockWallet struct{ mock.Mock }

func (m *mockWallet) Debit(ctx context.Context, req *walletapp.DebitRequest) (*walletapp.MutationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*walletapp.MutationResponse), args.Error(1)
}

func (m *mockWallet) Credit(ctx context.Context, req *walletapp.CreditRequest) (*walletapp.MutationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*walletapp.MutationResponse), args.Error(1)
}

func (m *mockWallet) Unfreeze(ctx context.Context, userID string, amount int64) (int64, error) {
	args := m.Called(ctx, userID, amount)
	return args.Get(0).(int64), args.Error(1)
}

type mockCoupons struct{ mock.Mock }

func (m *mockCoupons) Finalize(ctx context.Context, id, orderID string) error {
	return m.Called(ctx, id, orderID).Error(0)
}
func (m *mockCoupons) Rollback(ctx context.Context, id, orderID string) error {
	return m.Called(ctx, id, orderID).Error(0)
}

type mockIdempotency struct{ mock.Mock }

func (m *mockIdempotency) Result(ctx context.Context, userID, key string) (*idempotency.Replay, error) {
	args := m.Called(ctx, userID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Replay), args.Error(1)
}

func (m *mockIdempotency) Complete(ctx context.Context, userID, key string, response interface{}) error {
	return m.Called(ctx, userID, key, response).Error(0)
}

func (m *mockIdempotency) Fail(ctx context.Context, userID, key string, cause error) error {
	return m.Called(ctx, userID, key, cause).Error(0)
}

type countingNotifier struct{ calls int }

func (n *countingNotifier) Notify() { n.calls++ }

type testDeps struct {
	orders   *mocks.OrderRepository
	outbox   *mocks.OutboxRepository
	wallet   *mockWallet
	coupons  *mockCoupons
	idem     *mockIdempotency
	gateway  *mocks.PaymentGateway
	locker   *mocks.Locker
	audit    *mocks.AuditWriter
	notifier *countingNotifier
	tx       *mocks.TransactionManager
}

func newTestService(t *testing.T) (*SettlementApplicationService, *testDeps) {
	t.Helper()

	d := &testDeps{
		orders:   new(mocks.OrderRepository),
		outbox:   new(mocks.OutboxRepository),
		wallet:   new(mockWallet),
		coupons:  new(mockCoupons),
		idem:     new(mockIdempotency),
		gateway:  new(mocks.PaymentGateway),
		locker:   &mocks.Locker{},
		audit:    new(mocks.AuditWriter),
		notifier: &countingNotifier{},
		tx:       new(mocks.TransactionManager),
	}
	d.tx.On("WithTransaction", mock.Anything).Return(nil)

	tracer := otel.Tracer("test")
	logger := otelinfra.NewLogger(tracer)
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	s := NewSettlementApplicationService(
		d.orders, d.outbox, d.wallet, d.coupons, d.idem, d.gateway, d.locker, d.audit, d.notifier, d.tx,
		0, logger, metrics,
	)
	s.now = func() time.Time { return testNow }
	s.newID = func() string { return "msg-1" }
	return s, d
}

type orderOpt func(*order.RestoreParams)

func withCoupon(id string, discount int64) orderOpt {
	return func(p *order.RestoreParams) {
		p.CouponRedemptionID = id
		p.DiscountAmount = discount
		p.TotalAmount = p.Subtotal - discount
	}
}

func withStatus(st order.Status) orderOpt {
	return func(p *order.RestoreParams) { p.Status = st }
}

func courseOrder(method order.PaymentMethod, opts ...orderOpt) *order.Order {
	p := order.RestoreParams{
		ID:             "order-1",
		UserID:         "user123",
		Items:          []*order.LineItem{order.RestoreLineItem("li-1", order.ItemTypeCourse, "course-1", 1, 1000, 0, 0)},
		PaymentMethod:  method,
		Status:         order.StatusPending,
		Subtotal:       1000,
		TotalAmount:    1000,
		IdempotencyKey: "key-1",
		Version:        1,
		CreatedAt:      testNow.Add(-time.Minute),
		UpdatedAt:      testNow.Add(-time.Minute),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return order.Restore(p)
}

func bundleOrder() *order.Order {
	return order.Restore(order.RestoreParams{
		ID:             "order-1",
		UserID:         "user123",
		Items:          []*order.LineItem{order.RestoreLineItem("li-1", order.ItemTypeCookieBundle, "bundle-1", 2, 500, 600, 0)},
		PaymentMethod:  order.PaymentMethodCash,
		Status:         order.StatusPending,
		Subtotal:       1000,
		TotalAmount:    1000,
		IdempotencyKey: "key-1",
		Version:        1,
		CreatedAt:      testNow.Add(-time.Minute),
		UpdatedAt:      testNow.Add(-time.Minute),
	})
}

// expectLoad 事前読み込み（ロック前後）とトランザクション内の行ロックを設定する
func (d *testDeps) expectLoad(build func() *order.Order) {
	d.orders.On("FindByID", mock.Anything, "order-1").Return(build(), nil)
	d.orders.On("FindByIDForUpdate", mock.Anything, "order-1").Return(build(), nil).Once()
}

func TestSettlementApplicationService_Settle(t *testing.T) {
	tests := []struct {
		name       string
		build      func() *order.Order
		setupMocks func(*testDeps)
		wantStatus string
		verify     func(*testing.T, *testDeps)
	}{
		{
			name:  "正常系: クッキー払いは仮押さえを解放しながら消費する",
			build: func() *order.Order { return courseOrder(order.PaymentMethodCookie) },
			setupMocks: func(d *testDeps) {
				d.wallet.On("Debit", mock.Anything, mock.MatchedBy(func(r *walletapp.DebitRequest) bool {
					return r.Amount == 1000 && r.ReleaseHold && r.Reference.Type == wallet.ReferenceTypeOrder && r.Reference.ID == "order-1"
				})).Return(&walletapp.MutationResponse{UserID: "user123"}, nil)
				d.orders.On("Update", mock.Anything, mock.Anything).Return(nil)
				d.idem.On("Complete", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)
				d.outbox.On("Save", mock.Anything, mock.MatchedBy(func(m *outbox.Message) bool {
					return m.Topic == outbox.TopicPaymentCompleted && m.Key == "order-1"
				})).Return(nil)
				d.audit.On("Write", mock.Anything, mock.Anything).Return(nil)
			},
			wantStatus: "PAID",
		},
		{
			name:  "正常系: 現金でバンドルを購入しクッキーを付与する",
			build: bundleOrder,
			setupMocks: func(d *testDeps) {
				d.gateway.On("AuthorizeAndCapture", mock.Anything, order.PaymentMethodCash, int64(1000), "order-1").Return("gw-1", nil)
				d.wallet.On("Credit", mock.Anything, mock.MatchedBy(func(r *walletapp.CreditRequest) bool {
					return r.Amount == 1200 && r.BatchType == wallet.BatchTypePaid && r.Source == wallet.BatchSourcePurchase
				})).Return(&walletapp.MutationResponse{UserID: "user123"}, nil)
				d.orders.On("Update", mock.Anything, mock.Anything).Return(nil)
				d.idem.On("Complete", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)
				d.outbox.On("Save", mock.Anything, mock.Anything).Return(nil)
				d.audit.On("Write", mock.Anything, mock.Anything).Return(nil)
			},
			wantStatus: "PAID",
			verify: func(t *testing.T, d *testDeps) {
				d.wallet.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything)
			},
		},
		{
			name:  "正常系: クーポンを使用済みにする",
			build: func() *order.Order { return courseOrder(order.PaymentMethodCash, withCoupon("uc-1", 100)) },
			setupMocks: func(d *testDeps) {
				d.gateway.On("AuthorizeAndCapture", mock.Anything, order.PaymentMethodCash, int64(900), "order-1").Return("gw-1", nil)
				d.coupons.On("Finalize", mock.Anything, "uc-1", "order-1").Return(nil)
				d.orders.On("Update", mock.Anything, mock.Anything).Return(nil)
				d.idem.On("Complete", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)
				d.outbox.On("Save", mock.Anything, mock.Anything).Return(nil)
				d.audit.On("Write", mock.Anything, mock.Anything).Return(errors.New("audit down"))
			},
			wantStatus: "PAID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, d := newTestService(t)
			d.expectLoad(tt.build)
			tt.setupMocks(d)

			r, err := s.Settle(context.Background(), "user123", "order-1")

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Equal(t, 1, d.notifier.calls)
			assert.Equal(t, []string{port.WalletLockKey("user123")}, d.locker.Acquired)
			assert.Equal(t, 1, d.locker.Released)
			if tt.verify != nil {
				tt.verify(t, d)
			}
		})
	}
}

func TestSettlementApplicationService_Settle_BundleReceipt(t *testing.T) {
	s, d := newTestService(t)
	d.expectLoad(bundleOrder)
	d.gateway.On("AuthorizeAndCapture", mock.Anything, order.PaymentMethodCash, int64(1000), "order-1").Return("gw-1", nil)
	d.wallet.On("Credit", mock.Anything, mock.Anything).Return(&walletapp.MutationResponse{}, nil)
	d.orders.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.idem.On("Complete", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)
	var saved *outbox.Message
	d.outbox.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*outbox.Message)
	}).Return(nil)
	d.audit.On("Write", mock.Anything, mock.Anything).Return(nil)

	r, err := s.Settle(context.Background(), "user123", "order-1")

	require.NoError(t, err)
	assert.Equal(t, "gw-1", r.GatewayRef)
	assert.Equal(t, int64(1200), r.CookiesGranted)
	require.NotNil(t, r.PaidAt)

	require.NotNil(t, saved)
	var event outbox.PaymentCompleted
	require.NoError(t, json.Unmarshal(saved.Payload, &event))
	assert.Equal(t, "order-1", event.OrderID)
	assert.Equal(t, "CASH", event.PaymentMethod)
	require.Len(t, event.Items, 1)
	assert.Equal(t, 2, event.Items[0].Quantity)
}

func TestSettlementApplicationService_Settle_Replay(t *testing.T) {
	t.Run("正常系: 決済済みはキャッシュを返す", func(t *testing.T) {
		s, d := newTestService(t)
		d.orders.On("FindByID", mock.Anything, "order-1").Return(courseOrder(order.PaymentMethodCash, withStatus(order.StatusPaid)), nil)
		body := []byte(`{"order_id":"order-1","status":"PAID","total_amount":1000,"gateway_ref":"gw-1"}`)
		d.idem.On("Result", mock.Anything, "user123", "key-1").
			Return(&idempotency.Replay{Status: idempotency.StatusCompleted, Response: body}, nil)

		r, err := s.Settle(context.Background(), "user123", "order-1")

		require.NoError(t, err)
		assert.Equal(t, "gw-1", r.GatewayRef)
		d.gateway.AssertNotCalled(t, "AuthorizeAndCapture", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, 0, d.notifier.calls)
	})

	t.Run("異常系: 失敗済みはキャッシュされたエラーを返す", func(t *testing.T) {
		s, d := newTestService(t)
		d.orders.On("FindByID", mock.Anything, "order-1").Return(courseOrder(order.PaymentMethodCash, withStatus(order.StatusFailed)), nil)
		d.idem.On("Result", mock.Anything, "user123", "key-1").Return(&idempotency.Replay{
			Status:  idempotency.StatusFailed,
			Failure: &idempotency.ErrorSnapshot{Kind: "validation", Code: "payment_declined", Message: "declined"},
		}, nil)

		_, err := s.Settle(context.Background(), "user123", "order-1")

		var replayed *idempotency.ReplayedError
		require.True(t, errors.As(err, &replayed))
		assert.Equal(t, "payment_declined", replayed.Snapshot.Code)
	})

	t.Run("異常系: キャッシュが消えた失敗注文", func(t *testing.T) {
		s, d := newTestService(t)
		d.orders.On("FindByID", mock.Anything, "order-1").Return(courseOrder(order.PaymentMethodCash, withStatus(order.StatusFailed)), nil)
		d.idem.On("Result", mock.Anything, "user123", "key-1").Return(nil, nil)

		_, err := s.Settle(context.Background(), "user123", "order-1")

		assert.ErrorIs(t, err, ErrSettlementFailed)
	})
}

func TestSettlementApplicationService_Settle_Rejected(t *testing.T) {
	t.Run("異常系: 所有者以外", func(t *testing.T) {
		s, d := newTestService(t)
		d.orders.On("FindByID", mock.Anything, "order-1").Return(courseOrder(order.PaymentMethodCash), nil)

		_, err := s.Settle(context.Background(), "other-user", "order-1")

		assert.ErrorIs(t, err, order.ErrNotOwner)
		assert.Empty(t, d.locker.Acquired)
	})

	t.Run("異常系: ロックを取得できない", func(t *testing.T) {
		s, d := newTestService(t)
		d.locker.Err = port.ErrLockNotAcquired
		d.orders.On("FindByID", mock.Anything, "order-1").Return(courseOrder(order.PaymentMethodCash), nil)

		_, err := s.Settle(context.Background(), "user123", "order-1")

		assert.ErrorIs(t, err, port.ErrLockNotAcquired)
		d.gateway.AssertNotCalled(t, "AuthorizeAndCapture", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("異常系: キャンセル済み", func(t *testing.T) {
		s, d := newTestService(t)
		d.orders.On("FindByID", mock.Anything, "order-1").Return(courseOrder(order.PaymentMethodCash, withStatus(order.StatusCancelled)), nil)

		_, err := s.Settle(context.Background(), "user123", "order-1")

		assert.ErrorIs(t, err, ErrOrderClosed)
	})
}

func TestSettlementApplicationService_Settle_Compensation(t *testing.T) {
	t.Run("異常系: 決済拒否は注文を失敗にしてクーポンを戻す", func(t *testing.T) {
		s, d := newTestService(t)
		build := func() *order.Order { return courseOrder(order.PaymentMethodCash, withCoupon("uc-1", 100)) }
		d.expectLoad(build)
		d.gateway.On("AuthorizeAndCapture", mock.Anything, order.PaymentMethodCash, int64(900), "order-1").Return("", port.ErrGatewayDeclined)
		var updated *order.Order
		d.orders.On("Update", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			updated = args.Get(1).(*order.Order)
		}).Return(nil)
		d.coupons.On("Rollback", mock.Anything, "uc-1", "order-1").Return(nil)
		d.idem.On("Fail", mock.Anything, "user123", "key-1", port.ErrGatewayDeclined).Return(nil)

		_, err := s.Settle(context.Background(), "user123", "order-1")

		assert.ErrorIs(t, err, port.ErrGatewayDeclined)
		require.NotNil(t, updated)
		assert.Equal(t, order.StatusFailed, updated.Status())
		d.coupons.AssertCalled(t, "Rollback", mock.Anything, "uc-1", "order-1")
		d.gateway.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, 0, d.notifier.calls)
	})

	t.Run("異常系: 確定処理の失敗は売上を取り消す", func(t *testing.T) {
		s, d := newTestService(t)
		build := func() *order.Order { return courseOrder(order.PaymentMethodCash) }
		d.orders.On("FindByID", mock.Anything, "order-1").Return(build(), nil)
		d.orders.On("FindByIDForUpdate", mock.Anything, "order-1").Return(build(), nil).Once()
		d.orders.On("FindByIDForUpdate", mock.Anything, "order-1").Return(build(), nil).Once()
		d.gateway.On("AuthorizeAndCapture", mock.Anything, order.PaymentMethodCash, int64(1000), "order-1").Return("gw-1", nil)
		d.orders.On("Update", mock.Anything, mock.Anything).Return(nil)
		d.idem.On("Complete", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)
		saveErr := errors.New("outbox insert failed")
		d.outbox.On("Save", mock.Anything, mock.Anything).Return(saveErr)
		d.idem.On("Fail", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)
		d.gateway.On("Cancel", mock.Anything, "gw-1", int64(1000)).Return(nil)

		_, err := s.Settle(context.Background(), "user123", "order-1")

		assert.ErrorIs(t, err, saveErr)
		d.gateway.AssertCalled(t, "Cancel", mock.Anything, "gw-1", int64(1000))
		d.idem.AssertCalled(t, "Fail", mock.Anything, "user123", "key-1", mock.Anything)
	})

	t.Run("異常系: クッキー不足は仮押さえを解放する", func(t *testing.T) {
		s, d := newTestService(t)
		build := func() *order.Order { return courseOrder(order.PaymentMethodCookie) }
		d.orders.On("FindByID", mock.Anything, "order-1").Return(build(), nil)
		d.orders.On("FindByIDForUpdate", mock.Anything, "order-1").Return(build(), nil).Twice()
		d.wallet.On("Debit", mock.Anything, mock.Anything).Return(nil, &wallet.InsufficientBalanceError{Requested: 1000, Available: 10})
		d.orders.On("Update", mock.Anything, mock.Anything).Return(nil)
		d.wallet.On("Unfreeze", mock.Anything, "user123", int64(1000)).Return(int64(1000), nil)
		d.idem.On("Fail", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)

		_, err := s.Settle(context.Background(), "user123", "order-1")

		assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)
		d.wallet.AssertCalled(t, "Unfreeze", mock.Anything, "user123", int64(1000))
	})
}

func TestSettlementApplicationService_Cancel(t *testing.T) {
	t.Run("正常系: 仮押さえとクーポンを戻してキャンセル", func(t *testing.T) {
		s, d := newTestService(t)
		build := func() *order.Order {
			return courseOrder(order.PaymentMethodCookie, withCoupon("uc-1", 100))
		}
		d.expectLoad(build)
		d.orders.On("Update", mock.Anything, mock.Anything).Return(nil)
		d.wallet.On("Unfreeze", mock.Anything, "user123", int64(900)).Return(int64(900), nil)
		d.coupons.On("Rollback", mock.Anything, "uc-1", "order-1").Return(nil)
		d.idem.On("Fail", mock.Anything, "user123", "key-1", ErrCheckoutCancelled).Return(nil)
		d.audit.On("Write", mock.Anything, mock.Anything).Return(nil)

		r, err := s.Cancel(context.Background(), "user123", "order-1")

		require.NoError(t, err)
		assert.Equal(t, "CANCELLED", r.Status)
		assert.Equal(t, 1, d.locker.Released)
	})

	t.Run("異常系: 決済済みはキャンセルできない", func(t *testing.T) {
		s, d := newTestService(t)
		build := func() *order.Order { return courseOrder(order.PaymentMethodCash, withStatus(order.StatusPaid)) }
		d.expectLoad(build)

		_, err := s.Cancel(context.Background(), "user123", "order-1")

		assert.ErrorIs(t, err, order.ErrInvalidTransition)
		d.orders.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestSettlementApplicationService_Abandon(t *testing.T) {
	t.Run("正常系: PENDINGを放棄扱いでキャンセル", func(t *testing.T) {
		s, d := newTestService(t)
		d.orders.On("FindByIDForUpdate", mock.Anything, "order-1").Return(courseOrder(order.PaymentMethodCash), nil)
		d.orders.On("Update", mock.Anything, mock.Anything).Return(nil)
		d.idem.On("Fail", mock.Anything, "user123", "key-1", ErrCheckoutAbandoned).Return(nil)

		abandoned, err := s.Abandon(context.Background(), "order-1")

		require.NoError(t, err)
		assert.True(t, abandoned)
	})

	t.Run("正常系: 既に決済済みなら何もしない", func(t *testing.T) {
		s, d := newTestService(t)
		d.orders.On("FindByIDForUpdate", mock.Anything, "order-1").Return(courseOrder(order.PaymentMethodCash, withStatus(order.StatusPaid)), nil)

		abandoned, err := s.Abandon(context.Background(), "order-1")

		require.NoError(t, err)
		assert.False(t, abandoned)
		d.idem.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
