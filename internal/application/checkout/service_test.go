package checkout

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

	couponapp "cookie-wallet/internal/application/coupon"
	"cookie-wallet/internal/application/limit"
	"cookie-wallet/internal/application/mocks"
	"cookie-wallet/internal/domain/idempotency"
	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/port"
	"cookie-wallet/internal/domain/service"
	"cookie-wallet/internal/domain/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type mockCoupons struct{ mock.Mock }

func (m *mockCoupons) ValidateAndReserve(ctx context.Context, userID, userCouponID, orderID string, baseAmount int64) (*couponapp.Reservation, error) {
	args := m.Called(ctx, userID, userCouponID, orderID, baseAmount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*couponapp.Reservation), args.Error(1)
}

func (m *mockCoupons) Rollback(ctx context.Context, userCouponID, orderID string) error {
	return m.Called(ctx, userCouponID, orderID).Error(0)
}

type mockIdempotency struct{ mock.Mock }

func (m *mockIdempotency) Lookup(ctx context.Context, userID, key string, scope idempotency.Scope, hash string) (*idempotency.Replay, error) {
	args := m.Called(ctx, userID, key, scope, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Replay), args.Error(1)
}

func (m *mockIdempotency) Begin(ctx context.Context, userID, key string, scope idempotency.Scope, hash string) (*idempotency.Replay, error) {
	args := m.Called(ctx, userID, key, scope, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Replay), args.Error(1)
}

func (m *mockIdempotency) Fail(ctx context.Context, userID, key string, cause error) error {
	return m.Called(ctx, userID, key, cause).Error(0)
}

type mockLimits struct{ mock.Mock }

func (m *mockLimits) CheckDailyLimit(ctx context.Context, userID string, cash, cookie int64) error {
	return m.Called(ctx, userID, cash, cookie).Error(0)
}

type mockWallet struct{ mock.Mock }

func (m *mockWallet) Available(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockWallet) Freeze(ctx context.Context, userID string, amount int64) error {
	return m.Called(ctx, userID, amount).Error(0)
}

type testDeps struct {
	catalog *mocks.CatalogReader
	users   *mocks.UserDirectory
	orders  *mocks.OrderRepository
	coupons *mockCoupons
	idem    *mockIdempotency
	limits  *mockLimits
	wallet  *mockWallet
	tx      *mocks.TransactionManager
}

func newTestService(t *testing.T) (*CheckoutApplicationService, *testDeps) {
	t.Helper()

	d := &testDeps{
		catalog: new(mocks.CatalogReader),
		users:   new(mocks.UserDirectory),
		orders:  new(mocks.OrderRepository),
		coupons: new(mockCoupons),
		idem:    new(mockIdempotency),
		limits:  new(mockLimits),
		wallet:  new(mockWallet),
		tx:      new(mocks.TransactionManager),
	}
	d.tx.On("WithTransaction", mock.Anything).Return(nil)

	tracer := otel.Tracer("test")
	logger := otelinfra.NewLogger(tracer)
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	s := NewCheckoutApplicationService(
		service.NewPriceReconciler(d.catalog),
		d.users, d.orders, d.coupons, d.idem, d.limits, d.wallet, d.tx,
		logger, metrics,
	)
	s.now = func() time.Time { return testNow }
	ids := 0
	s.newID = func() string {
		ids++
		if ids == 1 {
			return "order-1"
		}
		return "line-" + string(rune('0'+ids))
	}
	return s, d
}

func courseRequest(method string, cash, cookie int64) *CheckoutRequest {
	return &CheckoutRequest{
		UserID:         "user123",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ItemType: "COURSE", ItemID: "course-1", Quantity: 1, UnitPrice: 1000}},
		PaymentMethod:  method,
		CashAmount:     cash,
		CookieAmount:   cookie,
	}
}

func (d *testDeps) userExists() {
	d.idem.On("Lookup", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).Return(nil, nil)
	d.users.On("Exists", mock.Anything, "user123").Return(true, nil)
}

func (d *testDeps) coursePrice(price int64) {
	d.catalog.On("FindPrice", mock.Anything, order.ItemTypeCourse, "course-1").
		Return(&port.CatalogItem{ItemType: order.ItemTypeCourse, ItemID: "course-1", DiscountedPrice: price}, true, nil)
}

func TestCheckoutApplicationService_Checkout(t *testing.T) {
	tests := []struct {
		name       string
		req        *CheckoutRequest
		setupMocks func(*testDeps)
		wantErr    error
		wantTotal  int64
		wantMethod string
		verify     func(*testing.T, *testDeps)
	}{
		{
			name: "正常系: クッキー払いで注文を作成し仮押さえする",
			req:  courseRequest("COOKIE", 0, 1000),
			setupMocks: func(d *testDeps) {
				d.userExists()
				d.coursePrice(1000)
				d.wallet.On("Available", mock.Anything, "user123").Return(int64(2000), nil)
				d.idem.On("Begin", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).Return(nil, nil)
				d.limits.On("CheckDailyLimit", mock.Anything, "user123", int64(0), int64(1000)).Return(nil)
				d.orders.On("Create", mock.Anything, mock.MatchedBy(func(o *order.Order) bool {
					return o.ID() == "order-1" && o.Status() == order.StatusPending && o.IdempotencyKey() == "key-1"
				})).Return(nil)
				d.wallet.On("Freeze", mock.Anything, "user123", int64(1000)).Return(nil)
			},
			wantTotal:  1000,
			wantMethod: "COOKIE",
		},
		{
			name: "正常系: クーポン適用後の金額で現金払い",
			req: func() *CheckoutRequest {
				r := courseRequest("CASH", 900, 0)
				r.CouponRedemptionID = "uc-1"
				return r
			}(),
			setupMocks: func(d *testDeps) {
				d.userExists()
				d.coursePrice(1000)
				d.coupons.On("ValidateAndReserve", mock.Anything, "user123", "uc-1", "order-1", int64(1000)).
					Return(&couponapp.Reservation{UserCouponID: "uc-1", CouponID: "c-1", OrderID: "order-1", Discount: 100}, nil)
				d.idem.On("Begin", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).Return(nil, nil)
				d.limits.On("CheckDailyLimit", mock.Anything, "user123", int64(900), int64(0)).Return(nil)
				d.orders.On("Create", mock.Anything, mock.MatchedBy(func(o *order.Order) bool {
					return o.DiscountAmount() == 100 && o.CouponRedemptionID() == "uc-1"
				})).Return(nil)
			},
			wantTotal:  900,
			wantMethod: "CASH",
			verify: func(t *testing.T, d *testDeps) {
				d.wallet.AssertNotCalled(t, "Freeze", mock.Anything, mock.Anything, mock.Anything)
				d.coupons.AssertNotCalled(t, "Rollback", mock.Anything, mock.Anything, mock.Anything)
			},
		},
		{
			name: "異常系: 明細が空",
			req: func() *CheckoutRequest {
				r := courseRequest("CASH", 1000, 0)
				r.Items = nil
				return r
			}(),
			setupMocks: func(d *testDeps) { d.userExists() },
			wantErr:    order.ErrEmptyOrder,
		},
		{
			name:       "異常系: 現金とクッキーの併用",
			req:        courseRequest("CASH", 500, 500),
			setupMocks: func(d *testDeps) { d.userExists() },
			wantErr:    order.ErrMixedPaymentUnsupported,
		},
		{
			name: "異常系: クッキーでバンドルは購入できない",
			req: &CheckoutRequest{
				UserID:         "user123",
				IdempotencyKey: "key-1",
				Items:          []ItemInput{{ItemType: "COOKIE_BUNDLE", ItemID: "bundle-1", Quantity: 1}},
				PaymentMethod:  "COOKIE",
				CookieAmount:   500,
			},
			setupMocks: func(d *testDeps) {
				d.userExists()
				d.catalog.On("FindPrice", mock.Anything, order.ItemTypeCookieBundle, "bundle-1").
					Return(&port.CatalogItem{ItemType: order.ItemTypeCookieBundle, ItemID: "bundle-1", DiscountedPrice: 500, CookieQuantity: 600}, true, nil)
			},
			wantErr: order.ErrBundleRequiresCash,
		},
		{
			name: "異常系: クッキー残高不足",
			req:  courseRequest("COOKIE", 0, 1000),
			setupMocks: func(d *testDeps) {
				d.userExists()
				d.coursePrice(1000)
				d.wallet.On("Available", mock.Anything, "user123").Return(int64(999), nil)
			},
			wantErr: wallet.ErrInsufficientBalance,
		},
		{
			name: "異常系: 金額不一致はクーポンを戻す",
			req: func() *CheckoutRequest {
				r := courseRequest("CASH", 1000, 0)
				r.CouponRedemptionID = "uc-1"
				return r
			}(),
			setupMocks: func(d *testDeps) {
				d.userExists()
				d.coursePrice(1000)
				d.coupons.On("ValidateAndReserve", mock.Anything, "user123", "uc-1", "order-1", int64(1000)).
					Return(&couponapp.Reservation{UserCouponID: "uc-1", OrderID: "order-1", Discount: 100}, nil)
				d.coupons.On("Rollback", mock.Anything, "uc-1", "order-1").Return(nil)
			},
			wantErr: order.ErrAmountMismatch,
			verify: func(t *testing.T, d *testDeps) {
				d.coupons.AssertCalled(t, "Rollback", mock.Anything, "uc-1", "order-1")
				d.idem.AssertNotCalled(t, "Begin", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			},
		},
		{
			name: "異常系: 利用上限超過はクーポンと冪等性レコードを戻す",
			req: func() *CheckoutRequest {
				r := courseRequest("CASH", 900, 0)
				r.CouponRedemptionID = "uc-1"
				return r
			}(),
			setupMocks: func(d *testDeps) {
				d.userExists()
				d.coursePrice(1000)
				d.coupons.On("ValidateAndReserve", mock.Anything, "user123", "uc-1", "order-1", int64(1000)).
					Return(&couponapp.Reservation{UserCouponID: "uc-1", OrderID: "order-1", Discount: 100}, nil)
				d.idem.On("Begin", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).Return(nil, nil)
				d.limits.On("CheckDailyLimit", mock.Anything, "user123", int64(900), int64(0)).
					Return(&limit.LimitExceededError{Currency: "CASH", Period: limit.PeriodDaily, Limit: 500, Attempted: 900, Excess: 400})
				d.coupons.On("Rollback", mock.Anything, "uc-1", "order-1").Return(nil)
				d.idem.On("Fail", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)
			},
			wantErr: limit.ErrLimitExceeded,
			verify: func(t *testing.T, d *testDeps) {
				d.coupons.AssertCalled(t, "Rollback", mock.Anything, "uc-1", "order-1")
				d.idem.AssertCalled(t, "Fail", mock.Anything, "user123", "key-1", mock.Anything)
				d.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			},
		},
		{
			name: "異常系: 仮押さえ失敗は冪等性レコードを失敗で確定",
			req:  courseRequest("COOKIE", 0, 1000),
			setupMocks: func(d *testDeps) {
				d.userExists()
				d.coursePrice(1000)
				d.wallet.On("Available", mock.Anything, "user123").Return(int64(1000), nil)
				d.idem.On("Begin", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).Return(nil, nil)
				d.limits.On("CheckDailyLimit", mock.Anything, "user123", int64(0), int64(1000)).Return(nil)
				d.orders.On("Create", mock.Anything, mock.Anything).Return(nil)
				d.wallet.On("Freeze", mock.Anything, "user123", int64(1000)).
					Return(&wallet.InsufficientBalanceError{Requested: 1000, Available: 0})
				d.idem.On("Fail", mock.Anything, "user123", "key-1", mock.Anything).Return(nil)
			},
			wantErr: wallet.ErrInsufficientBalance,
			verify: func(t *testing.T, d *testDeps) {
				d.idem.AssertCalled(t, "Fail", mock.Anything, "user123", "key-1", mock.Anything)
			},
		},
		{
			name: "異常系: ユーザーが存在しない",
			req:  courseRequest("CASH", 1000, 0),
			setupMocks: func(d *testDeps) {
				d.idem.On("Lookup", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).Return(nil, nil)
				d.users.On("Exists", mock.Anything, "user123").Return(false, nil)
			},
			wantErr: port.ErrUserNotFound,
		},
		{
			name: "異常系: 同じキーの処理中",
			req:  courseRequest("CASH", 1000, 0),
			setupMocks: func(d *testDeps) {
				d.idem.On("Lookup", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).
					Return(nil, idempotency.ErrInFlight)
			},
			wantErr: idempotency.ErrInFlight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, d := newTestService(t)
			tt.setupMocks(d)

			resp, err := s.Checkout(context.Background(), tt.req)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, resp)
			} else {
				require.NoError(t, err)
				require.NotNil(t, resp)
				assert.False(t, resp.Replayed)
				assert.Equal(t, "order-1", resp.Receipt.OrderID)
				assert.Equal(t, "PENDING", resp.Receipt.Status)
				assert.Equal(t, tt.wantTotal, resp.Receipt.TotalAmount)
				assert.Equal(t, tt.wantMethod, resp.Receipt.PaymentMethod)
			}
			if tt.verify != nil {
				tt.verify(t, d)
			}
		})
	}
}

func TestCheckoutApplicationService_Checkout_AmountMismatchDetail(t *testing.T) {
	s, d := newTestService(t)
	d.userExists()
	d.coursePrice(1200)

	_, err := s.Checkout(context.Background(), courseRequest("CASH", 1000, 0))

	var mismatch *order.AmountMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(1200), mismatch.Expected)
	assert.Equal(t, int64(1000), mismatch.Received)
}

func TestCheckoutApplicationService_Checkout_Replay(t *testing.T) {
	t.Run("正常系: 確定済みの結果を返し処理を実行しない", func(t *testing.T) {
		s, d := newTestService(t)
		body, err := json.Marshal(map[string]interface{}{"order_id": "order-9", "status": "PAID", "total_amount": 1000})
		require.NoError(t, err)
		d.idem.On("Lookup", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).
			Return(&idempotency.Replay{Status: idempotency.StatusCompleted, Response: body}, nil)

		resp, err := s.Checkout(context.Background(), courseRequest("CASH", 1000, 0))

		require.NoError(t, err)
		assert.True(t, resp.Replayed)
		assert.Equal(t, "order-9", resp.Receipt.OrderID)
		assert.Equal(t, "PAID", resp.Receipt.Status)
		d.users.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
		d.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("異常系: 失敗の結果は同じエラーを返す", func(t *testing.T) {
		s, d := newTestService(t)
		d.idem.On("Lookup", mock.Anything, "user123", "key-1", idempotency.ScopeCheckout, mock.Anything).
			Return(&idempotency.Replay{
				Status:  idempotency.StatusFailed,
				Failure: &idempotency.ErrorSnapshot{Kind: "validation", Code: "amount_mismatch", Message: "amount mismatch"},
			}, nil)

		_, err := s.Checkout(context.Background(), courseRequest("CASH", 1000, 0))

		var replayed *idempotency.ReplayedError
		require.True(t, errors.As(err, &replayed))
		assert.Equal(t, "amount_mismatch", replayed.Snapshot.Code)
	})
}

func TestCheckoutRequest_HashExcludesKey(t *testing.T) {
	a := courseRequest("CASH", 1000, 0)
	b := courseRequest("CASH", 1000, 0)
	b.IdempotencyKey = "other"

	ha, err := idempotency.HashRequest(a)
	require.NoError(t, err)
	hb, err := idempotency.HashRequest(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.CashAmount = 999
	hc, err := idempotency.HashRequest(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}
