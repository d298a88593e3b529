package coupon

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"cookie-wallet/internal/application/mocks"
	"cookie-wallet/internal/domain/coupon"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*CouponApplicationService, *mocks.CouponRepository, *mocks.UserCouponRepository) {
	t.Helper()

	couponRepo := new(mocks.CouponRepository)
	userCouponRepo := new(mocks.UserCouponRepository)

	tracer := otel.Tracer("test")
	logger := otelinfra.NewLogger(tracer)
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	s := NewCouponApplicationService(couponRepo, userCouponRepo, logger, metrics)
	s.now = func() time.Time { return testNow }
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("uc-new-%d", seq)
	}
	return s, couponRepo, userCouponRepo
}

func percentCoupon(minimum int64, validUntil time.Time) *coupon.Coupon {
	return coupon.MustNewCoupon("coupon-1", "spring sale", coupon.DiscountTypePercent,
		decimal.NewFromInt(10), 0, 500, minimum, testNow.Add(-24*time.Hour), validUntil)
}

func userCoupon(status coupon.Status, userID string) *coupon.UserCoupon {
	return coupon.RestoreUserCoupon("uc-1", "coupon-1", userID, status, "", testNow.Add(24*time.Hour), nil, nil, 1, testNow, testNow)
}

func TestCouponApplicationService_ValidateAndReserve(t *testing.T) {
	tests := []struct {
		name       string
		baseAmount int64
		setupMocks func(*mocks.CouponRepository, *mocks.UserCouponRepository)
		want       *Reservation
		wantErr    error
	}{
		{
			name:       "正常系: 定率割引で確保",
			baseAmount: 3000,
			setupMocks: func(cr *mocks.CouponRepository, ur *mocks.UserCouponRepository) {
				ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusAvailable, "user123"), nil)
				cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(1000, time.Time{}), nil)
				ur.On("CompareAndSwap", mock.Anything, mock.MatchedBy(func(uc *coupon.UserCoupon) bool {
					return uc.Status() == coupon.StatusReserved && uc.OrderID() == "order-1"
				}), coupon.StatusAvailable, "").Return(true, nil)
			},
			want: &Reservation{UserCouponID: "uc-1", CouponID: "coupon-1", OrderID: "order-1", Discount: 300},
		},
		{
			name:       "正常系: 割引上限で頭打ち",
			baseAmount: 10000,
			setupMocks: func(cr *mocks.CouponRepository, ur *mocks.UserCouponRepository) {
				ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusAvailable, "user123"), nil)
				cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(0, time.Time{}), nil)
				ur.On("CompareAndSwap", mock.Anything, mock.Anything, coupon.StatusAvailable, "").Return(true, nil)
			},
			want: &Reservation{UserCouponID: "uc-1", CouponID: "coupon-1", OrderID: "order-1", Discount: 500},
		},
		{
			name:       "異常系: 他ユーザーのクーポン",
			baseAmount: 3000,
			setupMocks: func(cr *mocks.CouponRepository, ur *mocks.UserCouponRepository) {
				ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusAvailable, "user999"), nil)
			},
			wantErr: coupon.ErrCouponNotOwned,
		},
		{
			name:       "異常系: 確保済み",
			baseAmount: 3000,
			setupMocks: func(cr *mocks.CouponRepository, ur *mocks.UserCouponRepository) {
				ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusReserved, "user123"), nil)
			},
			wantErr: coupon.ErrCouponNotAvailable,
		},
		{
			name:       "異常系: 最低利用金額未満",
			baseAmount: 999,
			setupMocks: func(cr *mocks.CouponRepository, ur *mocks.UserCouponRepository) {
				ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusAvailable, "user123"), nil)
				cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(1000, time.Time{}), nil)
			},
			wantErr: coupon.ErrBelowMinimumAmount,
		},
		{
			name:       "異常系: クーポン定義の有効期限切れ",
			baseAmount: 3000,
			setupMocks: func(cr *mocks.CouponRepository, ur *mocks.UserCouponRepository) {
				ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusAvailable, "user123"), nil)
				cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(0, testNow), nil)
			},
			wantErr: coupon.ErrCouponExpired,
		},
		{
			name:       "異常系: 同時確保に負けた",
			baseAmount: 3000,
			setupMocks: func(cr *mocks.CouponRepository, ur *mocks.UserCouponRepository) {
				ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusAvailable, "user123"), nil)
				cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(0, time.Time{}), nil)
				ur.On("CompareAndSwap", mock.Anything, mock.Anything, coupon.StatusAvailable, "").Return(false, nil)
			},
			wantErr: coupon.ErrReservationLost,
		},
		{
			name:       "異常系: 存在しないクーポン",
			baseAmount: 3000,
			setupMocks: func(cr *mocks.CouponRepository, ur *mocks.UserCouponRepository) {
				ur.On("FindByID", mock.Anything, "uc-1").Return(nil, coupon.ErrCouponNotFound)
			},
			wantErr: coupon.ErrCouponNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, cr, ur := newTestService(t)
			tt.setupMocks(cr, ur)

			got, err := s.ValidateAndReserve(context.Background(), "user123", "uc-1", "order-1", tt.baseAmount)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			ur.AssertExpectations(t)
		})
	}
}

func heldCoupon(status coupon.Status, orderID string) *coupon.UserCoupon {
	return coupon.RestoreUserCoupon("uc-1", "coupon-1", "user123", status, orderID, testNow.Add(24*time.Hour), nil, nil, 1, testNow, testNow)
}

func TestCouponApplicationService_Finalize(t *testing.T) {
	tests := []struct {
		name     string
		stored   *coupon.UserCoupon
		swapped  bool
		wantErr  error
		wantSwap bool
	}{
		{name: "正常系: RESERVEDから使用済み", stored: heldCoupon(coupon.StatusReserved, "order-1"), swapped: true, wantSwap: true},
		{name: "正常系: 同じ注文で使用済みなら何もしない", stored: heldCoupon(coupon.StatusUsed, "order-1")},
		{name: "異常系: AVAILABLEは使用済みにできない", stored: heldCoupon(coupon.StatusAvailable, ""), wantErr: coupon.ErrInvalidTransition},
		{name: "異常系: 確保を失った", stored: heldCoupon(coupon.StatusReserved, "order-1"), swapped: false, wantSwap: true, wantErr: coupon.ErrReservationLost},
		{name: "異常系: 他の注文が確保中", stored: heldCoupon(coupon.StatusReserved, "order-2"), wantErr: coupon.ErrReservationLost},
		{name: "異常系: 他の注文で使用済み", stored: heldCoupon(coupon.StatusUsed, "order-2"), wantErr: coupon.ErrReservationLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, ur := newTestService(t)
			ur.On("FindByID", mock.Anything, "uc-1").Return(tt.stored, nil)
			if tt.wantSwap {
				ur.On("CompareAndSwap", mock.Anything, mock.MatchedBy(func(uc *coupon.UserCoupon) bool {
					return uc.Status() == coupon.StatusUsed && uc.UsedAt() != nil
				}), coupon.StatusReserved, "order-1").Return(tt.swapped, nil)
			}

			err := s.Finalize(context.Background(), "uc-1", "order-1")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if !tt.wantSwap {
				ur.AssertNotCalled(t, "CompareAndSwap", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestCouponApplicationService_Rollback(t *testing.T) {
	tests := []struct {
		name     string
		stored   *coupon.UserCoupon
		wantSwap bool
	}{
		{name: "正常系: RESERVEDからAVAILABLEへ", stored: heldCoupon(coupon.StatusReserved, "order-1"), wantSwap: true},
		{name: "正常系: 既にAVAILABLE", stored: heldCoupon(coupon.StatusAvailable, "")},
		{name: "正常系: 使用済みは警告のみ", stored: heldCoupon(coupon.StatusUsed, "order-1")},
		{name: "正常系: 失効済みは警告のみ", stored: heldCoupon(coupon.StatusExpired, "order-1")},
		{name: "正常系: 他の注文の確保は解除しない", stored: heldCoupon(coupon.StatusReserved, "order-2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, ur := newTestService(t)
			ur.On("FindByID", mock.Anything, "uc-1").Return(tt.stored, nil)
			if tt.wantSwap {
				ur.On("CompareAndSwap", mock.Anything, mock.MatchedBy(func(uc *coupon.UserCoupon) bool {
					return uc.Status() == coupon.StatusAvailable && uc.OrderID() == ""
				}), coupon.StatusReserved, "order-1").Return(true, nil)
			}

			err := s.Rollback(context.Background(), "uc-1", "order-1")

			require.NoError(t, err)
			if tt.wantSwap {
				ur.AssertExpectations(t)
			} else {
				ur.AssertNotCalled(t, "CompareAndSwap", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}

	t.Run("異常系: 取得エラー", func(t *testing.T) {
		s, _, ur := newTestService(t)
		ur.On("FindByID", mock.Anything, "uc-1").Return(nil, errors.New("database error"))

		err := s.Rollback(context.Background(), "uc-1", "order-1")

		assert.Error(t, err)
	})
}

func TestCouponApplicationService_Issue(t *testing.T) {
	t.Run("正常系: クーポン定義の期限で発行", func(t *testing.T) {
		s, cr, ur := newTestService(t)
		validUntil := testNow.Add(30 * 24 * time.Hour)
		cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(0, validUntil), nil)
		ur.On("Create", mock.Anything, mock.MatchedBy(func(uc *coupon.UserCoupon) bool {
			return uc.UserID() == "user123" && uc.Status() == coupon.StatusAvailable && uc.ExpiresAt().Equal(validUntil)
		})).Return(nil)

		got, err := s.Issue(context.Background(), "user123", "coupon-1")

		require.NoError(t, err)
		assert.Equal(t, "uc-new-1", got.UserCouponID)
		assert.Equal(t, "10", got.Rate)
		require.NotNil(t, got.ExpiresAt)
	})

	t.Run("異常系: 期限切れの定義", func(t *testing.T) {
		s, cr, _ := newTestService(t)
		cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(0, testNow.Add(-time.Second)), nil)

		_, err := s.Issue(context.Background(), "user123", "coupon-1")

		assert.ErrorIs(t, err, coupon.ErrCouponExpired)
	})
}

func TestCouponApplicationService_Reissue(t *testing.T) {
	t.Run("正常系: 有効期間内なら再発行", func(t *testing.T) {
		s, cr, ur := newTestService(t)
		ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusUsed, "user123"), nil)
		cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(0, time.Time{}), nil)
		ur.On("Create", mock.Anything, mock.MatchedBy(func(uc *coupon.UserCoupon) bool {
			return uc.ID() == "uc-new-1" && uc.CouponID() == "coupon-1" && uc.UserID() == "user123" && uc.Status() == coupon.StatusAvailable
		})).Return(nil)

		issued, err := s.Reissue(context.Background(), "uc-1")

		require.NoError(t, err)
		assert.True(t, issued)
	})

	t.Run("正常系: 有効期間外なら再発行しない", func(t *testing.T) {
		s, cr, ur := newTestService(t)
		ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusUsed, "user123"), nil)
		cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(0, testNow), nil)

		issued, err := s.Reissue(context.Background(), "uc-1")

		require.NoError(t, err)
		assert.False(t, issued)
		ur.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("正常系: 使用済みでなければ再発行しない", func(t *testing.T) {
		s, cr, ur := newTestService(t)
		ur.On("FindByID", mock.Anything, "uc-1").Return(userCoupon(coupon.StatusAvailable, "user123"), nil)

		issued, err := s.Reissue(context.Background(), "uc-1")

		require.NoError(t, err)
		assert.False(t, issued)
		cr.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})
}

func TestCouponApplicationService_ExpireOverdue(t *testing.T) {
	s, _, ur := newTestService(t)
	available := userCoupon(coupon.StatusAvailable, "user123")
	reserved := coupon.RestoreUserCoupon("uc-2", "coupon-1", "user123", coupon.StatusReserved, "order-1", testNow.Add(-time.Hour), nil, nil, 1, testNow, testNow)
	ur.On("FindOverdue", mock.Anything, testNow, 50).Return([]*coupon.UserCoupon{available, reserved}, nil)
	ur.On("CompareAndSwap", mock.Anything, available, coupon.StatusAvailable, "").Return(true, nil)
	ur.On("CompareAndSwap", mock.Anything, reserved, coupon.StatusReserved, "order-1").Return(false, nil)

	expired, err := s.ExpireOverdue(context.Background(), 50)

	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, coupon.StatusExpired, available.Status())
}

func TestCouponApplicationService_ListAvailable(t *testing.T) {
	s, cr, ur := newTestService(t)
	second := coupon.RestoreUserCoupon("uc-2", "coupon-1", "user123", coupon.StatusAvailable, "", time.Time{}, nil, nil, 1, testNow, testNow)
	ur.On("FindAvailableByUserID", mock.Anything, "user123", testNow).Return([]*coupon.UserCoupon{
		userCoupon(coupon.StatusAvailable, "user123"), second,
	}, nil)
	cr.On("FindByID", mock.Anything, "coupon-1").Return(percentCoupon(0, time.Time{}), nil).Once()

	got, err := s.ListAvailable(context.Background(), "user123")

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "spring sale", got[0].Name)
	assert.Nil(t, got[1].ExpiresAt)
	cr.AssertNumberOfCalls(t, "FindByID", 1)
}
