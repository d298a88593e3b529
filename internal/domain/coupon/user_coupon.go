package coupon

import (
	"time"
)

// UserCoupon ユーザーに発行されたクーポン（引き換え単位）
type UserCoupon struct {
	id         string
	couponID   string
	userID     string
	status     Status
	orderID    string // 確保・使用中の注文
	expiresAt  time.Time
	reservedAt *time.Time
	usedAt     *time.Time
	version    int
	createdAt  time.Time
	updatedAt  time.Time
}

// NewUserCoupon 新しいAVAILABLEのUserCouponを発行
func NewUserCoupon(id, couponID, userID string, expiresAt, now time.Time) *UserCoupon {
	return &UserCoupon{
		id:        id,
		couponID:  couponID,
		userID:    userID,
		status:    StatusAvailable,
		expiresAt: expiresAt,
		createdAt: now,
		updatedAt: now,
	}
}

// RestoreUserCoupon 永続化されたUserCouponを復元
func RestoreUserCoupon(
	id, couponID, userID string,
	status Status,
	orderID string,
	expiresAt time.Time,
	reservedAt, usedAt *time.Time,
	version int,
	createdAt, updatedAt time.Time,
) *UserCoupon {
	return &UserCoupon{
		id:         id,
		couponID:   couponID,
		userID:     userID,
		status:     status,
		orderID:    orderID,
		expiresAt:  expiresAt,
		reservedAt: reservedAt,
		usedAt:     usedAt,
		version:    version,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

// ID 引き換えIDを返す
func (uc *UserCoupon) ID() string { return uc.id }

// CouponID クーポン定義IDを返す
func (uc *UserCoupon) CouponID() string { return uc.couponID }

// UserID 所有ユーザーIDを返す
func (uc *UserCoupon) UserID() string { return uc.userID }

// Status ステータスを返す
func (uc *UserCoupon) Status() Status { return uc.status }

// OrderID 確保中・使用済みの注文IDを返す
func (uc *UserCoupon) OrderID() string { return uc.orderID }

// ExpiresAt 有効期限を返す
func (uc *UserCoupon) ExpiresAt() time.Time { return uc.expiresAt }

// ReservedAt 確保日時を返す
func (uc *UserCoupon) ReservedAt() *time.Time { return uc.reservedAt }

// UsedAt 使用日時を返す
func (uc *UserCoupon) UsedAt() *time.Time { return uc.usedAt }

// Version バージョンを返す
func (uc *UserCoupon) Version() int { return uc.version }

// CreatedAt 作成日時を返す
func (uc *UserCoupon) CreatedAt() time.Time { return uc.createdAt }

// UpdatedAt 更新日時を返す
func (uc *UserCoupon) UpdatedAt() time.Time { return uc.updatedAt }

// IsExpired 期限切れかどうか
func (uc *UserCoupon) IsExpired(now time.Time) bool {
	return !uc.expiresAt.IsZero() && !now.Before(uc.expiresAt)
}

// CheckReservable 指定ユーザーが確保できる状態か検証する
func (uc *UserCoupon) CheckReservable(userID string, now time.Time) error {
	if uc.userID != userID {
		return ErrCouponNotOwned
	}
	if uc.status == StatusExpired || uc.IsExpired(now) {
		return ErrCouponExpired
	}
	if uc.status != StatusAvailable {
		return ErrCouponNotAvailable
	}
	return nil
}

func (uc *UserCoupon) transition(to Status, now time.Time) error {
	if err := Transition(uc.status, to); err != nil {
		return err
	}
	uc.status = to
	uc.updatedAt = now
	return nil
}

// Reserve AVAILABLE → RESERVED
func (uc *UserCoupon) Reserve(orderID string, now time.Time) error {
	if err := uc.transition(StatusReserved, now); err != nil {
		return err
	}
	uc.orderID = orderID
	uc.reservedAt = &now
	return nil
}

// Use RESERVED → USED
func (uc *UserCoupon) Use(now time.Time) error {
	if err := uc.transition(StatusUsed, now); err != nil {
		return err
	}
	uc.usedAt = &now
	return nil
}

// Release RESERVED → AVAILABLE。既にAVAILABLEの場合は何もしない（false）
func (uc *UserCoupon) Release(now time.Time) (bool, error) {
	if uc.status == StatusAvailable {
		return false, nil
	}
	if err := uc.transition(StatusAvailable, now); err != nil {
		return false, err
	}
	uc.orderID = ""
	uc.reservedAt = nil
	return true, nil
}

// Expire AVAILABLE/RESERVED → EXPIRED
func (uc *UserCoupon) Expire(now time.Time) error {
	return uc.transition(StatusExpired, now)
}

// IncrementVersion バージョンをインクリメント（楽観的ロック用）
func (uc *UserCoupon) IncrementVersion() {
	uc.version++
}
