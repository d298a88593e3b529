package port

import (
	"context"

	"cookie-wallet/internal/domain/apperr"
)

// ErrUserNotFound ユーザーが存在しない
var ErrUserNotFound = apperr.NotFound("user_not_found", "user not found")

// UserRef ユーザーの参照
type UserRef struct {
	ID          string
	DisplayName string
}

// UserDirectory ユーザー情報の参照
type UserDirectory interface {
	// Exists ユーザーが存在するかどうか
	Exists(ctx context.Context, userID string) (bool, error)

	// Get ユーザーを取得
	Get(ctx context.Context, userID string) (*UserRef, error)
}
