package admin

import "time"

// 付与の種類
const (
	GrantKindBonus = "BONUS" // 無償（FREE）
	GrantKindAdmin = "ADMIN" // 有償扱いの調整（PAID）
)

// GrantRequest クッキー付与リクエスト
type GrantRequest struct {
	UserID    string
	Amount    int64
	Kind      string
	ExpiresAt *time.Time
	Reason    string
	Operator  string
}

// GrantResponse クッキー付与結果
type GrantResponse struct {
	GrantID      string `json:"grant_id"`
	UserID       string `json:"user_id"`
	Amount       int64  `json:"amount"`
	BatchType    string `json:"batch_type"`
	BalanceAfter int64  `json:"balance_after"`
}
