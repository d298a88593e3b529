package limit

import (
	"fmt"

	"cookie-wallet/internal/domain/apperr"
)

// ErrLimitExceeded 利用上限超過
var ErrLimitExceeded = apperr.Validation("spending_limit_exceeded", "spending limit exceeded")

// 上限の期間
const (
	PeriodDaily   = "DAILY"
	PeriodMonthly = "MONTHLY"
)

// LimitExceededError 超過した上限の内容
type LimitExceededError struct {
	Currency  string // CASH / COOKIE
	Period    string
	Limit     int64
	Attempted int64 // 既存の支出と今回の合計
	Excess    int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s %s limit exceeded: limit %d, attempted %d (excess %d)",
		e.Period, e.Currency, e.Limit, e.Attempted, e.Excess)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}
