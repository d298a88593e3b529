package idempotency

import "cookie-wallet/internal/domain/apperr"

var (
	// ErrMissingKey 冪等性キーが指定されていない
	ErrMissingKey = apperr.Validation("idempotency_key_missing", "idempotency key is required")
	// ErrKeyReused 同じキーが異なる内容で再利用された
	ErrKeyReused = apperr.Validation("idempotency_key_reused", "idempotency key reused with different payload")
	// ErrInFlight 同じキーのリクエストが処理中
	ErrInFlight = apperr.Conflict("duplicate_request_in_flight", "duplicate request in flight")
	// ErrRecordNotFound レコードが見つからない
	ErrRecordNotFound = apperr.NotFound("idempotency_record_not_found", "idempotency record not found")
	// ErrInvalidTransition 許可されていない遷移
	ErrInvalidTransition = apperr.State("invalid_idempotency_transition", "invalid idempotency status transition")
)
