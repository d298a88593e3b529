package port

import "context"

// AuditEntry 監査ログ
type AuditEntry struct {
	UserID      string
	Action      string
	ReferenceID string
	Detail      map[string]interface{}
}

// AuditWriter 監査ログの書き込み先。失敗しても業務処理は継続する
type AuditWriter interface {
	Write(ctx context.Context, entry AuditEntry) error
}
