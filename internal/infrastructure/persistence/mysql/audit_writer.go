package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/port"
)

// AuditWriter audit_logsへ追記するport.AuditWriter
type AuditWriter struct {
	db     *DB
	tracer trace.Tracer
	newID  func() string
	now    func() time.Time
}

// NewAuditWriter 新しいAuditWriterを作成
func NewAuditWriter(db *DB) *AuditWriter {
	return &AuditWriter{
		db:     db,
		tracer: otel.Tracer("audit-writer"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Write 監査ログを追記
func (w *AuditWriter) Write(ctx context.Context, entry port.AuditEntry) error {
	ctx, span := w.tracer.Start(ctx, "AuditWriter.Write")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", entry.UserID),
		attribute.String("audit.action", entry.Action),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "audit_logs"),
	)

	var detail interface{}
	if len(entry.Detail) > 0 {
		data, err := json.Marshal(entry.Detail)
		if err != nil {
			failSpan(span, err)
			return fmt.Errorf("failed to marshal audit detail: %w", err)
		}
		detail = data
	}

	query := `
		INSERT INTO audit_logs (audit_id, user_id, action, reference_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := w.db.conn(ctx).ExecContext(ctx, query,
		w.newID(), entry.UserID, entry.Action, entry.ReferenceID, detail, w.now().UTC(),
	); err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "audit log written")
	return nil
}
