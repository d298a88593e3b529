package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/outbox"
)

// OutboxRepository MySQL実装のoutbox.Repository
type OutboxRepository struct {
	db     *DB
	tracer trace.Tracer
	now    func() time.Time
}

// NewOutboxRepository 新しいOutboxRepositoryを作成
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		tracer: otel.Tracer("outbox-repository"),
		now:    time.Now,
	}
}

// Save メッセージを保存。決済・返金と同じトランザクション内で呼ぶ
func (r *OutboxRepository) Save(ctx context.Context, m *outbox.Message) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination", m.Topic),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "outbox_messages"),
	)

	query := `
		INSERT INTO outbox_messages (message_id, topic, message_key, payload, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.conn(ctx).ExecContext(ctx, query,
		m.ID, m.Topic, m.Key, m.Payload, string(m.Status), m.RetryCount, m.CreatedAt,
	); err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to save outbox message: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "outbox message saved")
	return nil
}

// FindPending 未送信のメッセージを古い順に取得
func (r *OutboxRepository) FindPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.FindPending")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "outbox_messages"),
	)

	query := `
		SELECT message_id, topic, message_key, payload, status, retry_count, last_error, created_at, sent_at
		FROM outbox_messages
		WHERE status = 'PENDING'
		ORDER BY created_at
		LIMIT ?
	`
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to query outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []*outbox.Message
	for rows.Next() {
		var (
			m         outbox.Message
			status    string
			lastError sql.NullString
			sentAt    sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &status, &m.RetryCount, &lastError, &m.CreatedAt, &sentAt); err != nil {
			failSpan(span, err)
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		m.Status = outbox.Status(status)
		m.LastError = lastError.String
		m.SentAt = timePtr(sentAt)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("failed to iterate outbox messages: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(messages)))
	span.SetStatus(otelcodes.Ok, "pending messages found")
	return messages, nil
}

// MarkSent 送信済みにする
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkSent")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.message_id", id),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "outbox_messages"),
	)

	if _, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'SENT', sent_at = ? WHERE message_id = ?`,
		r.now().UTC(), id,
	); err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to mark outbox message sent: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "outbox message sent")
	return nil
}

// MarkRetry 送信失敗を記録する。上限に達したらFAILEDにする
func (r *OutboxRepository) MarkRetry(ctx context.Context, id, lastError string, maxRetries int) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkRetry")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.message_id", id),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "outbox_messages"),
	)

	// MySQLはSETを左から評価するため、statusはretry_countより先に書く
	query := `
		UPDATE outbox_messages
		SET status = CASE WHEN retry_count + 1 >= ? THEN 'FAILED' ELSE 'PENDING' END,
			retry_count = retry_count + 1,
			last_error = ?
		WHERE message_id = ?
	`
	if _, err := r.db.conn(ctx).ExecContext(ctx, query, maxRetries, lastError, id); err != nil {
		failSpan(span, err)
		return fmt.Errorf("failed to mark outbox message retry: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "outbox retry recorded")
	return nil
}
