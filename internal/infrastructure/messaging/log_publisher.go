package messaging

import (
	"context"

	"cookie-wallet/internal/infrastructure/observability/otel"
)

// LogPublisher Kafkaを使わない構成でイベントをログに出すだけのport.EventPublisher
type LogPublisher struct {
	logger *otel.Logger
}

// NewLogPublisher 新しいLogPublisherを作成
func NewLogPublisher(logger *otel.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish イベントをログに記録
func (p *LogPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.logger.Info(ctx, "Event published to log sink", map[string]interface{}{
		"topic":   topic,
		"key":     key,
		"payload": string(payload),
	})
	return nil
}
