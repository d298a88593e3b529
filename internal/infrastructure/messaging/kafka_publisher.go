package messaging

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/infrastructure/config"
)

// KafkaPublisher sarama SyncProducerによるport.EventPublisher
type KafkaPublisher struct {
	producer sarama.SyncProducer
	tracer   trace.Tracer
}

// NewProducerConfig 全レプリカの確認を待つプロデューサー設定を作成
func NewProducerConfig(cfg *config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Version = sarama.V2_1_0_0
	return sc
}

// NewKafkaPublisher ブローカーへ接続するKafkaPublisherを作成
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer), nil
}

// NewKafkaPublisherWithProducer 既存のプロデューサーを使うKafkaPublisherを作成
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		tracer:   otel.Tracer("kafka-publisher"),
	}
}

// Publish メッセージを同期送信する。キーは注文IDで、同じ注文のイベントは同じパーティションに入る
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	_, span := p.tracer.Start(ctx, "KafkaPublisher.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_key", key),
	)

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	span.SetAttributes(
		attribute.Int64("messaging.kafka.partition", int64(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	span.SetStatus(otelcodes.Ok, "message published")
	return nil
}

// Close プロデューサーを閉じる
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
