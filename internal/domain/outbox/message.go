package outbox

import (
	"time"
)

// Status 送信ステータス
type Status string

const (
	StatusPending Status = "PENDING" // 未送信
	StatusSent    Status = "SENT"    // 送信済み
	StatusFailed  Status = "FAILED"  // リトライ上限到達
)

// トピック
const (
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentRefunded  = "payment.refunded"
)

// Message コミット後に配信するイベント
type Message struct {
	ID         string
	Topic      string
	Key        string // 購読側の冪等キー（注文ID）
	Payload    []byte
	Status     Status
	RetryCount int
	LastError  string
	CreatedAt  time.Time
	SentAt     *time.Time
}

// NewMessage 新しいPENDINGメッセージを作成
func NewMessage(id, topic, key string, payload []byte, now time.Time) *Message {
	return &Message{
		ID:        id,
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
	}
}
