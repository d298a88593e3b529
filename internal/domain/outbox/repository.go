package outbox

import "context"

// Repository アウトボックスリポジトリインターフェース
type Repository interface {
	// Save メッセージを保存（業務トランザクション内で呼ぶ）
	Save(ctx context.Context, m *Message) error

	// FindPending 未送信メッセージを古い順に取得
	FindPending(ctx context.Context, limit int) ([]*Message, error)

	// MarkSent 送信済みにする
	MarkSent(ctx context.Context, id string) error

	// MarkRetry リトライ回数を増やし、上限に達した場合はFAILEDにする
	MarkRetry(ctx context.Context, id string, lastError string, maxRetries int) error
}
