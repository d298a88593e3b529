package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cookie-wallet/internal/domain/port"
)

type localEntry struct {
	token     string
	expiresAt time.Time
}

// LocalLocker Redisを使わない場合のプロセス内ロック。単一インスタンス構成でのみ有効
type LocalLocker struct {
	mu            sync.Mutex
	held          map[string]localEntry
	retryInterval time.Duration
	maxRetries    int
	now           func() time.Time
}

// NewLocalLocker 新しいLocalLockerを作成
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:          make(map[string]localEntry),
		retryInterval: 50 * time.Millisecond,
		maxRetries:    20,
		now:           time.Now,
	}
}

func (l *LocalLocker) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
	return true
}

// Acquire ロックを取得する。期限切れのロックは奪える
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		if l.tryAcquire(key, token, ttl) {
			return func(context.Context) error {
				l.mu.Lock()
				defer l.mu.Unlock()
				if e, ok := l.held[key]; ok && e.token == token {
					delete(l.held, key)
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
	return nil, port.ErrLockNotAcquired
}
