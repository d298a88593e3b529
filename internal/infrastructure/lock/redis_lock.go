package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/port"
)

const keyPrefix = "cookie-wallet:lock:"

// 保持者が一致する場合のみ削除する
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// redisClient ロックに使うコマンド（*redis.Clientが満たす）
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker SET NX EXによるユーザー単位の分散ロック
type RedisLocker struct {
	client        redisClient
	retryInterval time.Duration
	maxRetries    int
	newToken      func() string
	tracer        trace.Tracer
}

// NewRedisLocker 新しいRedisLockerを作成
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:        client,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    20,
		newToken:      uuid.NewString,
		tracer:        otel.Tracer("redis-locker"),
	}
}

// Acquire ロックを取得する。リトライしても取得できなければport.ErrLockNotAcquired
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	ctx, span := l.tracer.Start(ctx, "RedisLocker.Acquire")
	defer span.End()

	fullKey := keyPrefix + key
	token := l.newToken()
	span.SetAttributes(
		attribute.String("lock.key", fullKey),
		attribute.Int64("lock.ttl_ms", ttl.Milliseconds()),
	)

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			span.SetAttributes(attribute.Int("lock.attempts", attempt+1))
			span.SetStatus(otelcodes.Ok, "lock acquired")
			return l.releaser(fullKey, token), nil
		}

		select {
		case <-ctx.Done():
			span.SetStatus(otelcodes.Error, "context done")
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	span.SetStatus(otelcodes.Error, "lock not acquired")
	return nil, port.ErrLockNotAcquired
}

func (l *RedisLocker) releaser(fullKey, token string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, unlockScript, []string{fullKey}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", fullKey, err)
		}
		return nil
	}
}
