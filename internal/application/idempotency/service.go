package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/idempotency"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// 挿入と読み出しの間に削除・置換が割り込んだ場合の再試行回数
const maxBeginAttempts = 3

// IdempotencyApplicationService 冪等性アプリケーションサービス
type IdempotencyApplicationService struct {
	repo    idempotency.RecordRepository
	ttl     time.Duration
	logger  *otelinfra.Logger
	metrics *otelinfra.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewIdempotencyApplicationService 新しいIdempotencyApplicationServiceを作成
func NewIdempotencyApplicationService(
	repo idempotency.RecordRepository,
	ttl time.Duration,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *IdempotencyApplicationService {
	if ttl <= 0 {
		ttl = idempotency.RetentionPeriod
	}
	return &IdempotencyApplicationService{
		repo:    repo,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("idempotency-service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

// Begin キーを予約する。新規ならnil, nilを返し処理を続行する。
// 確定済みで同じ内容ならキャッシュを返し、内容が異なればErrKeyReused、処理中ならErrInFlight
func (s *IdempotencyApplicationService) Begin(ctx context.Context, userID, key string, scope idempotency.Scope, requestHash string) (*idempotency.Replay, error) {
	ctx, span := s.tracer.Start(ctx, "IdempotencyApplicationService.Begin")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("idempotency_key", key),
		attribute.String("scope", scope.String()),
	)

	if key == "" {
		failSpan(span, idempotency.ErrMissingKey)
		return nil, idempotency.ErrMissingKey
	}

	for attempt := 0; attempt < maxBeginAttempts; attempt++ {
		now := s.now()
		rec := idempotency.NewRecord(userID, key, scope, requestHash, now)

		inserted, err := s.repo.InsertIfAbsent(ctx, rec)
		if err != nil {
			failSpan(span, err)
			s.logger.Error(ctx, "Failed to reserve idempotency key", err, map[string]interface{}{"user_id": userID, "key": key})
			return nil, err
		}
		if inserted {
			span.SetAttributes(attribute.Bool("inserted", true))
			return nil, nil
		}

		existing, err := s.repo.Find(ctx, userID, key)
		if errors.Is(err, idempotency.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			failSpan(span, err)
			return nil, err
		}

		if existing.IsExpired(now) {
			replaced, err := s.repo.ReplaceExpired(ctx, rec, now)
			if err != nil {
				failSpan(span, err)
				return nil, err
			}
			if replaced {
				span.SetAttributes(attribute.Bool("replaced", true))
				return nil, nil
			}
			continue
		}

		return s.evaluate(ctx, span, existing, scope, requestHash)
	}

	err := fmt.Errorf("%w: key changed concurrently", idempotency.ErrInFlight)
	failSpan(span, err)
	return nil, err
}

// Lookup 読み取りのみで判定する。レコードがない、または期限切れならnil, nil
func (s *IdempotencyApplicationService) Lookup(ctx context.Context, userID, key string, scope idempotency.Scope, requestHash string) (*idempotency.Replay, error) {
	ctx, span := s.tracer.Start(ctx, "IdempotencyApplicationService.Lookup")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("idempotency_key", key),
		attribute.String("scope", scope.String()),
	)

	if key == "" {
		failSpan(span, idempotency.ErrMissingKey)
		return nil, idempotency.ErrMissingKey
	}

	existing, err := s.repo.Find(ctx, userID, key)
	if errors.Is(err, idempotency.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	if existing.IsExpired(s.now()) {
		return nil, nil
	}
	return s.evaluate(ctx, span, existing, scope, requestHash)
}

// Result 確定済みの結果をハッシュ照合なしで返す。レコードがない、またはPENDINGならnil, nil
func (s *IdempotencyApplicationService) Result(ctx context.Context, userID, key string) (*idempotency.Replay, error) {
	ctx, span := s.tracer.Start(ctx, "IdempotencyApplicationService.Result")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.String("idempotency_key", key))

	rec, err := s.repo.Find(ctx, userID, key)
	if errors.Is(err, idempotency.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	if !rec.Status().IsTerminal() {
		return nil, nil
	}
	s.metrics.RecordIdempotencyReplay(ctx, rec.Scope().String())
	return &idempotency.Replay{
		Status:   rec.Status(),
		Response: rec.ResponseSnapshot(),
		Failure:  rec.ErrorSnapshot(),
	}, nil
}

func (s *IdempotencyApplicationService) evaluate(ctx context.Context, span trace.Span, existing *idempotency.Record, scope idempotency.Scope, requestHash string) (*idempotency.Replay, error) {
	if existing.Scope() != scope {
		failSpan(span, idempotency.ErrKeyReused)
		return nil, idempotency.ErrKeyReused
	}
	replay, err := existing.Evaluate(requestHash)
	if err != nil {
		failSpan(span, err)
		s.logger.Warn(ctx, "Idempotency key rejected", map[string]interface{}{
			"user_id": existing.UserID(),
			"key":     existing.Key(),
			"status":  existing.Status().String(),
			"error":   err.Error(),
		})
		return nil, err
	}

	span.SetAttributes(attribute.String("replay_status", replay.Status.String()))
	s.metrics.RecordIdempotencyReplay(ctx, scope.String())
	s.logger.Info(ctx, "Replaying idempotent result", map[string]interface{}{
		"user_id": existing.UserID(),
		"key":     existing.Key(),
		"status":  replay.Status.String(),
	})
	return replay, nil
}

// Complete 成功で確定し、レスポンスをキャッシュする
func (s *IdempotencyApplicationService) Complete(ctx context.Context, userID, key string, response interface{}) error {
	ctx, span := s.tracer.Start(ctx, "IdempotencyApplicationService.Complete")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.String("idempotency_key", key))

	raw, err := json.Marshal(response)
	if err != nil {
		err = fmt.Errorf("failed to marshal response snapshot: %w", err)
		failSpan(span, err)
		return err
	}

	rec, err := s.repo.Find(ctx, userID, key)
	if err != nil {
		failSpan(span, err)
		return err
	}
	if err := rec.Complete(raw, s.now(), s.ttl); err != nil {
		failSpan(span, err)
		return err
	}
	ok, err := s.repo.Terminalize(ctx, rec)
	if err != nil {
		failSpan(span, err)
		return err
	}
	if !ok {
		err := fmt.Errorf("%w: record was terminalized concurrently", idempotency.ErrInvalidTransition)
		failSpan(span, err)
		return err
	}
	return nil
}

// Fail 失敗で確定し、エラーをキャッシュする。補償処理から呼ばれるため、
// レコードがない・既に確定済みの場合は警告のみとする
func (s *IdempotencyApplicationService) Fail(ctx context.Context, userID, key string, cause error) error {
	ctx, span := s.tracer.Start(ctx, "IdempotencyApplicationService.Fail")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.String("idempotency_key", key))
	fields := map[string]interface{}{"user_id": userID, "key": key, "cause": cause.Error()}

	rec, err := s.repo.Find(ctx, userID, key)
	if errors.Is(err, idempotency.ErrRecordNotFound) {
		s.logger.Warn(ctx, "Idempotency record missing on failure", fields)
		return nil
	}
	if err != nil {
		failSpan(span, err)
		return err
	}
	if rec.Status().IsTerminal() {
		fields["status"] = rec.Status().String()
		s.logger.Warn(ctx, "Idempotency record already terminal", fields)
		return nil
	}
	if err := rec.Fail(idempotency.SnapshotError(cause), s.now(), s.ttl); err != nil {
		failSpan(span, err)
		return err
	}
	ok, err := s.repo.Terminalize(ctx, rec)
	if err != nil {
		failSpan(span, err)
		return err
	}
	if !ok {
		s.logger.Warn(ctx, "Idempotency record terminalized concurrently", fields)
	}
	return nil
}

// Sweep 保持期限切れの確定済みレコードを削除する。PENDINGは削除しない
func (s *IdempotencyApplicationService) Sweep(ctx context.Context, limit int) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "IdempotencyApplicationService.Sweep")
	defer span.End()

	deleted, err := s.repo.DeleteExpired(ctx, s.now(), limit)
	if err != nil {
		failSpan(span, err)
		s.logger.Error(ctx, "Failed to sweep idempotency records", err, nil)
		s.metrics.RecordError(ctx, "idempotency_sweep")
		return 0, err
	}

	span.SetAttributes(attribute.Int64("deleted", deleted))
	s.metrics.RecordSweep(ctx, "idempotency", deleted)
	if deleted > 0 {
		s.logger.Info(ctx, "Swept idempotency records", map[string]interface{}{"deleted": deleted})
	}
	return deleted, nil
}

// CountStalePending olderThanより前から残っているPENDINGレコードの数。運用者への通知用
func (s *IdempotencyApplicationService) CountStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "IdempotencyApplicationService.CountStalePending")
	defer span.End()

	count, err := s.repo.CountStalePending(ctx, s.now().Add(-olderThan))
	if err != nil {
		failSpan(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("stale_pending", count))
	if count > 0 {
		s.logger.Warn(ctx, "Stale pending idempotency records found", map[string]interface{}{
			"count":      count,
			"older_than": olderThan.String(),
		})
	}
	return count, nil
}
