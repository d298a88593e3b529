package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"cookie-wallet/internal/domain/apperr"
)

// RetentionPeriod 確定後にレコードを保持する期間
const RetentionPeriod = 7 * 24 * time.Hour

// ErrorSnapshot キャッシュするエラー内容
type ErrorSnapshot struct {
	Kind    apperr.Kind `json:"kind"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// SnapshotError エラーをスナップショットに変換
func SnapshotError(err error) *ErrorSnapshot {
	return &ErrorSnapshot{
		Kind:    apperr.KindOf(err),
		Code:    apperr.CodeOf(err),
		Message: err.Error(),
	}
}

// Record 冪等性レコード
type Record struct {
	userID           string
	key              string
	scope            Scope
	requestHash      string
	status           Status
	responseSnapshot json.RawMessage
	errorSnapshot    *ErrorSnapshot
	expiresAt        *time.Time
	createdAt        time.Time
	updatedAt        time.Time
}

// NewRecord 新しいPENDINGレコードを作成
func NewRecord(userID, key string, scope Scope, requestHash string, now time.Time) *Record {
	return &Record{
		userID:      userID,
		key:         key,
		scope:       scope,
		requestHash: requestHash,
		status:      StatusPending,
		createdAt:   now,
		updatedAt:   now,
	}
}

// RestoreRecord 永続化されたレコードを復元
func RestoreRecord(
	userID, key string,
	scope Scope,
	requestHash string,
	status Status,
	response json.RawMessage,
	errSnapshot *ErrorSnapshot,
	expiresAt *time.Time,
	createdAt, updatedAt time.Time,
) *Record {
	return &Record{
		userID:           userID,
		key:              key,
		scope:            scope,
		requestHash:      requestHash,
		status:           status,
		responseSnapshot: response,
		errorSnapshot:    errSnapshot,
		expiresAt:        expiresAt,
		createdAt:        createdAt,
		updatedAt:        updatedAt,
	}
}

// UserID ユーザーIDを返す
func (r *Record) UserID() string { return r.userID }

// Key 冪等性キーを返す
func (r *Record) Key() string { return r.key }

// Scope 対象の操作を返す
func (r *Record) Scope() Scope { return r.scope }

// RequestHash リクエストのハッシュを返す
func (r *Record) RequestHash() string { return r.requestHash }

// Status ステータスを返す
func (r *Record) Status() Status { return r.status }

// ResponseSnapshot 保存したレスポンスを返す
func (r *Record) ResponseSnapshot() json.RawMessage { return r.responseSnapshot }

// ErrorSnapshot 保存したエラーを返す
func (r *Record) ErrorSnapshot() *ErrorSnapshot { return r.errorSnapshot }

// ExpiresAt 有効期限を返す
func (r *Record) ExpiresAt() *time.Time { return r.expiresAt }

// CreatedAt 作成日時を返す
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt 更新日時を返す
func (r *Record) UpdatedAt() time.Time { return r.updatedAt }

// IsExpired 確定済みかつ保持期限切れかどうか。PENDINGは期限切れにならない
func (r *Record) IsExpired(now time.Time) bool {
	return r.status.IsTerminal() && r.expiresAt != nil && !now.Before(*r.expiresAt)
}

// Complete 成功で確定しレスポンスをキャッシュする
func (r *Record) Complete(response json.RawMessage, now time.Time, retention time.Duration) error {
	if err := Transition(r.status, StatusCompleted); err != nil {
		return err
	}
	r.status = StatusCompleted
	r.responseSnapshot = response
	r.terminalize(now, retention)
	return nil
}

// Fail 失敗で確定しエラーをキャッシュする
func (r *Record) Fail(snapshot *ErrorSnapshot, now time.Time, retention time.Duration) error {
	if err := Transition(r.status, StatusFailed); err != nil {
		return err
	}
	r.status = StatusFailed
	r.errorSnapshot = snapshot
	r.terminalize(now, retention)
	return nil
}

func (r *Record) terminalize(now time.Time, retention time.Duration) {
	if retention <= 0 {
		retention = RetentionPeriod
	}
	expiresAt := now.Add(retention)
	r.expiresAt = &expiresAt
	r.updatedAt = now
}

// Evaluate 既存レコードに対する再試行を判定する。
// ハッシュ不一致はErrKeyReused、処理中はErrInFlight、確定済みはキャッシュを返す。
func (r *Record) Evaluate(requestHash string) (*Replay, error) {
	if r.requestHash != requestHash {
		return nil, ErrKeyReused
	}
	if r.status == StatusPending {
		return nil, ErrInFlight
	}
	return &Replay{
		Status:   r.status,
		Response: r.responseSnapshot,
		Failure:  r.errorSnapshot,
	}, nil
}

// Replay キャッシュされた結果
type Replay struct {
	Status   Status
	Response json.RawMessage
	Failure  *ErrorSnapshot
}

// Err キャッシュされた失敗をエラーとして返す。成功の場合はnil
func (rp *Replay) Err() error {
	if rp.Status != StatusFailed || rp.Failure == nil {
		return nil
	}
	return &ReplayedError{Snapshot: *rp.Failure}
}

// Decode キャッシュされたレスポンスをvに復元
func (rp *Replay) Decode(v interface{}) error {
	if len(rp.Response) == 0 {
		return fmt.Errorf("empty response snapshot")
	}
	return json.Unmarshal(rp.Response, v)
}

// ReplayedError 初回実行で発生したエラーの再現
type ReplayedError struct {
	Snapshot ErrorSnapshot
}

func (e *ReplayedError) Error() string {
	return e.Snapshot.Message
}

func (e *ReplayedError) Unwrap() error {
	return apperr.New(e.Snapshot.Kind, e.Snapshot.Code, e.Snapshot.Message)
}

// HashRequest リクエスト内容のハッシュを計算する
func HashRequest(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
