package idempotency

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookie-wallet/internal/domain/apperr"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTransition(t *testing.T) {
	assert.NoError(t, Transition(StatusPending, StatusCompleted))
	assert.NoError(t, Transition(StatusPending, StatusFailed))
	assert.ErrorIs(t, Transition(StatusPending, StatusPending), ErrInvalidTransition)
	assert.ErrorIs(t, Transition(StatusCompleted, StatusFailed), ErrInvalidTransition)
	assert.ErrorIs(t, Transition(StatusFailed, StatusCompleted), ErrInvalidTransition)
	assert.ErrorIs(t, Transition(StatusCompleted, StatusPending), ErrInvalidTransition)
}

func TestRecord_Complete(t *testing.T) {
	r := NewRecord("user_1", "key_1", ScopeCheckout, "hash", testNow)
	assert.False(t, r.IsExpired(testNow.Add(365*24*time.Hour)), "PENDINGは期限切れにならない")

	require.NoError(t, r.Complete(json.RawMessage(`{"order_id":"o1"}`), testNow, RetentionPeriod))
	assert.Equal(t, StatusCompleted, r.Status())
	require.NotNil(t, r.ExpiresAt())
	assert.Equal(t, testNow.Add(7*24*time.Hour), *r.ExpiresAt())
	assert.False(t, r.IsExpired(testNow.Add(7*24*time.Hour-time.Second)))
	assert.True(t, r.IsExpired(testNow.Add(7*24*time.Hour)))

	// 二重確定は不可
	assert.ErrorIs(t, r.Fail(&ErrorSnapshot{}, testNow, RetentionPeriod), ErrInvalidTransition)
}

func TestRecord_Evaluate(t *testing.T) {
	errBoom := apperr.Validation("insufficient_balance", "insufficient balance")

	completed := NewRecord("user_1", "key_1", ScopeCheckout, "hash", testNow)
	require.NoError(t, completed.Complete(json.RawMessage(`{"order_id":"o1"}`), testNow, 0))

	failed := NewRecord("user_1", "key_2", ScopeCheckout, "hash", testNow)
	require.NoError(t, failed.Fail(SnapshotError(errBoom), testNow, 0))

	pending := NewRecord("user_1", "key_3", ScopeCheckout, "hash", testNow)

	tests := []struct {
		name       string
		record     *Record
		hash       string
		wantErr    error
		wantStatus Status
	}{
		{name: "正常系: 成功のキャッシュ", record: completed, hash: "hash", wantStatus: StatusCompleted},
		{name: "正常系: 失敗のキャッシュ", record: failed, hash: "hash", wantStatus: StatusFailed},
		{name: "異常系: 処理中", record: pending, hash: "hash", wantErr: ErrInFlight},
		{name: "異常系: 内容違いの再利用", record: completed, hash: "other", wantErr: ErrKeyReused},
		{name: "異常系: 処理中でも内容違いは再利用エラー", record: pending, hash: "other", wantErr: ErrKeyReused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replay, err := tt.record.Evaluate(tt.hash)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, replay)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, replay.Status)
		})
	}

	t.Run("正常系: キャッシュされた失敗は同じ種別で再現", func(t *testing.T) {
		replay, err := failed.Evaluate("hash")
		require.NoError(t, err)
		replayed := replay.Err()
		require.Error(t, replayed)
		assert.Equal(t, "insufficient balance", replayed.Error())
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(replayed))
		assert.Equal(t, "insufficient_balance", apperr.CodeOf(replayed))

		var re *ReplayedError
		assert.True(t, errors.As(replayed, &re))
	})

	t.Run("正常系: 成功のキャッシュを復元", func(t *testing.T) {
		replay, err := completed.Evaluate("hash")
		require.NoError(t, err)
		assert.NoError(t, replay.Err())
		var out struct {
			OrderID string `json:"order_id"`
		}
		require.NoError(t, replay.Decode(&out))
		assert.Equal(t, "o1", out.OrderID)
	})
}

func TestHashRequest(t *testing.T) {
	type req struct {
		A string
		B int64
	}
	h1, err := HashRequest(req{A: "x", B: 1})
	require.NoError(t, err)
	h2, err := HashRequest(req{A: "x", B: 1})
	require.NoError(t, err)
	h3, err := HashRequest(req{A: "x", B: 2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
