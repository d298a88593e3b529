package mysql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/outbox"
	"cookie-wallet/internal/domain/port"
)

func TestOutboxRepository(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &OutboxRepository{db: db, tracer: otel.Tracer("test"), now: func() time.Time { return testNow }}
	ctx := context.Background()

	msg := outbox.NewMessage("m1", outbox.TopicPaymentCompleted, "order1", []byte(`{"order_id":"order1"}`), testNow)
	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs("m1", "payment.completed", "order1", []byte(`{"order_id":"order1"}`), "PENDING", 0, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(ctx, msg))

	mock.ExpectQuery(`FROM outbox_messages\s+WHERE status = 'PENDING'\s+ORDER BY created_at\s+LIMIT \?`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "topic", "message_key", "payload", "status", "retry_count", "last_error", "created_at", "sent_at"}).
			AddRow("m1", "payment.completed", "order1", []byte(`{}`), "PENDING", 2, "broker down", testNow, nil))
	pending, err := repo.FindPending(ctx, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
	assert.Equal(t, "broker down", pending[0].LastError)
	assert.Nil(t, pending[0].SentAt)

	mock.ExpectExec(`UPDATE outbox_messages SET status = 'SENT', sent_at = \? WHERE message_id = \?`).
		WithArgs(testNow, "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkSent(ctx, "m1"))

	mock.ExpectExec(`SET status = CASE WHEN retry_count \+ 1 >= \? THEN 'FAILED' ELSE 'PENDING' END`).
		WithArgs(5, "timeout", "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkRetry(ctx, "m1", "timeout", 5))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogReader_FindPrice(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantFound bool
		wantErr   bool
	}{
		{
			name: "正常系: 価格が見つかる",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT discounted_price, cookie_quantity\s+FROM catalog_prices`).
					WithArgs("COOKIE_BUNDLE", "bundle1").
					WillReturnRows(sqlmock.NewRows([]string{"discounted_price", "cookie_quantity"}).AddRow(9900, 100))
			},
			wantFound: true,
		},
		{
			name: "正常系: 存在しない",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM catalog_prices`).WillReturnError(sql.ErrNoRows)
			},
		},
		{
			name: "異常系: DBエラー",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM catalog_prices`).WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			reader := &CatalogReader{db: db, tracer: otel.Tracer("test")}
			tt.setupMock(mock)

			item, found, err := reader.FindPrice(context.Background(), order.ItemTypeCookieBundle, "bundle1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, int64(9900), item.DiscountedPrice)
				assert.Equal(t, int64(100), item.CookieQuantity)
				assert.Equal(t, "bundle1", item.ItemID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserDirectory(t *testing.T) {
	db, mock := newMockDB(t)
	dir := &UserDirectory{db: db, tracer: otel.Tracer("test")}
	ctx := context.Background()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE user_id = \?\)`).
		WithArgs("user123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	exists, err := dir.Exists(ctx, "user123")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(`SELECT user_id, display_name FROM users`).
		WithArgs("user123").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "display_name"}).AddRow("user123", "Kim"))
	u, err := dir.Get(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, &port.UserRef{ID: "user123", DisplayName: "Kim"}, u)

	mock.ExpectQuery(`SELECT user_id, display_name FROM users`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	_, err = dir.Get(ctx, "ghost")
	assert.ErrorIs(t, err, port.ErrUserNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditWriter_Write(t *testing.T) {
	db, mock := newMockDB(t)
	w := &AuditWriter{
		db:     db,
		tracer: otel.Tracer("test"),
		newID:  func() string { return "audit1" },
		now:    func() time.Time { return testNow },
	}

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs("audit1", "user123", "payment.settled", "order1", []byte(`{"amount":3600}`), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, w.Write(context.Background(), port.AuditEntry{
		UserID:      "user123",
		Action:      "payment.settled",
		ReferenceID: "order1",
		Detail:      map[string]interface{}{"amount": 3600},
	}))

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs("audit1", "user123", "coupon.issued", "uc1", nil, testNow).
		WillReturnError(sql.ErrConnDone)
	assert.Error(t, w.Write(context.Background(), port.AuditEntry{UserID: "user123", Action: "coupon.issued", ReferenceID: "uc1"}))

	assert.NoError(t, mock.ExpectationsWereMet())
}
