package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDB_HealthCheck(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantError bool
	}{
		{
			name: "正常系: 疎通できる",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing()
			},
		},
		{
			name: "異常系: 疎通できない",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectPing().WillReturnError(errors.New("connection refused"))
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			defer sqlDB.Close()
			tt.setupMock(mock)

			err = (&DB{DB: sqlDB}).HealthCheck(context.Background())
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestForUpdate(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin()
	tx, err := sqlDB.Begin()
	require.NoError(t, err)

	q := "SELECT 1 FROM wallet_balances"
	assert.Equal(t, q, forUpdate(context.Background(), q))
	assert.Equal(t, q+" FOR UPDATE", forUpdate(withTx(context.Background(), tx), q))
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("x").Valid)
	assert.False(t, nullTime(time.Time{}).Valid)
	assert.Nil(t, timePtr(nullTimePtr(nil)))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := timePtr(nullTimePtr(&now))
	require.NotNil(t, got)
	assert.True(t, now.Equal(*got))
}
