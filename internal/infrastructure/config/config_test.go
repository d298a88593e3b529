package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func()
		cleanupEnv  func()
		wantError   bool
		checkConfig func(*testing.T, *Config)
	}{
		{
			name: "正常系: デフォルト値で設定を読み込む",
			setupEnv: func() {
				os.Setenv("DB_HOST", "localhost")
				os.Setenv("DB_NAME", "test_db")
				os.Setenv("JWT_SECRET", "test-secret")
				os.Setenv("ADMIN_API_KEY", "admin-key")
			},
			cleanupEnv: func() {
				os.Unsetenv("DB_HOST")
				os.Unsetenv("DB_NAME")
				os.Unsetenv("JWT_SECRET")
				os.Unsetenv("ADMIN_API_KEY")
			},
			wantError: false,
			checkConfig: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "test_db", cfg.Database.Database)
				assert.Equal(t, "test-secret", cfg.JWT.Secret)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 8081, cfg.Server.GRPCPort)
				assert.Equal(t, 3306, cfg.Database.Port)
				assert.Equal(t, "EXPIRY_FIRST", cfg.Wallet.DebitPolicy)
				assert.Equal(t, "Asia/Seoul", cfg.Limits.Timezone)
				assert.Equal(t, 168*time.Hour, cfg.Idempotency.TTL)
				assert.Equal(t, 30*time.Minute, cfg.Sweep.ReservationTimeout)
				assert.Equal(t, int64(0), cfg.Limits.DailyCash)
				assert.False(t, cfg.Kafka.Enabled)
				assert.False(t, cfg.Redis.Enabled)
				assert.Equal(t, 24*time.Hour, cfg.JWT.Expiration)
				assert.Equal(t, 90*24*time.Hour, cfg.Wallet.RefundBatchTTL)
				assert.Equal(t, time.Duration(0), cfg.Wallet.PurchaseBatchTTL)
			},
		},
		{
			name: "正常系: 環境変数から設定を読み込む",
			setupEnv: func() {
				os.Setenv("ENVIRONMENT", "production")
				os.Setenv("SERVER_PORT", "9000")
				os.Setenv("DB_HOST", "db.example.com")
				os.Setenv("DB_PORT", "3307")
				os.Setenv("DB_NAME", "prod_db")
				os.Setenv("JWT_SECRET", "prod-secret")
				os.Setenv("ADMIN_API_ENABLED", "false")
				os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
				os.Setenv("LIMIT_DAILY_CASH", "1000000")
				os.Setenv("WALLET_DEBIT_POLICY", "PAID_FIRST")
				os.Setenv("GRPC_PORT", "9443")
			},
			cleanupEnv: func() {
				os.Unsetenv("ENVIRONMENT")
				os.Unsetenv("SERVER_PORT")
				os.Unsetenv("DB_HOST")
				os.Unsetenv("DB_PORT")
				os.Unsetenv("DB_NAME")
				os.Unsetenv("JWT_SECRET")
				os.Unsetenv("ADMIN_API_ENABLED")
				os.Unsetenv("KAFKA_BROKERS")
				os.Unsetenv("LIMIT_DAILY_CASH")
				os.Unsetenv("WALLET_DEBIT_POLICY")
				os.Unsetenv("GRPC_PORT")
			},
			wantError: false,
			checkConfig: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "production", cfg.Environment)
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, "db.example.com", cfg.Database.Host)
				assert.Equal(t, 3307, cfg.Database.Port)
				assert.Equal(t, "prod_db", cfg.Database.Database)
				assert.Equal(t, "prod-secret", cfg.JWT.Secret)
				assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
				assert.Equal(t, int64(1000000), cfg.Limits.DailyCash)
				assert.Equal(t, "PAID_FIRST", cfg.Wallet.DebitPolicy)
				assert.Equal(t, 9443, cfg.Server.GRPCPort)
				assert.False(t, cfg.AdminAPI.Enabled)
			},
		},
		{
			name: "正常系: DB_HOSTが未設定でデフォルト値が使われる",
			setupEnv: func() {
				os.Unsetenv("DB_HOST")
				os.Setenv("DB_NAME", "test_db")
				os.Setenv("JWT_SECRET", "test-secret")
				os.Setenv("ADMIN_API_KEY", "admin-key")
			},
			cleanupEnv: func() {
				os.Unsetenv("DB_NAME")
				os.Unsetenv("JWT_SECRET")
				os.Unsetenv("ADMIN_API_KEY")
			},
			wantError: false,
			checkConfig: func(t *testing.T, cfg *Config) {
				// デフォルト値が使われていることを確認
				assert.Equal(t, "localhost", cfg.Database.Host)
			},
		},
		{
			name: "正常系: DB_NAMEが未設定でデフォルト値が使われる",
			setupEnv: func() {
				os.Setenv("DB_HOST", "localhost")
				os.Unsetenv("DB_NAME")
				os.Setenv("JWT_SECRET", "test-secret")
				os.Setenv("ADMIN_API_KEY", "admin-key")
			},
			cleanupEnv: func() {
				os.Unsetenv("DB_HOST")
				os.Unsetenv("JWT_SECRET")
				os.Unsetenv("ADMIN_API_KEY")
			},
			wantError: false,
			checkConfig: func(t *testing.T, cfg *Config) {
				// デフォルト値が使われていることを確認
				assert.Equal(t, "cookie_wallet", cfg.Database.Database)
			},
		},
		{
			name: "異常系: JWT_SECRETが空",
			setupEnv: func() {
				os.Setenv("DB_HOST", "localhost")
				os.Setenv("DB_NAME", "test_db")
			},
			cleanupEnv: func() {
				os.Unsetenv("DB_HOST")
				os.Unsetenv("DB_NAME")
			},
			wantError:   true,
			checkConfig: nil,
		},
		{
			name: "異常系: 管理APIが有効なのにAPIキーが空",
			setupEnv: func() {
				os.Setenv("JWT_SECRET", "test-secret")
			},
			cleanupEnv: func() {
				os.Unsetenv("JWT_SECRET")
			},
			wantError: true,
		},
		{
			name: "異常系: 不正な消費ポリシー",
			setupEnv: func() {
				os.Setenv("JWT_SECRET", "test-secret")
				os.Setenv("ADMIN_API_KEY", "admin-key")
				os.Setenv("WALLET_DEBIT_POLICY", "RANDOM")
			},
			cleanupEnv: func() {
				os.Unsetenv("JWT_SECRET")
				os.Unsetenv("ADMIN_API_KEY")
				os.Unsetenv("WALLET_DEBIT_POLICY")
			},
			wantError: true,
		},
		{
			name: "異常系: 不正なタイムゾーン",
			setupEnv: func() {
				os.Setenv("JWT_SECRET", "test-secret")
				os.Setenv("ADMIN_API_KEY", "admin-key")
				os.Setenv("LIMIT_TIMEZONE", "Mars/Olympus")
			},
			cleanupEnv: func() {
				os.Unsetenv("JWT_SECRET")
				os.Unsetenv("ADMIN_API_KEY")
				os.Unsetenv("LIMIT_TIMEZONE")
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupEnv()
			defer tt.cleanupEnv()

			cfg, err := Load()

			if tt.wantError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, cfg)
				if tt.checkConfig != nil {
					tt.checkConfig(t, cfg)
				}
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		User:     "testuser",
		Password: "testpass",
		Host:     "localhost",
		Port:     3306,
		Database: "testdb",
	}

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "testuser")
	assert.Contains(t, dsn, "testpass")
	assert.Contains(t, dsn, "localhost")
	assert.Contains(t, dsn, "3306")
	assert.Contains(t, dsn, "testdb")
}

func TestRedisConfig_Address(t *testing.T) {
	cfg := RedisConfig{
		Host: "redis.example.com",
		Port: 6379,
	}

	address := cfg.Address()
	assert.Equal(t, "redis.example.com:6379", address)
}

func TestGetEnvAsSlice(t *testing.T) {
	os.Setenv("TEST_SLICE", "a, b,,c")
	defer os.Unsetenv("TEST_SLICE")

	assert.Equal(t, []string{"a", "b", "c"}, getEnvAsSlice("TEST_SLICE", nil))
	assert.Equal(t, []string{"x"}, getEnvAsSlice("TEST_SLICE_MISSING", []string{"x"}))
}

func TestLimitsConfig_Location(t *testing.T) {
	cfg := LimitsConfig{Timezone: "Asia/Seoul"}
	assert.Equal(t, "Asia/Seoul", cfg.Location().String())

	cfg.Timezone = "invalid/zone"
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "123")
	t.Setenv("TEST_INT_BAD", "invalid")
	t.Setenv("TEST_INT64", "9000000000")
	t.Setenv("TEST_BOOL", "false")
	t.Setenv("TEST_BOOL_BAD", "maybe")
	t.Setenv("TEST_DURATION", "1h30m")
	t.Setenv("TEST_DURATION_BAD", "soon")

	t.Run("正常系: 値が設定されている", func(t *testing.T) {
		assert.Equal(t, 123, getEnvAsInt("TEST_INT", 0))
		assert.Equal(t, int64(9000000000), getEnvAsInt64("TEST_INT64", 0))
		assert.False(t, getEnvAsBool("TEST_BOOL", true))
		assert.Equal(t, 90*time.Minute, getEnvAsDuration("TEST_DURATION", time.Minute))
	})

	t.Run("正常系: 未設定ならデフォルト値", func(t *testing.T) {
		assert.Equal(t, 456, getEnvAsInt("TEST_INT_MISSING", 456))
		assert.Equal(t, int64(7), getEnvAsInt64("TEST_INT64_MISSING", 7))
		assert.True(t, getEnvAsBool("TEST_BOOL_MISSING", true))
		assert.Equal(t, time.Minute, getEnvAsDuration("TEST_DURATION_MISSING", time.Minute))
	})

	t.Run("異常系: 解釈できない値はデフォルト値", func(t *testing.T) {
		assert.Equal(t, 789, getEnvAsInt("TEST_INT_BAD", 789))
		assert.True(t, getEnvAsBool("TEST_BOOL_BAD", true))
		assert.Equal(t, time.Hour, getEnvAsDuration("TEST_DURATION_BAD", time.Hour))
	})
}
