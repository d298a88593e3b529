package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config アプリケーション全体の設定
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	JWT           JWTConfig
	AdminAPI      AdminAPIConfig
	OpenTelemetry OpenTelemetryConfig
	Wallet        WalletConfig
	Limits        LimitsConfig
	Idempotency   IdempotencyConfig
	Sweep         SweepConfig
	Gateway       GatewayConfig
	Log           LogConfig
	Environment   string
}

// ServerConfig サーバー設定
type ServerConfig struct {
	Port         int
	GRPCPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig データベース設定
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig Redis設定
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// KafkaConfig Kafka設定（アウトボックスの配信先）
type KafkaConfig struct {
	Brokers    []string
	ClientID   string
	Enabled    bool
	MaxRetries int
}

// JWTConfig JWT設定
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration // walletctlで発行するトークンの有効期限
}

// AdminAPIConfig 管理APIの認証設定
type AdminAPIConfig struct {
	Enabled    bool
	APIKey     string
	AllowedIPs []string
}

// WalletConfig ウォレット設定
type WalletConfig struct {
	DebitPolicy      string        // EXPIRY_FIRST / PAID_FIRST / FREE_FIRST
	PurchaseBatchTTL time.Duration // 0は無期限
	RefundBatchTTL   time.Duration
	BonusBatchTTL    time.Duration
	ExpiryInterval   time.Duration
	ExpiryBatchSize  int
	LockTTL          time.Duration
}

// LimitsConfig 利用上限設定。0は無制限
type LimitsConfig struct {
	DailyCash   int64
	DailyCookie int64
	Timezone    string
}

// IdempotencyConfig 冪等性設定
type IdempotencyConfig struct {
	TTL time.Duration
}

// SweepConfig 掃除ジョブ設定
type SweepConfig struct {
	ReservationTimeout  time.Duration
	ReservationInterval time.Duration
	IdempotencyInterval time.Duration
	OutboxInterval      time.Duration
	BatchSize           int
}

// GatewayConfig 決済ゲートウェイ設定
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LogConfig ログ設定
type LogConfig struct {
	Level string
}

// OpenTelemetryConfig OpenTelemetry設定
type OpenTelemetryConfig struct {
	Enabled         bool
	ServiceName     string
	ServiceVersion  string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceExporter   string // "otlp", "jaeger", "stdout"
	MetricsExporter string // "otlp", "prometheus", "stdout"
}

// Load 設定を読み込む
func Load() (*Config, error) {
	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "development")

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			GRPCPort:     getEnvAsInt("GRPC_PORT", 0),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 3306),
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "cookie_wallet"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ClientID:   getEnv("KAFKA_CLIENT_ID", "cookie-wallet"),
			Enabled:    getEnvAsBool("KAFKA_ENABLED", false),
			MaxRetries: getEnvAsInt("KAFKA_MAX_RETRIES", 5),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Issuer:     getEnv("JWT_ISSUER", ""),
			Expiration: getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour),
		},
		AdminAPI: AdminAPIConfig{
			Enabled:    getEnvAsBool("ADMIN_API_ENABLED", true),
			APIKey:     getEnv("ADMIN_API_KEY", ""),
			AllowedIPs: getEnvAsSlice("ADMIN_API_ALLOWED_IPS", nil),
		},
		OpenTelemetry: OpenTelemetryConfig{
			Enabled:         getEnvAsBool("OTEL_ENABLED", true),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "cookie-wallet"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			OTLPInsecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			TraceExporter:   getEnv("OTEL_TRACES_EXPORTER", "otlp"),
			MetricsExporter: getEnv("OTEL_METRICS_EXPORTER", "otlp"),
		},
		Wallet: WalletConfig{
			DebitPolicy:      getEnv("WALLET_DEBIT_POLICY", "EXPIRY_FIRST"),
			PurchaseBatchTTL: getEnvAsDuration("WALLET_PURCHASE_BATCH_TTL", 0),
			RefundBatchTTL:   getEnvAsDuration("WALLET_REFUND_BATCH_TTL", 90*24*time.Hour),
			BonusBatchTTL:    getEnvAsDuration("WALLET_BONUS_BATCH_TTL", 30*24*time.Hour),
			ExpiryInterval:   getEnvAsDuration("WALLET_EXPIRY_INTERVAL", time.Hour),
			ExpiryBatchSize:  getEnvAsInt("WALLET_EXPIRY_BATCH_SIZE", 100),
			LockTTL:          getEnvAsDuration("WALLET_LOCK_TTL", 30*time.Second),
		},
		Limits: LimitsConfig{
			DailyCash:   getEnvAsInt64("LIMIT_DAILY_CASH", 0),
			DailyCookie: getEnvAsInt64("LIMIT_DAILY_COOKIE", 0),
			Timezone:    getEnv("LIMIT_TIMEZONE", "Asia/Seoul"),
		},
		Idempotency: IdempotencyConfig{
			TTL: getEnvAsDuration("IDEMPOTENCY_TTL", 168*time.Hour),
		},
		Sweep: SweepConfig{
			ReservationTimeout:  getEnvAsDuration("SWEEP_RESERVATION_TIMEOUT", 30*time.Minute),
			ReservationInterval: getEnvAsDuration("SWEEP_RESERVATION_INTERVAL", time.Minute),
			IdempotencyInterval: getEnvAsDuration("SWEEP_IDEMPOTENCY_INTERVAL", time.Hour),
			OutboxInterval:      getEnvAsDuration("SWEEP_OUTBOX_INTERVAL", 5*time.Second),
			BatchSize:           getEnvAsInt("SWEEP_BATCH_SIZE", 100),
		},
		Gateway: GatewayConfig{
			BaseURL: getEnv("GATEWAY_BASE_URL", ""),
			APIKey:  getEnv("GATEWAY_API_KEY", ""),
			Timeout: getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = cfg.Server.Port + 1
	}

	// 必須設定の検証
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate 設定の検証
func (c *Config) validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AdminAPI.Enabled && c.AdminAPI.APIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required when ADMIN_API_ENABLED is true")
	}
	switch c.Wallet.DebitPolicy {
	case "EXPIRY_FIRST", "PAID_FIRST", "FREE_FIRST":
	default:
		return fmt.Errorf("invalid WALLET_DEBIT_POLICY: %s", c.Wallet.DebitPolicy)
	}
	if _, err := time.LoadLocation(c.Limits.Timezone); err != nil {
		return fmt.Errorf("invalid LIMIT_TIMEZONE: %w", err)
	}
	if c.Limits.DailyCash < 0 || c.Limits.DailyCookie < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

// Location 上限集計に使うタイムゾーンを返す
func (c *LimitsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN データベース接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address Redis接続アドレスを返す
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv 環境変数を取得（デフォルト値付き）
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 環境変数を64bit整数として取得
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice カンマ区切りの環境変数をスライスとして取得
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// getEnvAsBool 環境変数を真偽値として取得
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration 環境変数を時間として取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
