package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookie-wallet/internal/infrastructure/config"
)

func TestInitTracer(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.OpenTelemetryConfig
		wantError string
	}{
		{
			name: "正常系: 無効化",
			cfg:  config.OpenTelemetryConfig{Enabled: false},
		},
		{
			name: "正常系: stdoutはエクスポートしない",
			cfg:  config.OpenTelemetryConfig{Enabled: true, TraceExporter: "stdout", ServiceName: "test-service"},
		},
		{
			name: "正常系: none",
			cfg:  config.OpenTelemetryConfig{Enabled: true, TraceExporter: "none", ServiceName: "test-service"},
		},
		{
			name:      "異常系: 未対応のエクスポーター",
			cfg:       config.OpenTelemetryConfig{Enabled: true, TraceExporter: "jaeger", ServiceName: "test-service"},
			wantError: "unsupported trace exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitTracer(&tt.cfg)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				assert.Nil(t, shutdown)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestInitTracer_OTLP(t *testing.T) {
	cfg := &config.OpenTelemetryConfig{
		Enabled:        true,
		TraceExporter:  "otlp",
		OTLPEndpoint:   "http://localhost:4318",
		OTLPInsecure:   true,
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
	}

	// エクスポーターの作成は接続を伴わない
	shutdown, err := InitTracer(cfg)
	require.NoError(t, err)
	_ = shutdown(context.Background())
}

func TestInitMeter(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.OpenTelemetryConfig
		wantError string
	}{
		{
			name: "正常系: 無効化",
			cfg:  config.OpenTelemetryConfig{Enabled: false},
		},
		{
			name: "正常系: stdoutはエクスポートしない",
			cfg:  config.OpenTelemetryConfig{Enabled: true, MetricsExporter: "stdout"},
		},
		{
			name:      "異常系: 未対応のエクスポーター",
			cfg:       config.OpenTelemetryConfig{Enabled: true, MetricsExporter: "prometheus"},
			wantError: "unsupported metrics exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitMeter(&tt.cfg)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestTracerAndMeter(t *testing.T) {
	ctx, span := Tracer("test-tracer").Start(context.Background(), "test-span")
	assert.NotNil(t, ctx)
	span.End()

	counter, err := Meter("test-meter").Int64Counter("test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}
