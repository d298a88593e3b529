package otel

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	logger := NewLogger(tracer)

	assert.NotNil(t, logger)
	assert.Equal(t, tracer, logger.tracer)
}

func TestLogger_Log(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")

	tests := []struct {
		name      string
		minLevel  string
		level     LogLevel
		message   string
		fields    map[string]interface{}
		wantLevel string
		wantEmpty bool
	}{
		{
			name:      "正常系: Infoレベルのログ",
			minLevel:  "info",
			level:     LogLevelInfo,
			message:   "test message",
			fields:    map[string]interface{}{"key": "value"},
			wantLevel: "info",
		},
		{
			name:      "正常系: Warnレベルのログ",
			minLevel:  "info",
			level:     LogLevelWarn,
			message:   "warn message",
			fields:    map[string]interface{}{"count": 42},
			wantLevel: "warn",
		},
		{
			name:      "正常系: 設定レベル未満のDebugは出力しない",
			minLevel:  "info",
			level:     LogLevelDebug,
			message:   "debug message",
			wantEmpty: true,
		},
		{
			name:      "正常系: debug設定ならDebugも出力",
			minLevel:  "DEBUG",
			level:     LogLevelDebug,
			message:   "debug message",
			wantLevel: "debug",
		},
		{
			name:      "正常系: 不正なレベル指定はinfo扱い",
			minLevel:  "verbose",
			level:     LogLevelDebug,
			message:   "debug message",
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(tracer, &buf, tt.minLevel)
			logger.Log(context.Background(), tt.level, tt.message, tt.fields)

			if tt.wantEmpty {
				assert.Empty(t, buf.String())
				return
			}
			lines := decodeLines(t, &buf)
			require.Len(t, lines, 1)
			assert.Equal(t, tt.wantLevel, lines[0]["level"])
			assert.Equal(t, tt.message, lines[0]["message"])
			assert.NotEmpty(t, lines[0]["time"])
			for k := range tt.fields {
				assert.Contains(t, lines[0], k)
			}
		})
	}
}

func TestLogger_LogWithTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(tracer, &buf, "info")

	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	logger.Info(ctx, "traced", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, span.SpanContext().TraceID().String(), lines[0]["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), lines[0]["span_id"])
}

func TestLogger_LogWithoutTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(noop.NewTracerProvider().Tracer("test"), &buf, "info")

	logger.Info(context.Background(), "plain", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "trace_id")
}

func TestLogger_Error(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")

	tests := []struct {
		name      string
		err       error
		fields    map[string]interface{}
		wantError interface{}
	}{
		{
			name:      "正常系: エラーあり、フィールドなし",
			err:       assert.AnError,
			fields:    nil,
			wantError: assert.AnError.Error(),
		},
		{
			name:      "正常系: 既存のerrorフィールドを上書き",
			err:       assert.AnError,
			fields:    map[string]interface{}{"error": "existing error", "key": "value"},
			wantError: assert.AnError.Error(),
		},
		{
			name:      "正常系: エラーなし",
			err:       nil,
			fields:    map[string]interface{}{"key": "value"},
			wantError: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(tracer, &buf, "info")
			logger.Error(context.Background(), "error message", tt.err, tt.fields)

			lines := decodeLines(t, &buf)
			require.Len(t, lines, 1)
			assert.Equal(t, "error", lines[0]["level"])
			assert.Equal(t, tt.wantError, lines[0]["error"])
		})
	}
}

func TestLogger_ErrorDoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(noop.NewTracerProvider().Tracer("test"), &buf, "info")

	fields := map[string]interface{}{"key": "value"}
	logger.Error(context.Background(), "error message", assert.AnError, fields)

	assert.NotContains(t, fields, "error")
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LogLevelDebug, "DEBUG"},
		{LogLevelInfo, "INFO"},
		{LogLevelWarn, "WARN"},
		{LogLevelError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.level))
		})
	}
}
