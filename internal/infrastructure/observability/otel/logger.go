package otel

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 構造化ロガー。出力はzerologのJSON
type Logger struct {
	tracer trace.Tracer
	zl     zerolog.Logger
}

// NewLogger 標準出力にINFO以上を出すLoggerを作成
func NewLogger(tracer trace.Tracer) *Logger {
	return NewLoggerWithWriter(tracer, os.Stdout, "info")
}

// NewLoggerWithWriter 出力先とレベルを指定してLoggerを作成
func NewLoggerWithWriter(tracer trace.Tracer, w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &Logger{
		tracer: tracer,
		zl:     zerolog.New(w).Level(lvl).With().Timestamp().Logger(),
	}
}

// LogLevel ログレベル
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Log ログを出力
func (l *Logger) Log(ctx context.Context, level LogLevel, message string, fields map[string]interface{}) {
	event := l.zl.WithLevel(level.zerolog())
	if event == nil {
		return
	}

	// トレースIDとSpanIDを付与
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event = event.
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String())
	}

	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(message)
}

// Debug Debugレベルのログを出力
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelDebug, message, fields)
}

// Info Infoレベルのログを出力
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelInfo, message, fields)
}

// Warn Warnレベルのログを出力
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelWarn, message, fields)
}

// Error Errorレベルのログを出力
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	if err != nil {
		merged["error"] = err.Error()
	}
	l.Log(ctx, LogLevelError, message, merged)
}
