package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/infrastructure/config"
)

// ShutdownFunc プロバイダーの終了処理
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func newResource(cfg *config.OpenTelemetryConfig) (*resource.Resource, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// InitTracer トレーサープロバイダーを初期化しグローバルに登録する。
// "none" と "stdout" はエクスポートせず、グローバルのnoopのまま
func InitTracer(cfg *config.OpenTelemetryConfig) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.TraceExporter {
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		exporter = exp
	case "none", "stdout":
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// InitMeter メータープロバイダーを初期化しグローバルに登録する
func InitMeter(cfg *config.OpenTelemetryConfig) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	var exporter sdkmetric.Exporter
	switch cfg.MetricsExporter {
	case "otlp":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		exporter = exp
	case "none", "stdout":
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported metrics exporter: %s", cfg.MetricsExporter)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Tracer トレーサーを取得
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter メーターを取得
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
