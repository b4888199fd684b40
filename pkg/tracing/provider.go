package tracing

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// installed 当前全局 provider，Shutdown 据此刷新
var installed atomic.Pointer[sdktrace.TracerProvider]

// Setup 安装全局 TracerProvider 与 W3C 传播器。
// Enabled 为 false 时导出器换成 noop，span 仍然生成，
// 日志和 HTTP 响应里的 trace_id 照常可用
func Setup(ctx context.Context, cfg *Config) (*sdktrace.TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	exporterName := cfg.Exporter
	if !cfg.Enabled {
		exporterName = ExporterNoop
	}

	exp, err := newExporter(ctx, exporterName, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	res, err := buildResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if prev := installed.Swap(tp); prev != nil {
		_ = prev.Shutdown(ctx)
	}
	return tp, nil
}

// buildResource 配置中的属性先写入，OTEL_RESOURCE_ATTRIBUTES 与 OTEL_SERVICE_NAME 可覆盖
func buildResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
	)
}

// Shutdown 导出剩余 span；未调用 Setup 时什么也不做
func Shutdown(ctx context.Context) error {
	tp := installed.Swap(nil)
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
