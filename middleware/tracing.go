package middleware

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/relay"
)

const defaultHTTPTracer = "relay.http"

type TracingConfig struct {
	TracerName string // 默认 relay.http
	// SpanNameFormatter 默认 "METHOD /route/:param"，未匹配路由时用实际路径
	SpanNameFormatter func(c *relay.Context) string
	// Filter 返回 false 时不创建 span
	Filter       func(c *relay.Context) bool
	ExcludePaths []string
}

func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{TracerName: defaultHTTPTracer, SpanNameFormatter: routeSpanName}
}

func routeSpanName(c *relay.Context) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request().URL.Path
	}
	return c.Request().Method + " " + route
}

// Tracing 延续上游 traceparent 创建服务端 span，并把 trace id 写入统一响应体。
// relayd 对 /ws 不启用：升级请求的 span 只覆盖握手，连接上的事件各有自己的 span
func Tracing(cfgs ...*TracingConfig) relay.HandlerFunc {
	cfg := *DefaultTracingConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = *cfgs[0]
	}
	if cfg.TracerName == "" {
		cfg.TracerName = defaultHTTPTracer
	}
	if cfg.SpanNameFormatter == nil {
		cfg.SpanNameFormatter = routeSpanName
	}
	var excluded func(*relay.Context) bool
	if cfg.Filter != nil {
		excluded = func(c *relay.Context) bool { return !cfg.Filter(c) }
	}
	skip := newSkipper(cfg.ExcludePaths, excluded)

	return func(c *relay.Context) {
		if skip.skip(c) {
			c.Next()
			return
		}

		// 每个请求重新取全局对象，tracing.Setup 可能晚于中间件注册
		prop := otel.GetTextMapPropagator()
		req := c.Request()
		ctx := prop.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			semconv.ServerAddress(req.Host),
			semconv.UserAgentOriginalKey.String(req.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		if route := c.FullPath(); route != "" {
			attrs = append(attrs, semconv.HTTPRouteKey.String(route))
		}
		ctx, span := otel.Tracer(cfg.TracerName).Start(ctx, cfg.SpanNameFormatter(c),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		relay.SetContextTraceID(c, span.SpanContext().TraceID().String())
		c.SetRequestContext(ctx)
		// handler 写响应之后再设置的头不会发出
		prop.Inject(ctx, propagation.HeaderCarrier(c.Writer().Header()))

		c.Next()

		status := c.Writer().Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
