package store

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const storeTracerName = "relay.store"

// tracedStore 链路追踪装饰器
type tracedStore struct {
	Store
	tracer trace.Tracer
}

// NewTracing 创建带链路追踪的存储实例
func NewTracing(s Store) Store {
	return &tracedStore{
		Store:  s,
		tracer: otel.Tracer(storeTracerName),
	}
}

// wrapOperation 包装操作，自动处理 Span
// ErrNotFound 视为未命中而不是错误
func (t *tracedStore) wrapOperation(
	ctx context.Context,
	operation string,
	key string,
	fn func(ctx context.Context) error,
	attrs ...attribute.KeyValue,
) error {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "kv"),
		attribute.String("store.key", key),
	)
	span.SetAttributes(attrs...)

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("store.duration_ms", time.Since(start).Milliseconds()))

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, ErrNotFound):
		span.SetAttributes(attribute.Bool("store.hit", false))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *tracedStore) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte
	err := t.wrapOperation(ctx, "store.Get", key, func(ctx context.Context) error {
		var err error
		result, err = t.Store.Get(ctx, key)
		return err
	})
	return result, err
}

func (t *tracedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.wrapOperation(ctx, "store.Set", key, func(ctx context.Context) error {
		return t.Store.Set(ctx, key, value, ttl)
	}, attribute.Float64("store.ttl_seconds", ttl.Seconds()))
}

func (t *tracedStore) Delete(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) == 1 {
		key = keys[0]
	}
	return t.wrapOperation(ctx, "store.Delete", key, func(ctx context.Context) error {
		return t.Store.Delete(ctx, keys...)
	}, attribute.Int("store.keys_count", len(keys)))
}

func (t *tracedStore) Exists(ctx context.Context, key string) (bool, error) {
	var result bool
	err := t.wrapOperation(ctx, "store.Exists", key, func(ctx context.Context) error {
		var err error
		result, err = t.Store.Exists(ctx, key)
		return err
	})
	return result, err
}

func (t *tracedStore) Incr(ctx context.Context, key string) (int64, error) {
	return t.IncrBy(ctx, key, 1)
}

func (t *tracedStore) Decr(ctx context.Context, key string) (int64, error) {
	return t.IncrBy(ctx, key, -1)
}

func (t *tracedStore) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	var result int64
	err := t.wrapOperation(ctx, "store.IncrBy", key, func(ctx context.Context) error {
		var err error
		result, err = t.Store.IncrBy(ctx, key, value)
		return err
	}, attribute.Int64("store.incr_value", value))
	return result, err
}

func (t *tracedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var result time.Duration
	err := t.wrapOperation(ctx, "store.TTL", key, func(ctx context.Context) error {
		var err error
		result, err = t.Store.TTL(ctx, key)
		return err
	})
	return result, err
}

func (t *tracedStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return t.wrapOperation(ctx, "store.Expire", key, func(ctx context.Context) error {
		return t.Store.Expire(ctx, key, ttl)
	}, attribute.Float64("store.ttl_seconds", ttl.Seconds()))
}

func (t *tracedStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var result []string
	err := t.wrapOperation(ctx, "store.Scan", pattern, func(ctx context.Context) error {
		var err error
		result, err = t.Store.Scan(ctx, pattern)
		return err
	})
	return result, err
}

func (t *tracedStore) Ping(ctx context.Context) error {
	return t.wrapOperation(ctx, "store.Ping", "", t.Store.Ping)
}
