package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/store"
)

// 内置限流类别
const (
	ClassConnections = "connections"
	ClassMessages    = "messages"
)

// Class 固定窗口限流类别
type Class struct {
	Max    int64
	Window time.Duration
}

// DefaultClasses 返回默认限流类别
func DefaultClasses() map[string]Class {
	return map[string]Class{
		ClassConnections: {Max: 10, Window: time.Minute},
		ClassMessages:    {Max: 30, Window: time.Minute},
	}
}

// FromSettings 将配置中的类别转换为 Class，未出现的默认类别保留
func FromSettings(s config.RateLimitSettings) map[string]Class {
	classes := DefaultClasses()
	for name, c := range s.Classes {
		classes[name] = Class{Max: c.Max, Window: c.Window}
	}
	return classes
}

// Option 限流器选项
type Option func(*Limiter)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(lim *Limiter) {
		lim.logger = l
	}
}

// WithOnStoreError 存储异常回调，用于指标上报
func WithOnStoreError(fn func(op string, err error)) Option {
	return func(lim *Limiter) {
		lim.onStoreError = fn
	}
}

// Limiter 基于共享存储的固定窗口限流器
//
// 计数键为 ratelimit:{class}:{identity}，窗口的首次计数设置过期时间，
// 窗口随键过期而结束。存储不可用时放行。
type Limiter struct {
	store        store.Store
	classes      map[string]Class
	logger       logger.Logger
	onStoreError func(op string, err error)
}

// New 创建限流器
func New(s store.Store, classes map[string]Class, opts ...Option) *Limiter {
	if classes == nil {
		classes = DefaultClasses()
	}
	l := &Limiter{
		store:   s,
		classes: classes,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key 返回计数键
func Key(class, identity string) string {
	return "ratelimit:" + class + ":" + identity
}

// Class 返回类别配置
func (l *Limiter) Class(name string) (Class, bool) {
	c, ok := l.classes[name]
	return c, ok
}

// Check 只读检查，计数已达上限时返回 false；未知类别放行
func (l *Limiter) Check(ctx context.Context, identity, class string) bool {
	c, ok := l.classes[class]
	if !ok {
		return true
	}

	count, err := l.count(ctx, Key(class, identity))
	if err != nil {
		l.storeFailed(ctx, "check", class, err)
		return true
	}
	return count < c.Max
}

// Record 计数加一，窗口首次计数时设置过期时间
func (l *Limiter) Record(ctx context.Context, identity, class string) error {
	c, ok := l.classes[class]
	if !ok {
		return nil
	}
	key := Key(class, identity)

	n, err := l.store.Incr(ctx, key)
	if err != nil {
		l.storeFailed(ctx, "record", class, err)
		return err
	}

	if n == 1 {
		err = l.store.Expire(ctx, key, c.Window)
	} else if ttl, terr := l.store.TTL(ctx, key); terr == nil && ttl < 0 {
		// 上次计数后未能设置过期时间，补上以免计数永不重置
		err = l.store.Expire(ctx, key, c.Window)
	}
	if err != nil {
		l.storeFailed(ctx, "expire", class, err)
		return err
	}
	return nil
}

// Allow 检查通过后立即计数
func (l *Limiter) Allow(ctx context.Context, identity, class string) bool {
	if !l.Check(ctx, identity, class) {
		return false
	}
	_ = l.Record(ctx, identity, class)
	return true
}

// Usage 返回当前窗口的计数和剩余时间
func (l *Limiter) Usage(ctx context.Context, identity, class string) (int64, time.Duration, error) {
	key := Key(class, identity)
	count, err := l.count(ctx, key)
	if err != nil || count == 0 {
		return count, 0, err
	}
	ttl, err := l.store.TTL(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, nil
	}
	return count, ttl, err
}

func (l *Limiter) count(ctx context.Context, key string) (int64, error) {
	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrNotInteger, err)
	}
	return n, nil
}

func (l *Limiter) storeFailed(ctx context.Context, op, class string, err error) {
	l.logger.WarnContext(ctx, "rate limit store unavailable, failing open",
		zap.String("op", op),
		zap.String("class", class),
		zap.Error(err),
	)
	if l.onStoreError != nil {
		l.onStoreError(op, err)
	}
}
