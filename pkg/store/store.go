// Package store 网关各实例共享的键值存储：会话、房间人数、限流窗口与按钮计数都落在这里
package store

import (
	"context"
	"time"
)

// Store 键统一加 KeyPrefix，Scan 返回去掉前缀后的键。
// 不存在的键返回 ErrNotFound，后端不可达返回 ErrUnavailable
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set ttl<=0 表示不过期
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Incr 系列是原子的，多实例并发加减房间人数依赖这一点。
	// 键不存在时从 0 开始，不附带过期时间
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// TTL 永不过期的键为 -1
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Scan glob 匹配，仅用于运维接口与测试，不在消息热路径上调用
	Scan(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
