package store

import (
	"context"
	"fmt"
)

// New cfg 为 nil 时使用内存驱动
func New(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var s Store
	switch cfg.Driver {
	case DriverMemory:
		s = newMemoryStore(cfg)
	case DriverRedis:
		rs, err := newRedisStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s = rs
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}

	if cfg.Tracing {
		return NewTracing(s), nil
	}
	return s, nil
}

// NewWithOptions 从 DefaultConfig 出发应用 opts
func NewWithOptions(ctx context.Context, opts ...Option) (Store, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(ctx, cfg)
}
