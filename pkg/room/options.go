package room

import (
	"time"

	"github.com/google/uuid"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/logger"
)

// Config 房间注册表配置
type Config struct {
	MaxSize           int           // 单个房间的最大成员数（跨实例）
	TTL               time.Duration // 共享计数器的过期时间，每次变更时刷新
	ReconcileInterval time.Duration // 计数器校准周期
	Instance          string        // 本实例 ID，用于心跳键
	Logger            logger.Logger
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxSize:           100,
		TTL:               time.Hour,
		ReconcileInterval: 30 * time.Second,
		Instance:          uuid.NewString(),
		Logger:            logger.Nop(),
	}
}

// Option 配置选项
type Option func(*Config)

// WithMaxSize 设置房间容量
func WithMaxSize(n int) Option {
	return func(c *Config) {
		c.MaxSize = n
	}
}

// WithTTL 设置计数器过期时间
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

// WithReconcileInterval 设置校准周期
func WithReconcileInterval(d time.Duration) Option {
	return func(c *Config) {
		c.ReconcileInterval = d
	}
}

// WithInstance 设置实例 ID
func WithInstance(id string) Option {
	return func(c *Config) {
		c.Instance = id
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithSettings 从配置文件的 room 段加载
func WithSettings(s config.RoomSettings) Option {
	return func(c *Config) {
		if s.MaxSize > 0 {
			c.MaxSize = s.MaxSize
		}
		if s.TTL > 0 {
			c.TTL = s.TTL
		}
		if s.ReconcileInterval > 0 {
			c.ReconcileInterval = s.ReconcileInterval
		}
	}
}
