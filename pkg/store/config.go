package store

import (
	"fmt"
	"time"

	"github.com/tokmz/relay/pkg/config"
)

// DriverType 共享存储的实现
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 会话、房间成员、限流计数与终止标记都经由同一个存储
type Config struct {
	Driver    DriverType
	Redis     *RedisConfig
	Memory    *MemoryConfig
	KeyPrefix string // 所有键的命名空间
	Tracing   bool   // 是否包装链路追踪
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        // 地址（单机）
	Addrs        []string      // 地址列表（集群/哨兵）
	Mode         RedisMode     // standalone, cluster, sentinel
	Username     string        // 用户名（Redis 6.0+）
	Password     string        // 密码
	DB           int           // 数据库编号
	PoolSize     int           // 连接池大小
	MinIdleConns int           // 最小空闲连接
	MaxRetries   int           // 最大重试次数
	DialTimeout  time.Duration // 连接超时
	ReadTimeout  time.Duration // 读超时
	WriteTimeout time.Duration // 写超时
	MasterName   string        // 哨兵主节点名称
}

// MemoryConfig 内存存储配置
type MemoryConfig struct {
	CleanupInterval time.Duration // 过期键清理间隔
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:    DriverMemory,
		KeyPrefix: "relay:",
		Memory:    DefaultMemoryConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Mode:         RedisStandalone,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DefaultMemoryConfig 返回默认 Memory 配置
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{CleanupInterval: time.Minute}
}

// FromSettings 将 config.StoreSettings 转换为 Config
func FromSettings(s config.StoreSettings) *Config {
	cfg := DefaultConfig()
	cfg.Driver = DriverType(s.Driver)
	cfg.KeyPrefix = s.KeyPrefix
	cfg.Tracing = s.Tracing
	if cfg.Driver == DriverRedis {
		r := DefaultRedisConfig()
		r.Mode = RedisMode(s.Redis.Mode)
		r.Addr = s.Redis.Addr
		r.Addrs = s.Redis.Addrs
		r.Username = s.Redis.Username
		r.Password = s.Redis.Password
		r.DB = s.Redis.DB
		r.MasterName = s.Redis.MasterName
		if s.Redis.PoolSize > 0 {
			r.PoolSize = s.Redis.PoolSize
		}
		cfg.Redis = r
	}
	return cfg
}

type Option func(*Config)

// WithRedis 多实例部署必须使用，房间成员与会话才能跨实例共享
func WithRedis(cfg *RedisConfig) Option {
	return func(c *Config) { c.Driver, c.Redis = DriverRedis, cfg }
}

// WithMemory 单实例或测试使用
func WithMemory(cfg *MemoryConfig) Option {
	return func(c *Config) { c.Driver, c.Memory = DriverMemory, cfg }
}

func WithKeyPrefix(prefix string) Option {
	return func(c *Config) { c.KeyPrefix = prefix }
}

func WithTracing(enabled bool) Option {
	return func(c *Config) { c.Tracing = enabled }
}

// redisModeRules 各 Redis 模式必填项
var redisModeRules = map[RedisMode]func(*RedisConfig) string{
	RedisStandalone: func(r *RedisConfig) string {
		if r.Addr == "" {
			return "standalone mode needs addr"
		}
		return ""
	},
	RedisCluster: func(r *RedisConfig) string {
		if len(r.Addrs) == 0 {
			return "cluster mode needs addrs"
		}
		return ""
	},
	RedisSentinel: func(r *RedisConfig) string {
		if len(r.Addrs) == 0 || r.MasterName == "" {
			return "sentinel mode needs addrs and master_name"
		}
		return ""
	},
}

// Validate 内存驱动缺少配置时补默认值
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		if c.Memory == nil {
			c.Memory = DefaultMemoryConfig()
		}
		return nil
	case DriverRedis:
		if c.Redis == nil {
			return fmt.Errorf("%w: redis config is required", ErrInvalidConfig)
		}
		mode := c.Redis.Mode
		if mode == "" {
			mode = RedisStandalone
		}
		rule, ok := redisModeRules[mode]
		if !ok {
			return fmt.Errorf("%w: invalid redis mode %q", ErrInvalidConfig, mode)
		}
		if msg := rule(c.Redis); msg != "" {
			return fmt.Errorf("%w: redis %s", ErrInvalidConfig, msg)
		}
		return nil
	default:
		return fmt.Errorf("%w: invalid driver type %q", ErrInvalidConfig, c.Driver)
	}
}
