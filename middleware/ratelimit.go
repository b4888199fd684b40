package middleware

import (
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/ratelimit"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// Limiter 令牌桶集合，为空时按 RequestsPerSecond/Burst 创建
	// 长期运行的进程应自行创建并执行 Limiter.Run 回收空闲桶
	Limiter *ratelimit.Local

	// RequestsPerSecond 每秒允许的请求数（默认 100）
	RequestsPerSecond float64

	// Burst 突发容量（默认等于 RequestsPerSecond）
	Burst int

	// KeyFunc 自定义限流 key 函数（默认使用客户端 IP）
	KeyFunc func(c *relay.Context) string

	// ExcludePaths 排除的路径（不限流）
	ExcludePaths []string

	// Logger 日志实例
	Logger logger.Logger
}

// RateLimiter 创建限流中间件，按 key（默认客户端 IP）使用令牌桶限流
func RateLimiter(cfgs ...*RateLimiterConfig) relay.HandlerFunc {
	cfg := &RateLimiterConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewLocal(cfg.RequestsPerSecond, cfg.Burst, 30*time.Minute)
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *relay.Context) string {
			return c.ClientIP()
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	skip := newSkipper(cfg.ExcludePaths, nil)

	return func(c *relay.Context) {
		if skip.skip(c) {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		if !cfg.Limiter.Allow(key) {
			cfg.Logger.WarnContext(c.RequestContext(), "http rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request().URL.Path),
			)
			c.Header("Retry-After", "1")
			c.RespondError(errors.ErrRateLimited)
			c.Abort()
			return
		}

		c.Next()
	}
}

