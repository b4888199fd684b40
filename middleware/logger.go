package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/logger"
)

type LoggerConfig struct {
	// Logger 为空时使用传给 Logger 的实例
	Logger       logger.Logger
	SkipFunc     func(c *relay.Context) bool
	ExcludePaths []string // 如 /healthz、/metrics
}

// Logger 每个请求一条日志，级别随状态码升高；trace_id 与 user_id 由 RequestContext 带出。
// /ws 升级成功时记为 websocket handshake，连接本身的生命周期由网关记录
func Logger(log logger.Logger, cfgs ...*LoggerConfig) relay.HandlerFunc {
	cfg := LoggerConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = *cfgs[0]
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	skip := newSkipper(cfg.ExcludePaths, cfg.SkipFunc)

	return func(c *relay.Context) {
		if skip.skip(c) {
			c.Next()
			return
		}
		start := time.Now()
		req := c.Request()
		method, path := req.Method, req.URL.Path

		c.Next()

		status := c.Writer().Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer().Size()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		ctx := c.RequestContext()
		l := cfg.Logger
		switch {
		case status == http.StatusSwitchingProtocols:
			l.InfoContext(ctx, "websocket handshake", fields...)
		case status >= http.StatusInternalServerError:
			l.ErrorContext(ctx, "request completed", fields...)
		case status >= http.StatusBadRequest:
			l.WarnContext(ctx, "request completed", fields...)
		default:
			l.InfoContext(ctx, "request completed", fields...)
		}
	}
}
