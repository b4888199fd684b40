package relay

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/logger"
)

// Config HTTP 宿主的参数。WriteTimeout 只约束普通接口，
// 升级后的 WebSocket 连接由网关自己设置读写期限
type Config struct {
	Mode           string // gin 模式：debug、release、test
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// ShutdownTimeout 等待普通请求结束的上限，不包括网关关闭连接的时间
	ShutdownTimeout time.Duration
	BeforeShutdown  func()
	AfterShutdown   func()

	TrustedProxies []string
	Logger         logger.Logger
	Banner         bool
}

type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Mode:            gin.ReleaseMode,
		Addr:            ":5000",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 10 * time.Second,
		Banner:          true,
	}
}

// WithSettings 应用 server 配置段，零值字段保留默认
func WithSettings(s config.ServerSettings) Option {
	return func(c *Config) {
		setIf(&c.Addr, s.Addr, s.Addr != "")
		setIf(&c.Mode, s.Mode, s.Mode != "")
		setIf(&c.ReadTimeout, s.ReadTimeout, s.ReadTimeout > 0)
		setIf(&c.WriteTimeout, s.WriteTimeout, s.WriteTimeout > 0)
		setIf(&c.ShutdownTimeout, s.ShutdownTimeout, s.ShutdownTimeout > 0)
		setIf(&c.TrustedProxies, s.TrustedProxies, len(s.TrustedProxies) > 0)
	}
}

func setIf[T any](dst *T, v T, ok bool) {
	if ok {
		*dst = v
	}
}

func WithMode(mode string) Option {
	return func(c *Config) { c.Mode = mode }
}

func WithAddr(addr string) Option {
	return func(c *Config) { c.Addr = addr }
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// WithBeforeShutdown 在 http.Server.Shutdown 之前调用，网关在这里向客户端发送关闭帧
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) { c.BeforeShutdown = fn }
}

func WithAfterShutdown(fn func()) Option {
	return func(c *Config) { c.AfterShutdown = fn }
}

// WithTrustedProxies 影响 ClientIP，也就影响按 IP 的限流
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) { c.TrustedProxies = proxies }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithBanner(enable bool) Option {
	return func(c *Config) { c.Banner = enable }
}
