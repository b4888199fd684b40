package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tokmz/relay/pkg/broker"
	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/ratelimit"
	"github.com/tokmz/relay/pkg/room"
	"github.com/tokmz/relay/pkg/validator"
)

// AccessChecker 房间访问检查
type AccessChecker interface {
	Check(ctx context.Context, roomID, userID string, roles []string) (bool, error)
}

// AccessFunc 函数形式的 AccessChecker
type AccessFunc func(ctx context.Context, roomID, userID string, roles []string) (bool, error)

// Check 实现 AccessChecker
func (f AccessFunc) Check(ctx context.Context, roomID, userID string, roles []string) (bool, error) {
	return f(ctx, roomID, userID, roles)
}

// Options 网关配置
type Options struct {
	AllowedOrigins     []string
	AllowEmptyOrigin   bool // 允许没有 Origin 头的非浏览器客户端
	AcceptAccessTokens bool // websocket 令牌校验失败时接受 access 令牌

	DefaultRoom string
	SessionTTL  time.Duration

	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	SendQueueSize    int
	MaxConnections   int
	FrameRate        float64 // 单连接每秒帧数
	FrameBurst       int
	MaxInvalidFrames int32
	SweepInterval    time.Duration

	Logger    logger.Logger
	Metrics   Metrics
	Access    AccessChecker
	Publisher broker.Publisher

	Registry  *room.Registry
	Limiter   *ratelimit.Limiter
	Validator *validator.Validator

	// 事件总线
	EventWorkers   int
	EventQueueSize int

	now   func() time.Time
	newID func() string
}

// DefaultOptions 默认配置
func DefaultOptions() *Options {
	return &Options{
		AllowedOrigins:     []string{"http://localhost:5000", "http://127.0.0.1:5000"},
		AcceptAccessTokens: true,
		DefaultRoom:        "button_counter_room",
		SessionTTL:         time.Hour,
		PingInterval:       25 * time.Second,
		PongTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxMessageSize:     64 * 1024,
		SendQueueSize:      256,
		MaxConnections:     10000,
		FrameRate:          20,
		FrameBurst:         40,
		MaxInvalidFrames:   10,
		SweepInterval:      30 * time.Second,
		EventWorkers:       10,
		EventQueueSize:     1000,
		now:                time.Now,
	}
}

// Validate 验证配置
func (o *Options) Validate() error {
	switch {
	case o.SessionTTL <= 0:
		return fmt.Errorf("%w: session ttl must be positive", ErrInvalidConfig)
	case o.PingInterval <= 0 || o.PongTimeout <= o.PingInterval:
		return fmt.Errorf("%w: pong timeout (%v) must exceed ping interval (%v)", ErrInvalidConfig, o.PongTimeout, o.PingInterval)
	case o.WriteTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalidConfig)
	case o.MaxMessageSize <= 0:
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	case o.SendQueueSize <= 0:
		return fmt.Errorf("%w: send queue size must be positive", ErrInvalidConfig)
	case o.MaxConnections <= 0:
		return fmt.Errorf("%w: max connections must be positive", ErrInvalidConfig)
	case o.FrameRate <= 0 || o.FrameBurst <= 0:
		return fmt.Errorf("%w: frame rate and burst must be positive", ErrInvalidConfig)
	case o.SweepInterval <= 0:
		return fmt.Errorf("%w: sweep interval must be positive", ErrInvalidConfig)
	case o.EventWorkers <= 0 || o.EventQueueSize <= 0:
		return fmt.Errorf("%w: event bus workers and queue must be positive", ErrInvalidConfig)
	}
	return nil
}

// Option 配置选项
type Option func(*Options)

// WithSettings 应用配置文件中的 gateway 段
func WithSettings(s config.GatewaySettings) Option {
	return func(o *Options) {
		o.AllowedOrigins = s.AllowedOrigins
		o.AllowEmptyOrigin = s.AllowEmptyOrigin
		o.DefaultRoom = s.DefaultRoom
		o.SessionTTL = s.SessionTTL
		o.PingInterval = s.PingInterval
		o.PongTimeout = s.PongTimeout
		o.WriteTimeout = s.WriteTimeout
		o.MaxMessageSize = s.MaxMessageSize
		o.SendQueueSize = s.SendQueueSize
		o.MaxConnections = s.MaxConnections
		o.FrameRate = s.FrameRate
		o.FrameBurst = s.FrameBurst
		o.SweepInterval = s.SweepInterval
	}
}

// WithAllowedOrigins 设置 Origin 白名单
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Options) {
		o.AllowedOrigins = origins
	}
}

// WithAllowEmptyOrigin 允许缺失 Origin
func WithAllowEmptyOrigin(allow bool) Option {
	return func(o *Options) {
		o.AllowEmptyOrigin = allow
	}
}

// WithAcceptAccessTokens 是否接受 access 令牌建立连接
func WithAcceptAccessTokens(accept bool) Option {
	return func(o *Options) {
		o.AcceptAccessTokens = accept
	}
}

// WithDefaultRoom 连接成功后自动加入的房间，空串表示不加入
func WithDefaultRoom(roomID string) Option {
	return func(o *Options) {
		o.DefaultRoom = roomID
	}
}

// WithSessionTTL 设置会话过期时间
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.SessionTTL = ttl
	}
}

// WithHeartbeat 设置 ping 间隔和 pong 超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *Options) {
		o.PingInterval = interval
		o.PongTimeout = timeout
	}
}

// WithMaxConnections 设置单实例最大连接数
func WithMaxConnections(n int) Option {
	return func(o *Options) {
		o.MaxConnections = n
	}
}

// WithFrameLimit 设置单连接帧率
func WithFrameLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.FrameRate = perSecond
		o.FrameBurst = burst
	}
}

// WithSweepInterval 设置会话巡检间隔
func WithSweepInterval(d time.Duration) Option {
	return func(o *Options) {
		o.SweepInterval = d
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithAccessChecker 设置房间访问检查
func WithAccessChecker(c AccessChecker) Option {
	return func(o *Options) {
		o.Access = c
	}
}

// WithPublisher 设置生命周期事件发布器
func WithPublisher(p broker.Publisher) Option {
	return func(o *Options) {
		o.Publisher = p
	}
}

// WithRegistry 使用外部创建的房间注册表
func WithRegistry(r *room.Registry) Option {
	return func(o *Options) {
		o.Registry = r
	}
}

// WithLimiter 使用外部创建的限流器
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *Options) {
		o.Limiter = l
	}
}

// WithValidator 使用外部创建的校验器
func WithValidator(v *validator.Validator) Option {
	return func(o *Options) {
		o.Validator = v
	}
}

// originSet Origin 白名单，支持运行时替换
type originSet struct {
	allowEmpty bool
	origins    map[string]struct{}
}

type originPolicy struct {
	p atomic.Pointer[originSet]
}

func newOriginPolicy(origins []string, allowEmpty bool) *originPolicy {
	op := &originPolicy{}
	op.Set(origins, allowEmpty)
	return op
}

// Set 替换白名单
func (op *originPolicy) Set(origins []string, allowEmpty bool) {
	s := &originSet{allowEmpty: allowEmpty, origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		s.origins[normalizeOrigin(o)] = struct{}{}
	}
	op.p.Store(s)
}

// Allowed 检查 Origin，"*" 放行所有非空 Origin
func (op *originPolicy) Allowed(origin string) bool {
	s := op.p.Load()
	if origin == "" {
		return s.allowEmpty
	}
	if _, ok := s.origins["*"]; ok {
		return true
	}
	_, ok := s.origins[normalizeOrigin(origin)]
	return ok
}

// normalizeOrigin 协议和主机小写，去掉末尾斜杠
func normalizeOrigin(origin string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
