package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

// Engine 承载 /ws 升级端点与管理接口的 HTTP 服务
type Engine struct {
	cfg    *Config
	router *gin.Engine
	server *http.Server
	log    logger.Logger
}

// New gin.SetMode 是进程级设置，一个进程只创建一个 Engine
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	if gin.Mode() == gin.DebugMode || cfg.Mode != gin.DebugMode {
		gin.SetMode(cfg.Mode)
	}
	// 请求日志由 middleware.Logger 输出
	gin.DefaultWriter, gin.DefaultErrorWriter = io.Discard, io.Discard

	r := gin.New()
	r.Use(toGin(Recovery(cfg.Logger)))
	if cfg.TrustedProxies != nil {
		if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			cfg.Logger.Warn("ignoring trusted proxies", zap.Strings("proxies", cfg.TrustedProxies), zap.Error(err))
		}
	}
	return &Engine{cfg: cfg, router: r, log: cfg.Logger}
}

// Use 全局中间件，按注册顺序执行，位于 Recovery 之后
func (e *Engine) Use(middlewares ...HandlerFunc) {
	e.router.Use(toGinChain(middlewares...)...)
}

func (e *Engine) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{group: e.router.Group(path, toGinChain(middlewares...)...)}
}

func (e *Engine) RouterGroup() *RouterGroup {
	return &RouterGroup{group: &e.router.RouterGroup}
}

// Handler 供 httptest 使用
func (e *Engine) Handler() http.Handler { return e.router }

func (e *Engine) Addr() string { return e.cfg.Addr }

// Run 监听 Addr 并阻塞到 ctx 取消，随后优雅关闭
func (e *Engine) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.cfg.Addr)
	if err != nil {
		return err
	}
	return e.Serve(ctx, ln)
}

// Serve 与 Run 相同，但使用调用方的 listener
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	e.server = &http.Server{
		Handler:        e.router,
		ReadTimeout:    e.cfg.ReadTimeout,
		WriteTimeout:   e.cfg.WriteTimeout,
		IdleTimeout:    e.cfg.IdleTimeout,
		MaxHeaderBytes: e.cfg.MaxHeaderBytes,
		// 请求 context 不随 ctx 取消，关闭由 Shutdown 控制
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	if e.cfg.Banner {
		e.printBanner(ln.Addr().String())
	}

	served := make(chan error, 1)
	go func() { served <- e.server.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	e.log.Info("shutting down http server", zap.Duration("timeout", e.cfg.ShutdownTimeout))
	sctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}

// Shutdown 已升级的 WebSocket 连接不归 http.Server 管，
// 由 BeforeShutdown 通知网关关闭
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	if fn := e.cfg.BeforeShutdown; fn != nil {
		fn()
	}
	err := e.server.Shutdown(ctx)
	if err != nil {
		e.log.Warn("http server forced to close", zap.Error(err))
	}
	if fn := e.cfg.AfterShutdown; fn != nil {
		fn()
	}
	return err
}
