package ws

import (
	"context"
	"sync"

	"github.com/tokmz/relay/pkg/session"
)

// Context 单次事件分发的上下文
type Context struct {
	Event     string
	ConnID    string
	RequestID string
	Payload   map[string]any

	// 鉴权阶段填充，公开事件为零值
	Session  *session.Record
	Identity Identity

	Gateway *Gateway

	route     *Route
	terminate bool // 会话失效，分发结束后断开连接
}

// Str 读取字符串字段
func (c *Context) Str(key string) string {
	s, _ := c.Payload[key].(string)
	return s
}

// HandlerFunc 事件处理器，返回的 error 按 Fail 规则转换为结果
type HandlerFunc func(ctx context.Context, c *Context) (Outcome, error)

// NextFunc 调用链中的下一步
type NextFunc func() Outcome

// MiddlewareFunc 分发中间件
type MiddlewareFunc func(ctx context.Context, c *Context, next NextFunc) Outcome

// Route 已注册的事件
type Route struct {
	Event     string
	Public    bool   // 无需会话
	RateClass string // 为空时不限流
	handler   HandlerFunc
}

// RouteOption 路由选项
type RouteOption func(*Route)

// Public 公开事件，跳过会话校验
func Public() RouteOption {
	return func(r *Route) {
		r.Public = true
	}
}

// RateLimited 按指定类别限流
func RateLimited(class string) RouteOption {
	return func(r *Route) {
		r.RateClass = class
	}
}

type chain func(ctx context.Context, c *Context) Outcome

// Router 事件路由
//
// 调用链固定为 内置阶段(校验、鉴权、限流) → Use 注册的中间件 → 处理器。
// Freeze 后预编译调用链，所有路由共用，不再接受注册。
type Router struct {
	stages     []MiddlewareFunc
	middleware []MiddlewareFunc
	invoke     func(ctx context.Context, c *Context) Outcome

	mu       sync.RWMutex
	routes   map[string]*Route
	compiled chain
	frozen   bool
}

func newRouter(invoke func(ctx context.Context, c *Context) Outcome, stages ...MiddlewareFunc) *Router {
	return &Router{
		stages: stages,
		invoke: invoke,
		routes: make(map[string]*Route),
	}
}

// Register 注册事件处理器
func (r *Router) Register(event string, h HandlerFunc, opts ...RouteOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.routes[event]; exists {
		return ErrHandlerExists.WithMessage("ws: handler already exists: " + event)
	}

	route := &Route{Event: event, handler: h}
	for _, opt := range opts {
		opt(route)
	}
	r.routes[event] = route
	return nil
}

// Use 追加中间件
func (r *Router) Use(mw ...MiddlewareFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRouterFrozen
	}
	r.middleware = append(r.middleware, mw...)
	return nil
}

// Freeze 冻结并预编译所有调用链，可重复调用
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true
	// 调用链与事件无关，路由差异在各阶段内读取 c.route
	r.compiled = r.build()
}

// Lookup 查找路由
func (r *Router) Lookup(event string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[event]
	return route, ok
}

// Events 已注册的事件名
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make([]string, 0, len(r.routes))
	for e := range r.routes {
		events = append(events, e)
	}
	return events
}

// build 从后向前组装调用链
func (r *Router) build() chain {
	all := make([]MiddlewareFunc, 0, len(r.stages)+len(r.middleware))
	all = append(all, r.stages...)
	all = append(all, r.middleware...)

	final := chain(r.invoke)
	for i := len(all) - 1; i >= 0; i-- {
		mw, next := all[i], final
		final = func(ctx context.Context, c *Context) Outcome {
			return mw(ctx, c, func() Outcome { return next(ctx, c) })
		}
	}
	return final
}

// route 返回路由及其调用链；未冻结时动态组装
func (r *Router) route(event string) (*Route, chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[event]
	if !ok {
		return nil, nil, false
	}
	if r.frozen {
		return route, r.compiled, true
	}
	return route, r.build(), true
}
