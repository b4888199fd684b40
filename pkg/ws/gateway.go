package ws

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/broker"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/ratelimit"
	"github.com/tokmz/relay/pkg/room"
	"github.com/tokmz/relay/pkg/session"
	"github.com/tokmz/relay/pkg/store"
	"github.com/tokmz/relay/pkg/tracing"
	"github.com/tokmz/relay/pkg/validator"
)

// ConnectRequest 建立连接时从传输层提取的信息
type ConnectRequest struct {
	Origin     string
	ClientID   string // 限流身份，缺省为 RemoteAddr
	Token      string
	RemoteAddr string
}

// Gateway 连接网关
//
// 会话记录和房间成员只由网关写入。每个连接的事件由其读协程串行分发，
// 不同连接并发执行。
type Gateway struct {
	opts *Options
	log  logger.Logger

	store     store.Store
	verifier  auth.Verifier
	sessions  *session.Store
	rooms     *room.Registry
	limiter   *ratelimit.Limiter
	validator *validator.Validator
	metrics   Metrics

	router  *Router
	pool    *connectionPool
	ids     *idSource
	origins *originPolicy
	frames  *ratelimit.Local
	events  *EventBus

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // 连接协程
}

// New 创建网关并注册内置事件
func New(st store.Store, verifier auth.Verifier, opts ...Option) (*Gateway, error) {
	if st == nil || verifier == nil {
		return nil, fmt.Errorf("%w: store and verifier are required", ErrInvalidConfig)
	}

	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.now == nil {
		o.now = time.Now
	}

	log := o.Logger.With(zap.String("component", "gateway"))
	if o.Registry == nil {
		o.Registry = room.New(st, room.WithLogger(o.Logger))
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.New(st, ratelimit.DefaultClasses(),
			ratelimit.WithLogger(o.Logger),
			ratelimit.WithOnStoreError(func(op string, _ error) { o.Metrics.StoreError("ratelimit." + op) }),
		)
	}
	if o.Validator == nil {
		o.Validator = validator.New(validator.DefaultRules())
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		opts:      o,
		log:       log,
		store:     st,
		verifier:  verifier,
		sessions:  session.New(st, o.SessionTTL),
		rooms:     o.Registry,
		limiter:   o.Limiter,
		validator: o.Validator,
		metrics:   o.Metrics,
		pool:      newConnectionPool(o.MaxConnections),
		ids:       newIDSource(o.newID),
		origins:   newOriginPolicy(o.AllowedOrigins, o.AllowEmptyOrigin),
		frames:    ratelimit.NewLocal(o.FrameRate, o.FrameBurst, 10*time.Minute),
		events:    NewEventBus(o.EventWorkers, o.EventQueueSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin 由 HandleConnect 检查，以便把拒绝原因作为首帧返回
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	g.router = newRouter(g.invoke, g.validate, g.authenticate, g.rateLimit)

	if o.Publisher != nil {
		g.forwardEvents(o.Publisher)
	}
	if err := g.registerBuiltins(); err != nil {
		cancel()
		return nil, err
	}
	return g, nil
}

// Router 事件路由，用于注册业务事件
func (g *Gateway) Router() *Router { return g.router }

// Register 注册事件处理器
func (g *Gateway) Register(event string, h HandlerFunc, opts ...RouteOption) error {
	return g.router.Register(event, h, opts...)
}

// Use 追加分发中间件
func (g *Gateway) Use(mw ...MiddlewareFunc) error {
	return g.router.Use(mw...)
}

// Subscribe 订阅生命周期事件
func (g *Gateway) Subscribe(t EventType, h EventHandler) {
	g.events.Subscribe(t, h)
}

// Rooms 房间注册表
func (g *Gateway) Rooms() *room.Registry { return g.rooms }

// Sessions 会话存储
func (g *Gateway) Sessions() *session.Store { return g.sessions }

// ConnectionCount 本实例连接数
func (g *Gateway) ConnectionCount() int { return g.pool.Count() }

// SetAllowedOrigins 运行时替换 Origin 白名单
func (g *Gateway) SetAllowedOrigins(origins []string, allowEmpty bool) {
	g.origins.Set(origins, allowEmpty)
}

// DroppedEvents 事件队列已满时丢弃的生命周期事件数
func (g *Gateway) DroppedEvents() int64 { return g.events.Dropped() }

// AllowsOrigin 检查 Origin 是否在白名单内
func (g *Gateway) AllowsOrigin(origin string) bool {
	return g.origins.Allowed(origin)
}

// HandleConnect 校验并登记新连接
//
// 任一检查失败都返回 error 结果且不写入会话。
func (g *Gateway) HandleConnect(ctx context.Context, req ConnectRequest, peer Peer) Outcome {
	ctx, span := tracing.StartSpan(ctx, "ws.connect")
	defer span.End()

	reject := func(reason string, err error) Outcome {
		g.metrics.ConnectRejected(reason)
		g.log.InfoContext(ctx, "connection rejected",
			zap.String("reason", reason),
			zap.String("origin", req.Origin),
			zap.String("client_id", req.ClientID),
			zap.Error(err))
		tracing.RecordError(span, err)
		return Fail(err)
	}

	if !g.origins.Allowed(req.Origin) {
		return reject("origin", errors.ErrOriginDenied)
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = req.RemoteAddr
	}
	if !g.limiter.Check(ctx, clientID, ratelimit.ClassConnections) {
		return reject("rate_limit", errors.ErrRateLimited)
	}

	if req.Token == "" {
		return reject("no_token", auth.ErrMissingToken)
	}
	claims, err := g.verifier.Verify(ctx, req.Token, auth.KindWebsocket)
	if err != nil && g.opts.AcceptAccessTokens {
		claims, err = g.verifier.Verify(ctx, req.Token, auth.KindAccess)
	}
	if err != nil {
		return reject("invalid_token", fmt.Errorf("%w: %w", auth.ErrInvalidToken, err))
	}

	if g.pool.Full() {
		return reject("capacity", errors.ErrOverloaded)
	}

	connID := g.ids.Next()
	who := Identity{UserID: claims.UserID, Roles: claims.Roles}
	ctx = logger.WithUserID(logger.WithConnID(ctx, connID), who.UserID)
	span.SetAttributes(attribute.String("ws.conn_id", connID), attribute.String("ws.user_id", who.UserID))

	rec := &session.Record{
		ConnectionID: connID,
		UserID:       who.UserID,
		Roles:        who.Roles,
		Origin:       req.Origin,
		ClientID:     clientID,
		Instance:     g.rooms.Instance(),
	}
	if err := g.sessions.Create(ctx, rec); err != nil {
		// 存储不可用时仍接受连接，鉴权阶段会退化为进程内身份
		g.metrics.StoreError("session.create")
		g.log.WarnContext(ctx, "session create failed", zap.Error(err))
	}

	if err := g.pool.Add(connID, &entry{peer: peer, identity: who}); err != nil {
		g.cleanup(ctx, connID)
		return reject("capacity", err)
	}

	if g.opts.DefaultRoom != "" {
		if err := g.JoinRoom(ctx, g.opts.DefaultRoom, connID, who); err != nil {
			g.log.WarnContext(ctx, "default room join failed",
				zap.String("room_id", g.opts.DefaultRoom), zap.Error(err))
		}
	}

	if err := g.limiter.Record(ctx, clientID, ratelimit.ClassConnections); err != nil {
		g.log.WarnContext(ctx, "connection rate record failed", zap.Error(err))
	}

	g.metrics.ConnectionOpened()
	g.events.Publish(Event{Type: EventConnected, ConnectionID: connID, UserID: who.UserID, Time: g.opts.now()})
	g.log.InfoContext(ctx, "connection established", zap.String("origin", req.Origin))

	return Outcome{"status": StatusConnected, "session_id": connID, "user_id": who.UserID}
}

// HandleDisconnect 清理连接的会话、房间成员和注册信息，可重复调用
func (g *Gateway) HandleDisconnect(ctx context.Context, connID string) {
	ctx = logger.WithConnID(ctx, connID)
	left := g.cleanup(ctx, connID)

	e, ok := g.pool.Remove(connID)
	g.frames.Forget(connID)
	g.ids.Retire(connID)
	if !ok {
		return
	}

	g.metrics.ConnectionClosed()
	now := g.opts.now()
	for _, roomID := range left {
		g.events.Publish(Event{Type: EventLeft, ConnectionID: connID, UserID: e.identity.UserID, RoomID: roomID, Time: now})
	}
	g.events.Publish(Event{Type: EventDisconnected, ConnectionID: connID, UserID: e.identity.UserID, Time: now})
	g.log.InfoContext(ctx, "connection closed", zap.Strings("rooms", left))
}

// cleanup 删除会话并离开所有房间，存储错误只记录日志
func (g *Gateway) cleanup(ctx context.Context, connID string) []string {
	if err := g.sessions.Delete(ctx, connID); err != nil {
		g.metrics.StoreError("session.delete")
		g.log.WarnContext(ctx, "session delete failed", zap.Error(err))
	}
	return g.rooms.LeaveAll(ctx, connID)
}

// Dispatch 分发一个事件
// 会话失效时同时断开连接
func (g *Gateway) Dispatch(ctx context.Context, event, connID string, payload map[string]any) Outcome {
	out, terminate := g.dispatch(ctx, event, connID, "", payload)
	if terminate {
		g.terminate(ctx, connID, websocket.ClosePolicyViolation, ErrSessionExpired.Message)
	}
	return out
}

// dispatch 返回结果以及是否需要断开连接，由调用方决定何时关闭传输
func (g *Gateway) dispatch(ctx context.Context, event, connID, requestID string, payload map[string]any) (Outcome, bool) {
	start := time.Now()
	ctx = logger.WithConnID(ctx, connID)
	ctx, span := tracing.StartSpan(ctx, "ws.dispatch",
		trace.WithAttributes(attribute.String("ws.event", event), attribute.String("ws.conn_id", connID)))
	defer span.End()

	route, run, ok := g.router.route(event)
	if !ok {
		g.metrics.EventDispatched("unknown", StatusError, time.Since(start))
		return unknownEvent(event), false
	}
	if payload == nil {
		payload = map[string]any{}
	}

	c := &Context{
		Event:     event,
		ConnID:    connID,
		RequestID: requestID,
		Payload:   payload,
		Gateway:   g,
		route:     route,
	}
	out := run(ctx, c)
	if out == nil {
		out = Outcome{"status": StatusSuccess}
	}
	if !out.OK() {
		span.SetAttributes(attribute.String("ws.error", out.Message()))
	}
	g.metrics.EventDispatched(event, out.Status(), time.Since(start))
	return out, c.terminate
}

// validate 负载校验，失败时不调用处理器
func (g *Gateway) validate(ctx context.Context, c *Context, next NextFunc) Outcome {
	payload, err := g.validator.ValidateEvent(c.Event, c.Payload)
	if err != nil {
		g.log.DebugContext(ctx, "payload rejected",
			zap.String("event", c.Event), zap.String("reason", validator.Reason(err)))
		return Fail(err)
	}
	c.Payload = payload
	return next()
}

// authenticate 确认会话存在并续期
// 存储不可用时退化为连接建立时的身份
func (g *Gateway) authenticate(ctx context.Context, c *Context, next NextFunc) Outcome {
	if c.route.Public {
		if e, ok := g.pool.Get(c.ConnID); ok {
			c.Identity = e.identity
		}
		return next()
	}

	rec, err := g.sessions.Touch(ctx, c.ConnID)
	switch {
	case err == nil:
		c.Session = rec
		c.Identity = Identity{UserID: rec.UserID, Roles: rec.Roles}
	case errors.Is(err, session.ErrNotFound):
		c.terminate = true
		return Fail(ErrSessionExpired)
	default:
		g.metrics.StoreError("session.touch")
		e, ok := g.pool.Get(c.ConnID)
		if !ok {
			return Fail(ErrSessionExpired)
		}
		g.log.WarnContext(ctx, "session store unavailable, using connection identity", zap.Error(err))
		c.Identity = e.identity
	}
	return next()
}

// rateLimit 先检查后计数，身份为用户 ID，缺省为连接 ID
func (g *Gateway) rateLimit(ctx context.Context, c *Context, next NextFunc) Outcome {
	class := c.route.RateClass
	if class == "" {
		return next()
	}
	identity := c.Identity.UserID
	if identity == "" {
		identity = c.ConnID
	}
	if !g.limiter.Check(ctx, identity, class) {
		return Fail(errors.ErrRateLimited)
	}
	if err := g.limiter.Record(ctx, identity, class); err != nil {
		g.log.WarnContext(ctx, "rate record failed", zap.String("class", class), zap.Error(err))
	}
	return next()
}

// invoke 调用处理器，panic 和未编码的错误都转换为 "Internal error"
func (g *Gateway) invoke(ctx context.Context, c *Context) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			g.log.ErrorContext(ctx, "handler panic",
				zap.String("event", c.Event),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			out = Fail(errors.ErrHandler)
		}
	}()

	out, err := c.route.handler(ctx, c)
	if err != nil {
		if errors.FromError(err) == nil {
			g.log.ErrorContext(ctx, "handler failed", zap.String("event", c.Event), zap.Error(err))
		}
		return Fail(err)
	}
	return out
}

// JoinRoom 加入房间
// 依次执行 房间 ID 校验、访问检查、容量检查；已是成员时返回 nil
func (g *Gateway) JoinRoom(ctx context.Context, roomID, connID string, who Identity) error {
	if err := g.validator.ValidateRoomID(roomID); err != nil {
		return err
	}

	if g.opts.Access != nil {
		allowed, err := g.opts.Access.Check(ctx, roomID, who.UserID, who.Roles)
		if err != nil {
			g.log.WarnContext(ctx, "room access check failed", zap.String("room_id", roomID), zap.Error(err))
			return errors.ErrAccessDenied.WithError(err)
		}
		if !allowed {
			return errors.ErrAccessDenied
		}
	}

	joined, err := g.rooms.Join(ctx, roomID, connID)
	if err != nil {
		return err
	}
	if joined {
		g.metrics.SetRoomCount(len(g.rooms.Rooms()))
		g.events.Publish(Event{Type: EventJoined, ConnectionID: connID, UserID: who.UserID, RoomID: roomID, Time: g.opts.now()})
	}
	return nil
}

// LeaveRoom 离开房间，始终返回 true
func (g *Gateway) LeaveRoom(ctx context.Context, roomID, connID string) bool {
	member := g.rooms.IsMember(roomID, connID)
	g.rooms.Leave(ctx, roomID, connID)
	if member {
		var userID string
		if e, ok := g.pool.Get(connID); ok {
			userID = e.identity.UserID
		}
		g.metrics.SetRoomCount(len(g.rooms.Rooms()))
		g.events.Publish(Event{Type: EventLeft, ConnectionID: connID, UserID: userID, RoomID: roomID, Time: g.opts.now()})
	}
	return true
}

// terminate 关闭传输并清理状态
func (g *Gateway) terminate(ctx context.Context, connID string, code int, reason string) {
	if e, ok := g.pool.Get(connID); ok {
		e.peer.Close(code, reason)
	}
	g.HandleDisconnect(ctx, connID)
}

// Run 运行后台任务：房间校准、会话巡检、帧限流器回收
// 阻塞到 ctx 取消或 Shutdown
func (g *Gateway) Run(ctx context.Context) error {
	g.router.Freeze()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(g.ctx, stop)
	defer unregister()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.rooms.RunReconcile(ctx) })
	eg.Go(func() error { return g.runSweep(ctx) })
	eg.Go(func() error {
		g.frames.Run(ctx)
		return nil
	})
	return eg.Wait()
}

// runSweep 断开会话已过期的连接
func (g *Gateway) runSweep(ctx context.Context) error {
	ticker := time.NewTicker(g.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

// Sweep 检查所有连接的会话，返回被断开的连接数
// 存储不可用时跳过，不断开任何连接
func (g *Gateway) Sweep(ctx context.Context) int {
	var expired []string
	g.pool.Range(func(connID string, _ *entry) bool {
		ok, err := g.sessions.Exists(ctx, connID)
		if err != nil {
			g.metrics.StoreError("session.exists")
			g.log.WarnContext(ctx, "session sweep aborted", zap.Error(err))
			expired = nil
			return false
		}
		if !ok {
			expired = append(expired, connID)
		}
		return true
	})
	for _, connID := range expired {
		g.terminate(ctx, connID, websocket.ClosePolicyViolation, ErrSessionExpired.Message)
	}
	return len(expired)
}

// Shutdown 关闭所有连接并等待连接协程退出
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.cancel()

	var ids []string
	g.pool.Range(func(connID string, _ *entry) bool {
		ids = append(ids, connID)
		return true
	})
	for _, connID := range ids {
		g.terminate(ctx, connID, websocket.CloseGoingAway, "Server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if ferr := g.rooms.Forget(context.WithoutCancel(ctx)); ferr != nil {
		g.log.WarnContext(ctx, "room heartbeat cleanup failed", zap.Error(ferr))
	}
	g.events.Close()
	if g.opts.Publisher != nil {
		if cerr := g.opts.Publisher.Close(); cerr != nil {
			g.log.WarnContext(ctx, "publisher close failed", zap.Error(cerr))
		}
	}
	return err
}

// forwardEvents 将生命周期事件转发到外部消息系统
func (g *Gateway) forwardEvents(p broker.Publisher) {
	forward := func(e Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec := broker.Record{
			Type:         string(e.Type),
			ConnectionID: e.ConnectionID,
			UserID:       e.UserID,
			RoomID:       e.RoomID,
			Instance:     g.rooms.Instance(),
			Time:         e.Time,
		}
		if err := p.Publish(ctx, rec); err != nil {
			g.log.Warn("lifecycle publish failed",
				zap.String("type", rec.Type),
				zap.String("conn_id", rec.ConnectionID),
				zap.Error(err))
		}
	}
	for _, t := range []EventType{EventConnected, EventDisconnected, EventJoined, EventLeft} {
		g.events.Subscribe(t, forward)
	}
}
