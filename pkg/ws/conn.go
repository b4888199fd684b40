package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

// conn 基于 gorilla/websocket 的 Peer
//
// 读协程串行分发事件；写协程独占底层连接的写操作。
// Close 只发信号，写协程先发完已入队的帧再发送关闭帧。
type conn struct {
	id string
	ws *websocket.Conn
	g  *Gateway

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closed      atomic.Bool
	closeCode   int
	closeReason string

	invalid atomic.Int32
}

func newConn(ws *websocket.Conn, g *Gateway) *conn {
	return &conn{
		ws:   ws,
		g:    g,
		send: make(chan []byte, g.opts.SendQueueSize),
		done: make(chan struct{}),
	}
}

// Send 非阻塞入队
func (c *conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close 请求关闭连接
func (c *conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.closed.Store(true)
		close(c.done)
	})
}

// run 阻塞直到连接结束，随后清理网关状态
func (c *conn) run(ctx context.Context) {
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump()
	}()

	c.readPump(ctx)
	c.Close(websocket.CloseNormalClosure, "")
	c.g.HandleDisconnect(context.WithoutCancel(ctx), c.id)
	<-writeDone
}

// readPump 读取帧并分发，同一连接的事件按到达顺序处理
func (c *conn) readPump(ctx context.Context) {
	opts := c.g.opts
	c.ws.SetReadLimit(opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.g.log.DebugContext(ctx, "read failed", zap.Error(err))
			}
			return
		}
		if c.closed.Load() {
			return
		}
		// 收到任何帧都视为存活
		_ = c.ws.SetReadDeadline(time.Now().Add(opts.PongTimeout))

		if !c.g.frames.Allow(c.id) {
			c.g.log.WarnContext(ctx, "frame rate exceeded")
			c.Close(websocket.ClosePolicyViolation, "Too many messages")
			return
		}

		if kind == websocket.BinaryMessage {
			if err := c.g.validator.ValidateBinary(data); err != nil {
				c.reply("", "", Fail(err))
				continue
			}
		}

		msg, payload, ok := c.decode(data)
		if !ok {
			c.g.metrics.InvalidFrame()
			if c.invalid.Add(1) > opts.MaxInvalidFrames {
				c.Close(websocket.CloseUnsupportedData, "Too many invalid messages")
				return
			}
			c.reply("", "", Fail(ErrInvalidFrame))
			continue
		}
		c.invalid.Store(0)

		evCtx := ctx
		if room, _ := payload["room_id"].(string); room != "" {
			evCtx = logger.WithRoomID(ctx, room)
		}
		out, terminate := c.g.dispatch(evCtx, msg.Event, c.id, msg.RequestID, payload)
		c.reply(msg.Event, msg.RequestID, out)
		if terminate {
			c.Close(websocket.ClosePolicyViolation, ErrSessionExpired.Message)
			return
		}
	}
}

// decode 解析 {event, request_id, data}，data 必须为对象或缺省
func (c *conn) decode(data []byte) (*Message, map[string]any, bool) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
		return nil, nil, false
	}
	raw := bytes.TrimSpace(msg.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &msg, nil, true
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, false
	}
	return &msg, payload, true
}

func (c *conn) reply(event, requestID string, out Outcome) {
	frame, err := encodeReply(event, requestID, out, c.g.opts.now())
	if err != nil {
		c.g.log.Warn("reply encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := c.Send(frame); err != nil {
		c.g.metrics.MessageDropped()
	}
}

// writePump 发送队列中的帧并定期 ping
func (c *conn) writePump() {
	opts := c.g.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			deadline := time.Now().Add(opts.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason), deadline)
			return

		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// flush 发完已入队的帧
func (c *conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.g.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// ServeHTTP 升级为 WebSocket 并建立连接
//
// 连接结果作为首帧发送；被拒绝时随后以 1008 关闭。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.DebugContext(r.Context(), "upgrade failed", zap.Error(err))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	c := newConn(ws, g)
	req := connectRequest(r)
	out := g.HandleConnect(ctx, req, c)

	if !out.OK() {
		frame, _ := encodeReply("connect", "", out, g.opts.now())
		deadline := time.Now().Add(g.opts.WriteTimeout)
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.WriteMessage(websocket.TextMessage, frame)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, out.Message()), deadline)
		_ = ws.Close()
		return
	}

	c.id, _ = out["session_id"].(string)
	c.reply("connect", "", out)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		c.run(logger.WithConnID(ctx, c.id))
	}()
}

// connectRequest 从握手请求提取 Origin、客户端标识和令牌
func connectRequest(r *http.Request) ConnectRequest {
	q := r.URL.Query()

	token := q.Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			token = strings.TrimSpace(h[7:])
		}
	}

	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	clientID := q.Get("client_id")
	if clientID == "" {
		clientID = r.Header.Get("X-Client-ID")
	}

	return ConnectRequest{
		Origin:     r.Header.Get("Origin"),
		ClientID:   clientID,
		Token:      token,
		RemoteAddr: remote,
	}
}
