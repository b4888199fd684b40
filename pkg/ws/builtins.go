package ws

import (
	"context"
	"strconv"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/ratelimit"
	"github.com/tokmz/relay/pkg/store"
)

// CounterKey 房间计数器键
func CounterKey(roomID string) string {
	return "counter:" + roomID
}

func (g *Gateway) registerBuiltins() error {
	builtins := []struct {
		event string
		h     HandlerFunc
		opts  []RouteOption
	}{
		{"join", g.onJoin, nil},
		{"leave", g.onLeave, nil},
		{"message", g.onMessage, []RouteOption{RateLimited(ratelimit.ClassMessages)}},
		{"button_press", g.onButtonPress, nil},
		{"get_counter", g.onGetCounter, nil},
		{"get_rooms", g.onGetRooms, nil},
		{"ping", g.onPing, []RouteOption{Public()}},
	}
	for _, b := range builtins {
		if err := g.router.Register(b.event, b.h, b.opts...); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) onJoin(ctx context.Context, c *Context) (Outcome, error) {
	roomID := c.Str("room_id")
	if err := g.JoinRoom(ctx, roomID, c.ConnID, c.Identity); err != nil {
		return nil, err
	}
	return Outcome{"status": StatusJoined, "room_id": roomID}, nil
}

func (g *Gateway) onLeave(ctx context.Context, c *Context) (Outcome, error) {
	roomID := c.Str("room_id")
	g.LeaveRoom(ctx, roomID, c.ConnID)
	return Outcome{"status": StatusLeft, "room_id": roomID}, nil
}

// onMessage 负载已由校验阶段清洗；带 room_id 时发送者必须是成员
func (g *Gateway) onMessage(ctx context.Context, c *Context) (Outcome, error) {
	data := map[string]any{
		"message":   c.Str("message"),
		"user_id":   c.Identity.UserID,
		"timestamp": g.opts.now().UnixMilli(),
	}

	roomID := c.Str("room_id")
	if roomID == "" {
		g.BroadcastToAll(ctx, "message", data)
		return Outcome{"status": StatusSent}, nil
	}
	if !g.rooms.IsMember(roomID, c.ConnID) {
		return nil, ErrNotMember
	}
	data["room_id"] = roomID
	g.BroadcastToRoom(ctx, roomID, "message", data)
	return Outcome{"status": StatusSent, "room_id": roomID}, nil
}

// counterRoom 取 room_id，缺省为默认房间
func (g *Gateway) counterRoom(c *Context) (string, error) {
	roomID := c.Str("room_id")
	if roomID == "" {
		roomID = g.opts.DefaultRoom
	}
	if err := g.validator.ValidateRoomID(roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

func (g *Gateway) onButtonPress(ctx context.Context, c *Context) (Outcome, error) {
	roomID, err := g.counterRoom(c)
	if err != nil {
		return nil, err
	}
	count, err := g.store.Incr(ctx, CounterKey(roomID))
	if err != nil {
		g.metrics.StoreError("counter.incr")
		return nil, storeFailure(err)
	}
	g.BroadcastToRoom(ctx, roomID, "counter_update", map[string]any{"room_id": roomID, "count": count})
	return Outcome{"status": StatusSuccess, "room_id": roomID, "count": count}, nil
}

func (g *Gateway) onGetCounter(ctx context.Context, c *Context) (Outcome, error) {
	roomID, err := g.counterRoom(c)
	if err != nil {
		return nil, err
	}
	raw, err := g.store.Get(ctx, CounterKey(roomID))
	var count int64
	switch {
	case err == nil:
		count, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, storeFailure(err)
		}
	case store.IsNotFound(err):
	default:
		g.metrics.StoreError("counter.get")
		return nil, storeFailure(err)
	}
	return Outcome{"status": StatusSuccess, "room_id": roomID, "count": count}, nil
}

// storeFailure 只把 Store unavailable 透传给客户端，其余存储错误统一为 Internal error
func storeFailure(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	return errors.ErrHandler.WithError(err)
}

func (g *Gateway) onGetRooms(_ context.Context, _ *Context) (Outcome, error) {
	return Outcome{"status": StatusSuccess, "rooms": g.rooms.Rooms()}, nil
}

func (g *Gateway) onPing(_ context.Context, _ *Context) (Outcome, error) {
	return Outcome{"status": StatusPong, "timestamp": g.opts.now().UnixMilli()}, nil
}
