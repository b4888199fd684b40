package logger

import "context"

type ctxKey int

const (
	traceIDKey ctxKey = iota
	connIDKey
	userIDKey
	roomIDKey
)

// ctxFields *Context 方法按此顺序输出的字段
var ctxFields = []struct {
	key  ctxKey
	name string
}{
	{connIDKey, "conn_id"},
	{userIDKey, "user_id"},
	{roomIDKey, "room_id"},
}

// WithTraceID 只在 context 里没有有效 span 时使用
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// WithRoomID 事件负载带 room_id 时由网关写入
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, roomIDKey, roomID)
}

func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}
