package ws

import (
	"github.com/tokmz/relay/pkg/errors"
)

// 预定义错误
var (
	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New(2401, "ws: connection closed", 410)
	// ErrSendQueueFull 发送队列已满
	ErrSendQueueFull = errors.New(2402, "ws: send queue full", 503)
	// ErrRouterFrozen 路由器已冻结
	ErrRouterFrozen = errors.New(2403, "ws: router is frozen")
	// ErrHandlerExists 事件已注册
	ErrHandlerExists = errors.New(2404, "ws: handler already exists")
	// ErrInvalidConfig 网关配置无效
	ErrInvalidConfig = errors.New(2405, "ws: invalid config")
	// ErrConnectionExists 连接 ID 重复
	ErrConnectionExists = errors.New(2406, "ws: connection id already exists")

	// ErrSessionExpired 会话不存在或已过期
	ErrSessionExpired = errors.ErrAuthentication.WithMessage("Session expired")
	// ErrInvalidFrame 无法解析的帧
	ErrInvalidFrame = errors.ErrValidation.WithMessage("Invalid message format")
	// ErrNotMember 发送者不在目标房间
	ErrNotMember = errors.ErrAccessDenied.WithMessage("Not a member of this room")
)

// Fail 将错误渲染为 error 结果
//
// 带错误码的错误使用其 Message，其余一律为 "Internal error"。
func Fail(err error) Outcome {
	msg := errors.ErrHandler.Message
	if e := errors.FromError(err); e != nil && !e.Is(errors.ErrServer) {
		msg = e.Message
	}
	return Outcome{"status": StatusError, "message": msg}
}

// unknownEvent 未注册事件的结果
func unknownEvent(name string) Outcome {
	return Fail(errors.ErrNoSuchEvent.WithMessage("Unknown event: " + name))
}
