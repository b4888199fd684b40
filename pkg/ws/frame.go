package ws

import (
	"encoding/json"
	"time"
)

// 结果状态
const (
	StatusConnected = "connected"
	StatusJoined    = "joined"
	StatusLeft      = "left"
	StatusSent      = "sent"
	StatusSuccess   = "success"
	StatusPong      = "pong"
	StatusError     = "error"
)

// Outcome 事件处理结果，至少包含 status，出错时包含 message
type Outcome map[string]any

// Status 返回 status 字段
func (o Outcome) Status() string {
	s, _ := o["status"].(string)
	return s
}

// Message 返回 message 字段
func (o Outcome) Message() string {
	s, _ := o["message"].(string)
	return s
}

// OK 非 error 状态
func (o Outcome) OK() bool {
	return o.Status() != StatusError
}

// Message 客户端上行帧
type Message struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Reply 对上行帧的应答
type Reply struct {
	Event     string  `json:"event"`
	RequestID string  `json:"request_id,omitempty"`
	Data      Outcome `json:"data"`
	Timestamp int64   `json:"timestamp"`
}

// Push 服务端主动推送（广播、单播）
type Push struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// encodeReply 编码应答帧
func encodeReply(event, requestID string, out Outcome, now time.Time) ([]byte, error) {
	return json.Marshal(Reply{Event: event, RequestID: requestID, Data: out, Timestamp: now.UnixMilli()})
}

// encodePush 编码推送帧
func encodePush(event string, data any, now time.Time) ([]byte, error) {
	return json.Marshal(Push{Event: event, Data: data, Timestamp: now.UnixMilli()})
}
