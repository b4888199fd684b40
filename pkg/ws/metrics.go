package ws

import "time"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	ConnectionOpened()
	ConnectionClosed()
	ConnectRejected(reason string)

	// 事件指标
	EventDispatched(event, status string, d time.Duration)

	// 房间指标
	SetRoomCount(n int)

	// 传输与存储
	MessageDropped()
	InvalidFrame()
	StoreError(op string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) ConnectionOpened()                             {}
func (NoopMetrics) ConnectionClosed()                             {}
func (NoopMetrics) ConnectRejected(string)                        {}
func (NoopMetrics) EventDispatched(string, string, time.Duration) {}
func (NoopMetrics) SetRoomCount(int)                              {}
func (NoopMetrics) MessageDropped()                               {}
func (NoopMetrics) InvalidFrame()                                 {}
func (NoopMetrics) StoreError(string)                             {}
