package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 生命周期事件类型
type EventType string

const (
	// EventConnected 连接建立
	EventConnected EventType = "connect"
	// EventDisconnected 连接断开
	EventDisconnected EventType = "disconnect"
	// EventJoined 加入房间
	EventJoined EventType = "join"
	// EventLeft 离开房间
	EventLeft EventType = "leave"
)

// Event 生命周期事件
type Event struct {
	Type         EventType
	ConnectionID string
	UserID       string
	RoomID       string
	Time         time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 异步事件总线，固定数量的 worker 消费
type EventBus struct {
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
	tasks    chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	dropped  atomic.Int64
}

// NewEventBus 创建事件总线
func NewEventBus(workers, queueSize int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		tasks:    make(chan func(), queueSize),
		stopCh:   make(chan struct{}),
	}
	for range workers {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.tasks:
			task()
		case <-eb.stopCh:
			// 处理剩余任务后退出
			for {
				select {
				case task := <-eb.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(t EventType, h EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[t] = append(eb.handlers[t], h)
}

// Publish 异步发布事件
// 连接/断开事件在队列满时最多等待 100ms，其余事件直接丢弃
func (eb *EventBus) Publish(e Event) {
	if eb.closed.Load() {
		return
	}

	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		task := func() { h(e) }
		if e.Type == EventConnected || e.Type == EventDisconnected {
			select {
			case eb.tasks <- task:
			case <-time.After(100 * time.Millisecond):
				eb.dropped.Add(1)
			}
			continue
		}
		select {
		case eb.tasks <- task:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Close 停止 worker，等待已入队的任务执行完毕
func (eb *EventBus) Close() {
	if !eb.closed.CompareAndSwap(false, true) {
		return
	}
	close(eb.stopCh)
	eb.wg.Wait()
}

// Dropped 丢弃的事件数量
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}
