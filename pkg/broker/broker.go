// Package broker 将连接生命周期事件发布到外部消息系统，用于审计与离线分析。
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// 驱动类型
const (
	DriverNoop     = "noop"
	DriverKafka    = "kafka"
	DriverRabbitMQ = "rabbitmq"
)

var (
	// ErrClosed 发布器已关闭
	ErrClosed = errors.New(2301, "broker closed", 503)
	// ErrPublish 发布失败
	ErrPublish = errors.New(2302, "broker publish failed", 502)
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New(2303, "broker invalid config")
)

// Record 生命周期事件
type Record struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id,omitempty"`
	RoomID       string    `json:"room_id,omitempty"`
	Instance     string    `json:"instance,omitempty"`
	Time         time.Time `json:"time"`
}

// Key 分区键，同一连接的事件保持有序
func (r Record) Key() string {
	return r.ConnectionID
}

// RoutingKey 形如 lifecycle.connect
func (r Record) RoutingKey() string {
	return "lifecycle." + r.Type
}

// Encode 序列化为 JSON
func (r Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return data, nil
}

// Publisher 生命周期事件发布器
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Noop 丢弃所有事件
type Noop struct{}

func (Noop) Publish(context.Context, Record) error { return nil }
func (Noop) Close() error                          { return nil }

// New 按配置创建发布器
func New(s config.BrokerSettings, log logger.Logger) (Publisher, error) {
	switch s.Driver {
	case "", DriverNoop:
		return Noop{}, nil
	case DriverKafka:
		return NewKafka(s.Kafka.Brokers, s.Kafka.Topic, WithLogger(log))
	case DriverRabbitMQ:
		return NewRabbit(s.RabbitMQ.URL, s.RabbitMQ.Exchange, WithLogger(log))
	default:
		return nil, ErrInvalidConfig.WithMessagef("unknown broker driver %q", s.Driver)
	}
}

type options struct {
	log        logger.Logger
	maxRetries uint64
	initial    time.Duration
	max        time.Duration
}

// Option 发布器选项
type Option func(*options)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRetry 设置重试次数与退避区间
func WithRetry(maxRetries uint64, initial, max time.Duration) Option {
	return func(o *options) {
		o.maxRetries = maxRetries
		o.initial = initial
		o.max = max
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		log:        logger.Nop(),
		maxRetries: 3,
		initial:    100 * time.Millisecond,
		max:        5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
