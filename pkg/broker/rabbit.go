package broker

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// channel amqp 通道中用到的部分
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Rabbit 发布到 topic 类型交换机，routing key 为 lifecycle.{type}
type Rabbit struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	opts     *options

	mu     sync.Mutex
	closed bool
}

// NewRabbit 连接 RabbitMQ 并声明交换机
func NewRabbit(url, exchange string, opts ...Option) (*Rabbit, error) {
	if url == "" || exchange == "" {
		return nil, ErrInvalidConfig.WithMessage("rabbitmq url and exchange are required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, ErrPublish.WithError(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, ErrPublish.WithError(err)
	}
	r, err := newRabbit(ch, exchange, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	r.conn = conn
	return r, nil
}

func newRabbit(ch channel, exchange string, opts ...Option) (*Rabbit, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, ErrPublish.WithError(err)
	}
	return &Rabbit{ch: ch, exchange: exchange, opts: buildOptions(opts)}, nil
}

// Publish 发布事件
func (r *Rabbit) Publish(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	body, err := rec.Encode()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.ConnectionID,
		Type:         rec.Type,
		Timestamp:    rec.Time,
		Body:         body,
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(r.opts.initial),
			backoff.WithMaxInterval(r.opts.max),
		), r.opts.maxRetries),
		ctx,
	)
	if err := backoff.Retry(func() error {
		return r.ch.PublishWithContext(ctx, r.exchange, rec.RoutingKey(), false, false, msg)
	}, policy); err != nil {
		return ErrPublish.WithError(err)
	}
	return nil
}

// Close 关闭通道与连接
func (r *Rabbit) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.ch.Close()
	if r.conn != nil {
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
