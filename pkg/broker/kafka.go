package broker

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Kafka 基于 sarama 同步生产者的发布器
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	opts     *options

	mu     sync.RWMutex
	closed bool
}

// NewKafkaConfig 返回生产者配置
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 0 // 重试交给 backoff
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

// NewKafka 连接 Kafka 集群
func NewKafka(brokers []string, topic string, opts ...Option) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, ErrInvalidConfig.WithMessage("kafka brokers and topic are required")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, ErrPublish.WithError(err)
	}
	return NewKafkaWithProducer(producer, topic, opts...), nil
}

// NewKafkaWithProducer 使用已有生产者
func NewKafkaWithProducer(p sarama.SyncProducer, topic string, opts ...Option) *Kafka {
	return &Kafka{producer: p, topic: topic, opts: buildOptions(opts)}
}

// Publish 发送事件，失败时指数退避重试
func (k *Kafka) Publish(ctx context.Context, rec Record) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return ErrClosed
	}

	data, err := rec.Encode()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(rec.Key()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(rec.Type)},
		},
		Timestamp: rec.Time,
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(k.opts.initial),
				backoff.WithMaxInterval(k.opts.max),
			),
			k.opts.maxRetries,
		),
		ctx,
	)
	err = backoff.RetryNotify(func() error {
		_, _, err := k.producer.SendMessage(msg)
		return err
	}, policy, func(err error, d time.Duration) {
		k.opts.log.Warn("retrying kafka publish",
			zap.String("connection_id", rec.ConnectionID),
			zap.Duration("next", d),
			zap.Error(err))
	})
	if err != nil {
		return ErrPublish.WithError(err)
	}
	return nil
}

// Close 关闭生产者
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.producer.Close()
}
