package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanCount SCAN 每批的建议数量
const scanCount = 256

type redisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// universalOptions 三种部署模式共用 UniversalClient，由字段组合决定实际客户端类型
func universalOptions(rc *RedisConfig) *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Addrs:        rc.Addrs,
		Username:     rc.Username,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		MaxRetries:   rc.MaxRetries,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	}
	switch rc.Mode {
	case RedisCluster:
		opts.IsClusterMode = true
		opts.DB = 0
	case RedisSentinel:
		opts.MasterName = rc.MasterName
	default:
		opts.Addrs = []string{rc.Addr}
	}
	return opts
}

// newRedisStore 启动时探测一次，连不上直接失败而不是等到第一条消息
func newRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	client := redis.NewUniversalClient(universalOptions(cfg.Redis))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return NewRedis(client, cfg.KeyPrefix), nil
}

// NewRedis 复用调用方的客户端，测试里配合 miniredis 使用
func NewRedis(client redis.UniversalClient, keyPrefix string) Store {
	return &redisStore{client: client, keyPrefix: keyPrefix}
}

func (r *redisStore) buildKey(key string) string {
	return r.keyPrefix + key
}

// wrapErr redis.Nil 视为键不存在，其余错误一律视为存储不可用
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if strings.Contains(err.Error(), "not an integer") {
		return fmt.Errorf("%w: %w", ErrNotInteger, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.buildKey(key)).Bytes()
	if err != nil {
		return nil, wrapErr(err)
	}
	return data, nil
}

func (r *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrapErr(r.client.Set(ctx, r.buildKey(key), value, ttl).Err())
}

func (r *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, r.buildKey(k))
	}
	return wrapErr(r.client.Del(ctx, full...).Err())
}

func (r *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return count > 0, nil
}

func (r *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Incr(ctx, r.buildKey(key)).Result()
	return val, wrapErr(err)
}

func (r *redisStore) Decr(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Decr(ctx, r.buildKey(key)).Result()
	return val, wrapErr(err)
}

func (r *redisStore) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	val, err := r.client.IncrBy(ctx, r.buildKey(key), value).Result()
	return val, wrapErr(err)
}

func (r *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.buildKey(key)).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	switch ttl {
	case -2:
		return 0, ErrNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

// Expire ttl<=0 立即删除，与内存驱动行为一致
func (r *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	fullKey := r.buildKey(key)
	if ttl <= 0 {
		n, err := r.client.Del(ctx, fullKey).Result()
		if err != nil {
			return wrapErr(err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}

	ok, err := r.client.Expire(ctx, fullKey, ttl).Result()
	if err != nil {
		return wrapErr(err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Scan 集群模式下逐个主节点扫描后合并
func (r *redisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	match := r.buildKey(pattern)

	var (
		mu   sync.Mutex
		keys []string
	)
	scanNode := func(ctx context.Context, node redis.UniversalClient) error {
		iter := node.Scan(ctx, 0, match, scanCount).Iterator()
		for iter.Next(ctx) {
			key := strings.TrimPrefix(iter.Val(), r.keyPrefix)
			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()
		}
		return iter.Err()
	}

	var err error
	if cluster, ok := r.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scanNode(ctx, node)
		})
	} else {
		err = scanNode(ctx, r.client)
	}
	if err != nil {
		return nil, wrapErr(err)
	}

	sort.Strings(keys)
	return dedupe(keys), nil
}

// dedupe SCAN 允许重复返回同一键，keys 需已排序
func dedupe(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

func (r *redisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (r *redisStore) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (r *redisStore) String() string {
	return "redis(" + r.keyPrefix + ")"
}
