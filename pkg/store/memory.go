package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore 单进程内存存储，用于单实例部署和测试
type memoryStore struct {
	cache     *gocache.Cache
	keyPrefix string
	mu        sync.Mutex // 保护读-改-写操作
}

func newMemoryStore(cfg *Config) Store {
	return &memoryStore{
		cache:     gocache.New(gocache.NoExpiration, cfg.Memory.CleanupInterval),
		keyPrefix: cfg.KeyPrefix,
	}
}

func (m *memoryStore) buildKey(key string) string {
	return m.keyPrefix + key
}

// expiration 将 TTL 转换为 go-cache 的过期参数
func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

// Get 获取值
func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, found := m.cache.Get(m.buildKey(key))
	if !found {
		return nil, ErrNotFound
	}
	b, ok := data.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected value type %T", ErrSerialization, data)
	}
	return append([]byte(nil), b...), nil
}

// Set 设置值，ttl <= 0 表示永不过期
func (m *memoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Set(m.buildKey(key), append([]byte(nil), value...), expiration(ttl))
	return nil
}

// Delete 删除键
func (m *memoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.cache.Delete(m.buildKey(key))
	}
	return nil
}

// Exists 检查键是否存在
func (m *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, found := m.cache.Get(m.buildKey(key))
	return found, nil
}

// Incr 自增
func (m *memoryStore) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrBy(ctx, key, 1)
}

// Decr 自减
func (m *memoryStore) Decr(ctx context.Context, key string) (int64, error) {
	return m.IncrBy(ctx, key, -1)
}

// IncrBy 增加指定值，保留键原有的过期时间
func (m *memoryStore) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	fullKey := m.buildKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	ttl := gocache.NoExpiration

	data, exp, found := m.cache.GetWithExpiration(fullKey)
	if found {
		b, ok := data.([]byte)
		if !ok {
			return 0, ErrNotInteger
		}
		n, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrNotInteger, err)
		}
		current = n
		if !exp.IsZero() {
			ttl = time.Until(exp)
			if ttl <= 0 {
				// 恰好在本次调用中过期，按新键处理
				current, ttl = 0, gocache.NoExpiration
			}
		}
	}

	next := current + value
	m.cache.Set(fullKey, []byte(strconv.FormatInt(next, 10)), ttl)
	return next, nil
}

// TTL 获取键的剩余生存时间
func (m *memoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, exp, found := m.cache.GetWithExpiration(m.buildKey(key))
	if !found {
		return 0, ErrNotFound
	}
	if exp.IsZero() {
		return -1, nil
	}
	ttl := time.Until(exp)
	if ttl <= 0 {
		return 0, ErrNotFound
	}
	return ttl, nil
}

// Expire 设置键的过期时间，ttl <= 0 立即删除
func (m *memoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	fullKey := m.buildKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	data, found := m.cache.Get(fullKey)
	if !found {
		return ErrNotFound
	}
	if ttl <= 0 {
		m.cache.Delete(fullKey)
		return nil
	}
	m.cache.Set(fullKey, data, ttl)
	return nil
}

// Scan 按 glob 模式列出键
func (m *memoryStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var keys []string
	for fullKey := range m.cache.Items() {
		key, ok := strings.CutPrefix(fullKey, m.keyPrefix)
		if !ok {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping 内存存储总是可用
func (m *memoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close 清空所有键
func (m *memoryStore) Close() error {
	m.cache.Flush()
	return nil
}

// String 返回存储类型
func (m *memoryStore) String() string {
	return fmt.Sprintf("memory(%s, %d keys)", m.keyPrefix, m.cache.ItemCount())
}
