package session

import (
	"context"
	"errors"
	"time"

	"github.com/tokmz/relay/pkg/store"
)

// DefaultTTL 默认会话有效期
const DefaultTTL = time.Hour

// ErrNotFound 会话不存在或已过期
var ErrNotFound = store.ErrNotFound.WithMessage("session not found")

// Record 已认证连接的会话元数据
type Record struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Roles        []string  `json:"roles,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	Instance     string    `json:"instance,omitempty"` // 持有连接的网关实例
	ConnectedAt  time.Time `json:"connected_at"`
	LastActive   time.Time `json:"last_active"`
}

// Store 会话存储，键为 session:{connection_id}，带滑动过期时间
type Store struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// New 创建会话存储
func New(s store.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{store: s, ttl: ttl, now: time.Now}
}

// Key 返回会话键
func Key(connID string) string {
	return "session:" + connID
}

// TTL 会话有效期
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create 写入会话，未设置的时间戳取当前时间
func (s *Store) Create(ctx context.Context, rec *Record) error {
	now := s.now()
	if rec.ConnectedAt.IsZero() {
		rec.ConnectedAt = now
	}
	if rec.LastActive.IsZero() {
		rec.LastActive = now
	}
	return store.SetJSON(ctx, s.store, Key(rec.ConnectionID), rec, s.ttl)
}

// Get 读取会话
func (s *Store) Get(ctx context.Context, connID string) (*Record, error) {
	rec, err := store.GetJSON[Record](ctx, s.store, Key(connID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Touch 读取会话、更新 LastActive 并以完整有效期写回
// 不单独调用 Expire，两步之间崩溃也不会丢失会话内容
func (s *Store) Touch(ctx context.Context, connID string) (*Record, error) {
	rec, err := s.Get(ctx, connID)
	if err != nil {
		return nil, err
	}
	rec.LastActive = s.now()
	if err := store.SetJSON(ctx, s.store, Key(connID), rec, s.ttl); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete 删除会话，不存在时不报错
func (s *Store) Delete(ctx context.Context, connID string) error {
	return s.store.Delete(ctx, Key(connID))
}

// Exists 检查会话是否存在
func (s *Store) Exists(ctx context.Context, connID string) (bool, error) {
	return s.store.Exists(ctx, Key(connID))
}
