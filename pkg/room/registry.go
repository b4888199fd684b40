package room

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	relayerrors "github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/store"
)

// ErrRoomFull 房间已满
var ErrRoomFull = relayerrors.ErrRoomFull

// SizeKey 房间人数计数器键
func SizeKey(roomID string) string {
	return "room:size:" + roomID
}

// InstanceKey 实例成员数心跳键
func InstanceKey(roomID, instance string) string {
	return "room:inst:" + roomID + ":" + instance
}

// Info 房间快照
type Info struct {
	ID        string    `json:"room_id"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type room struct {
	members   map[string]struct{}
	createdAt time.Time
}

// Registry 进程内的房间成员表，并维护跨实例共享的人数计数器
//
// 成员表和反向索引由同一把锁保护，存储 I/O 不在锁内进行。
// 共享计数器是尽力而为的，依赖 TTL 和周期性校准收敛。
type Registry struct {
	store  store.Store
	config *Config
	logger logger.Logger

	mu     sync.RWMutex
	rooms  map[string]*room               // roomID -> members
	byConn map[string]map[string]struct{} // connID -> roomIDs

	hbMu       sync.Mutex
	heartbeats map[string]struct{} // 本实例写过心跳的房间
}

// New 创建房间注册表
func New(s store.Store, opts ...Option) *Registry {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Registry{
		store:      s,
		config:     cfg,
		logger:     cfg.Logger.With(zap.String("component", "room")),
		rooms:      make(map[string]*room),
		byConn:     make(map[string]map[string]struct{}),
		heartbeats: make(map[string]struct{}),
	}
}

// Instance 本实例 ID
func (r *Registry) Instance() string {
	return r.config.Instance
}

// MaxSize 房间容量
func (r *Registry) MaxSize() int {
	return r.config.MaxSize
}

// Join 加入房间
// 已是成员时返回 false 且不改动计数器；房间已满返回 ErrRoomFull
func (r *Registry) Join(ctx context.Context, roomID, connID string) (bool, error) {
	if r.IsMember(roomID, connID) {
		return false, nil
	}

	size, err := r.Size(ctx, roomID)
	if err != nil {
		r.logger.WarnContext(ctx, "room size unavailable, using local count",
			zap.String("room_id", roomID), zap.Error(err))
		size = 0
	}
	if local := int64(r.LocalSize(roomID)); local > size {
		size = local
	}
	if size >= int64(r.config.MaxSize) {
		return false, ErrRoomFull
	}

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]struct{}), createdAt: time.Now()}
		r.rooms[roomID] = rm
	}
	if _, member := rm.members[connID]; member {
		r.mu.Unlock()
		return false, nil
	}
	// 计数器读取期间本实例可能有并发加入
	if len(rm.members) >= r.config.MaxSize {
		r.mu.Unlock()
		return false, ErrRoomFull
	}
	rm.members[connID] = struct{}{}
	idx, ok := r.byConn[connID]
	if !ok {
		idx = make(map[string]struct{})
		r.byConn[connID] = idx
	}
	idx[roomID] = struct{}{}
	r.mu.Unlock()

	if _, err := r.store.Incr(ctx, SizeKey(roomID)); err != nil {
		r.logger.WarnContext(ctx, "room counter increment failed",
			zap.String("room_id", roomID), zap.Error(err))
		return true, nil
	}
	r.refresh(ctx, roomID)
	return true, nil
}

// Leave 离开房间，非成员时为空操作；计数器不会低于 0
func (r *Registry) Leave(ctx context.Context, roomID, connID string) bool {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return true
	}
	if _, member := rm.members[connID]; !member {
		r.mu.Unlock()
		return true
	}
	delete(rm.members, connID)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
	if idx, ok := r.byConn[connID]; ok {
		delete(idx, roomID)
		if len(idx) == 0 {
			delete(r.byConn, connID)
		}
	}
	r.mu.Unlock()

	n, err := r.store.Decr(ctx, SizeKey(roomID))
	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "room counter decrement failed",
			zap.String("room_id", roomID), zap.Error(err))
	case n < 0:
		if err := r.store.Set(ctx, SizeKey(roomID), []byte("0"), r.config.TTL); err != nil {
			r.logger.WarnContext(ctx, "room counter clamp failed",
				zap.String("room_id", roomID), zap.Error(err))
		}
	default:
		r.refresh(ctx, roomID)
	}
	return true
}

// LeaveAll 离开连接所在的所有房间，返回离开的房间
func (r *Registry) LeaveAll(ctx context.Context, connID string) []string {
	rooms := r.RoomsOf(connID)
	for _, roomID := range rooms {
		r.Leave(ctx, roomID, connID)
	}
	return rooms
}

// refresh 刷新计数器 TTL
func (r *Registry) refresh(ctx context.Context, roomID string) {
	if err := r.store.Expire(ctx, SizeKey(roomID), r.config.TTL); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.WarnContext(ctx, "room counter ttl refresh failed",
			zap.String("room_id", roomID), zap.Error(err))
	}
}

// Size 读取共享计数器，负数按 0 处理
func (r *Registry) Size(ctx context.Context, roomID string) (int64, error) {
	return readCount(ctx, r.store, SizeKey(roomID))
}

func readCount(ctx context.Context, s store.Store, key string) (int64, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, store.ErrNotInteger.WithError(err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// IsMember 是否为房间成员
func (r *Registry) IsMember(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = rm.members[connID]
	return ok
}

// Members 房间在本实例的成员
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rm.members))
	for id := range rm.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RoomsOf 连接所在的房间（副本）
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.byConn[connID]
	out := make([]string, 0, len(idx))
	for id := range idx {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LocalSize 房间在本实例的成员数
func (r *Registry) LocalSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}

// Rooms 本实例非空房间的快照
func (r *Registry) Rooms() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, Info{ID: id, Members: len(rm.members), CreatedAt: rm.createdAt})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// localCounts 本实例各房间成员数的快照
func (r *Registry) localCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.rooms))
	for id, rm := range r.rooms {
		out[id] = len(rm.members)
	}
	return out
}
