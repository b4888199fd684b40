package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/store"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.New(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func size(t *testing.T, r *Registry, roomID string) int64 {
	t.Helper()
	n, err := r.Size(context.Background(), roomID)
	require.NoError(t, err)
	return n
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := New(newStore(t))

	joined, err := r.Join(ctx, "lobby", "c1")
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = r.Join(ctx, "lobby", "c1")
	require.NoError(t, err)
	assert.False(t, joined)

	assert.Equal(t, int64(1), size(t, r, "lobby"))
	assert.Equal(t, 1, r.LocalSize("lobby"))
	assert.Equal(t, []string{"c1"}, r.Members("lobby"))
	assert.Equal(t, []string{"lobby"}, r.RoomsOf("c1"))
}

func TestLeaveNonMember(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := New(s)

	assert.True(t, r.Leave(ctx, "lobby", "ghost"))
	assert.Equal(t, int64(0), size(t, r, "lobby"))

	_, err := r.Join(ctx, "lobby", "c1")
	require.NoError(t, err)
	assert.True(t, r.Leave(ctx, "lobby", "ghost"))
	assert.Equal(t, int64(1), size(t, r, "lobby"))
}

func TestLeaveClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := New(s)

	_, err := r.Join(ctx, "lobby", "c1")
	require.NoError(t, err)
	// 计数器已被其他实例或过期清零
	require.NoError(t, s.Delete(ctx, SizeKey("lobby")))

	assert.True(t, r.Leave(ctx, "lobby", "c1"))
	raw, err := s.Get(ctx, SizeKey("lobby"))
	require.NoError(t, err)
	assert.Equal(t, "0", string(raw))
	assert.Equal(t, 0, r.LocalSize("lobby"))
	assert.Empty(t, r.Rooms())
}

func TestLeaveAllDecrementsEachRoomOnce(t *testing.T) {
	ctx := context.Background()
	r := New(newStore(t))

	for _, roomID := range []string{"A", "B"} {
		for _, conn := range []string{"c1", "c2"} {
			_, err := r.Join(ctx, roomID, conn)
			require.NoError(t, err)
		}
	}
	require.Equal(t, int64(2), size(t, r, "A"))
	require.Equal(t, int64(2), size(t, r, "B"))

	left := r.LeaveAll(ctx, "c1")
	assert.Equal(t, []string{"A", "B"}, left)
	assert.Equal(t, int64(1), size(t, r, "A"))
	assert.Equal(t, int64(1), size(t, r, "B"))
	assert.Empty(t, r.RoomsOf("c1"))

	assert.Empty(t, r.LeaveAll(ctx, "c1"))
	assert.Equal(t, int64(1), size(t, r, "A"))
}

func TestCapacity(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := New(s, WithMaxSize(2))

	for _, c := range []string{"c1", "c2"} {
		_, err := r.Join(ctx, "small", c)
		require.NoError(t, err)
	}
	_, err := r.Join(ctx, "small", "c3")
	assert.True(t, errors.Is(err, ErrRoomFull))
	assert.False(t, r.IsMember("small", "c3"))

	// 共享计数器包含其他实例的成员
	require.NoError(t, s.Set(ctx, SizeKey("shared"), []byte("2"), time.Minute))
	_, err = r.Join(ctx, "shared", "c1")
	assert.True(t, errors.Is(err, ErrRoomFull))
}

// gatedStore 让所有 Get 都等到指定数量的调用者读完计数器才返回
type gatedStore struct {
	store.Store
	readers sync.WaitGroup
}

func (g *gatedStore) Get(ctx context.Context, key string) ([]byte, error) {
	g.readers.Done()
	g.readers.Wait()
	return g.Store.Get(ctx, key)
}

func TestCapacityConcurrentJoins(t *testing.T) {
	ctx := context.Background()
	const joiners = 4
	g := &gatedStore{Store: newStore(t)}
	g.readers.Add(joiners)
	r := New(g, WithMaxSize(1))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
		full   int
	)
	for i := range joiners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.Join(ctx, "duel", fmt.Sprintf("c%d", i))
			mu.Lock()
			defer mu.Unlock()
			if ok {
				joined++
			}
			if errors.Is(err, ErrRoomFull) {
				full++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, joined)
	assert.Equal(t, joiners-1, full)
	assert.Equal(t, 1, r.LocalSize("duel"))
}

type downStore struct {
	store.Store
}

func (downStore) Get(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("%w: down", store.ErrUnavailable)
}

func (downStore) Incr(context.Context, string) (int64, error) {
	return 0, fmt.Errorf("%w: down", store.ErrUnavailable)
}

func (downStore) Decr(context.Context, string) (int64, error) {
	return 0, fmt.Errorf("%w: down", store.ErrUnavailable)
}

func TestStoreDownFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	r := New(downStore{}, WithMaxSize(1))

	joined, err := r.Join(ctx, "lobby", "c1")
	require.NoError(t, err)
	assert.True(t, joined)

	_, err = r.Join(ctx, "lobby", "c2")
	assert.True(t, errors.Is(err, ErrRoomFull))

	assert.True(t, r.Leave(ctx, "lobby", "c1"))
	assert.Equal(t, 0, r.LocalSize("lobby"))
}

func TestCounterTTLRefreshedOnMutation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := store.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	s, err := store.NewWithOptions(ctx, store.WithRedis(cfg))
	require.NoError(t, err)
	defer s.Close()

	r := New(s, WithTTL(time.Minute))
	_, err = r.Join(ctx, "lobby", "c1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("relay:room:size:lobby"))

	mr.FastForward(30 * time.Second)
	_, err = r.Join(ctx, "lobby", "c2")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("relay:room:size:lobby"))

	// 读取不刷新 TTL
	mr.FastForward(30 * time.Second)
	assert.Equal(t, int64(2), size(t, r, "lobby"))
	assert.Equal(t, 30*time.Second, mr.TTL("relay:room:size:lobby"))
}

func TestConcurrentJoinLeave(t *testing.T) {
	ctx := context.Background()
	r := New(newStore(t), WithMaxSize(1000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			for _, roomID := range []string{"A", "B", "C"} {
				_, _ = r.Join(ctx, roomID, conn)
			}
			if i%2 == 0 {
				r.LeaveAll(ctx, conn)
			}
		}(i)
	}
	wg.Wait()

	for _, roomID := range []string{"A", "B", "C"} {
		assert.Equal(t, 25, r.LocalSize(roomID))
		assert.Equal(t, int64(25), size(t, r, roomID))
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := New(s, WithInstance("inst-a"))
	b := New(s, WithInstance("inst-b"))

	for _, c := range []string{"a1", "a2"} {
		_, err := a.Join(ctx, "lobby", c)
		require.NoError(t, err)
	}
	_, err := b.Join(ctx, "lobby", "b1")
	require.NoError(t, err)

	// 模拟漂移：一个已崩溃实例遗留了计数
	_, err = s.IncrBy(ctx, SizeKey("lobby"), 7)
	require.NoError(t, err)
	require.Equal(t, int64(10), size(t, a, "lobby"))

	require.NoError(t, a.Reconcile(ctx))
	require.NoError(t, b.Reconcile(ctx))
	assert.Equal(t, int64(3), size(t, a, "lobby"))

	// 清空的房间删除心跳并重算
	a.LeaveAll(ctx, "a1")
	a.LeaveAll(ctx, "a2")
	require.NoError(t, a.Reconcile(ctx))
	assert.Equal(t, int64(1), size(t, a, "lobby"))

	keys, err := s.Scan(ctx, InstanceKey("lobby", "*"))
	require.NoError(t, err)
	assert.Equal(t, []string{InstanceKey("lobby", "inst-b")}, keys)

	require.NoError(t, b.Forget(ctx))
	keys, err = s.Scan(ctx, InstanceKey("lobby", "*"))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRunReconcileStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStore(t)
	r := New(s, WithReconcileInterval(10*time.Millisecond), WithInstance("solo"))
	_, err := r.Join(ctx, "lobby", "c1")
	require.NoError(t, err)
	_, err = s.IncrBy(ctx, SizeKey("lobby"), 5)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.RunReconcile(ctx) }()

	assert.Eventually(t, func() bool { return size(t, r, "lobby") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
