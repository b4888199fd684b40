package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/store"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(ctx, nil)
	require.NoError(t, err)
	defer s.Close()

	sessions := New(s, time.Minute)
	rec := &Record{ConnectionID: "c1", UserID: "u1", Roles: []string{"player"}, Origin: "http://localhost:5000", ClientID: "10.0.0.1"}
	require.NoError(t, sessions.Create(ctx, rec))
	assert.False(t, rec.ConnectedAt.IsZero())

	got, err := sessions.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, []string{"player"}, got.Roles)
	assert.Equal(t, rec.Origin, got.Origin)
	assert.True(t, rec.ConnectedAt.Equal(got.ConnectedAt))

	require.NoError(t, sessions.Delete(ctx, "c1"))
	_, err = sessions.Get(ctx, "c1")
	assert.True(t, errors.Is(err, ErrNotFound))

	// 删除不存在的会话不报错
	assert.NoError(t, sessions.Delete(ctx, "c1"))
}

func TestTouchRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := store.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	s, err := store.NewWithOptions(ctx, store.WithRedis(cfg))
	require.NoError(t, err)
	defer s.Close()

	sessions := New(s, 10*time.Second)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return base }
	require.NoError(t, sessions.Create(ctx, &Record{ConnectionID: "c1", UserID: "u1"}))

	mr.FastForward(8 * time.Second)
	sessions.now = func() time.Time { return base.Add(8 * time.Second) }

	rec, err := sessions.Touch(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, base.Add(8*time.Second), rec.LastActive)
	assert.Equal(t, base, rec.ConnectedAt)
	assert.Equal(t, 10*time.Second, mr.TTL("relay:session:c1"))

	mr.FastForward(9 * time.Second)
	ok, err := sessions.Exists(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, err = sessions.Touch(ctx, "c1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

type failingStore struct {
	store.Store
}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("%w: timeout", store.ErrUnavailable)
}

func TestStoreErrorIsNotNotFound(t *testing.T) {
	_, err := New(failingStore{}, 0).Get(context.Background(), "c1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}
