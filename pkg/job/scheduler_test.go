package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	relayerrors "github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

func nop(context.Context) error { return nil }

func TestAddValidation(t *testing.T) {
	s := New()

	tests := []struct {
		name string
		job  Job
		want error
	}{
		{"missing name", Job{Spec: "@every 1s", Run: nop}, ErrInvalidJob},
		{"missing run", Job{Name: "a", Spec: "@every 1s"}, ErrInvalidJob},
		{"bad spec", Job{Name: "a", Spec: "every second", Run: nop}, ErrInvalidJob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(tt.job)
			require.Error(t, err)
			assert.True(t, relayerrors.Is(err, tt.want))
		})
	}

	require.NoError(t, s.Add(Job{Name: "gc", Spec: "*/10 * * * * *", Run: nop}))
	require.NoError(t, s.Add(Job{Name: "stats", Spec: "0 * * * *", Run: nop}))
	err := s.Add(Job{Name: "gc", Spec: "@every 1m", Run: nop})
	assert.True(t, relayerrors.Is(err, ErrJobExists))

	assert.Equal(t, []string{"gc", "stats"}, s.Names())
	assert.True(t, s.Remove("stats"))
	assert.False(t, s.Remove("stats"))
	assert.Equal(t, []string{"gc"}, s.Names())
}

func TestTrigger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(WithLogger(logger.FromZap(zap.New(core))))

	boom := errors.New("store down")
	calls := 0
	require.NoError(t, s.Add(Job{Name: "health", Spec: "@every 1h", Run: func(context.Context) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}}))

	ctx := context.Background()
	require.NoError(t, s.Trigger(ctx, "health"))
	assert.ErrorIs(t, s.Trigger(ctx, "health"), boom)

	st, ok := s.Stats("health")
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Runs)
	assert.Equal(t, int64(1), st.Failures)
	assert.Equal(t, "store down", st.LastError)
	assert.Equal(t, 1, logs.FilterMessage("job failed").Len())

	err := s.Trigger(ctx, "missing")
	assert.True(t, relayerrors.Is(err, ErrJobNotFound))
	_, ok = s.Stats("missing")
	assert.False(t, ok)
}

func TestTriggerPanic(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(Job{Name: "bad", Spec: "@every 1h", Run: func(context.Context) error {
		panic("nil room")
	}}))

	err := s.Trigger(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil room")

	st, _ := s.Stats("bad")
	assert.Equal(t, int64(1), st.Failures)
}

func TestTimeout(t *testing.T) {
	s := New(WithTimeout(20 * time.Millisecond))
	require.NoError(t, s.Add(Job{Name: "slow", Spec: "@every 1h", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	assert.ErrorIs(t, s.Trigger(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestRunSchedulesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New()
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "* * * * * *", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	st, ok := s.Stats("tick")
	require.True(t, ok)
	assert.False(t, st.Next.IsZero())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
