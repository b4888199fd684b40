package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/errors"
)

const testYAML = `
server:
  addr: ":9090"
log:
  level: debug
gateway:
  allowed_origins:
    - https://app.example.com
  session_ttl: 10m
  ping_interval: 5s
  pong_timeout: 15s
ratelimit:
  classes:
    messages:
      max: 3
      window: 2s
room:
  max_size: 2
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "relay.yaml", testYAML)

	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	assert.Equal(t, ":9090", c.GetString("server.addr"))
	assert.Equal(t, 2, c.GetInt("room.max_size"))
	assert.Equal(t, 10*time.Minute, c.GetDuration("gateway.session_ttl"))
	assert.Equal(t, []string{"https://app.example.com"}, c.GetStringSlice("gateway.allowed_origins"))
	assert.Equal(t, cfgPath, c.ConfigFileUsed())
}

func TestLoadWithNameAndPaths(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "relay.yaml", testYAML)

	c := New(
		WithConfigName("relay"),
		WithConfigType("yaml"),
		WithConfigPaths(dir),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, "debug", c.GetString("log.level"))
}

func TestConfigFileNotFound(t *testing.T) {
	c := New(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	err := c.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestOptionalConfigFile(t *testing.T) {
	c := New(
		WithConfigName("relay"),
		WithConfigPaths(t.TempDir()),
		WithOptional(true),
		WithDefaults(map[string]any{"server.addr": ":7000"}),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, ":7000", c.GetString("server.addr"))
	assert.False(t, c.Watching())
}

func TestGenericGet(t *testing.T) {
	c := New()
	c.Set("gateway.default_room", "lobby")

	assert.Equal(t, "lobby", Get[string](c, "gateway.default_room"))
	assert.Equal(t, 0, Get[int](c, "gateway.default_room"))
	assert.True(t, c.IsSet("gateway.default_room"))
	assert.False(t, c.IsSet("gateway.nothing"))
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	s, c, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, "memory", s.Store.Driver)
	assert.Equal(t, "relay:", s.Store.KeyPrefix)
	assert.Equal(t, time.Hour, s.Gateway.SessionTTL)
	assert.Equal(t, "button_counter_room", s.Gateway.DefaultRoom)
	assert.Equal(t, 1000, s.Validator.MaxMessageLength)
	assert.Equal(t, 50, s.Validator.MaxRoomIDLength)
	require.Contains(t, s.RateLimit.Classes, "messages")
	assert.Equal(t, int64(30), s.RateLimit.Classes["messages"].Max)
	assert.Equal(t, time.Minute, s.RateLimit.Classes["connections"].Window)
}

func TestLoadSettingsFromFile(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "relay.yaml", testYAML)

	s, _, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, ":9090", s.Server.Addr)
	assert.Equal(t, 2, s.Room.MaxSize)
	assert.Equal(t, int64(3), s.RateLimit.Classes["messages"].Max)
	assert.Equal(t, 2*time.Second, s.RateLimit.Classes["messages"].Window)
	// 未覆盖的类别保留默认值
	assert.Equal(t, int64(10), s.RateLimit.Classes["connections"].Max)
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELAY_AUTH_SECRET", "from-env")
	t.Setenv("RELAY_STORE_DRIVER", "redis")

	s, _, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Auth.Secret)
	assert.Equal(t, "redis", s.Store.Driver)
}

func TestSettingsValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"unknown store", "store.driver", "etcd"},
		{"pong before ping", "gateway.pong_timeout", "1s"},
		{"zero room size", "room.max_size", 0},
		{"unknown broker", "broker.driver", "nats"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(WithDefaults(Defaults()), WithConfigName("relay"), WithConfigPaths("."), WithOptional(true))
			require.NoError(t, c.Load())
			c.Set(tt.key, tt.value)

			_, err := c.Settings()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigInvalid))
		})
	}
}

func TestWatchOnChange(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "relay.yaml", testYAML)

	var changed atomic.Int32
	c := New(
		WithConfigFile(cfgPath),
		WithAutoWatch(true),
		WithOnChange(func() { changed.Add(1) }),
	)
	require.NoError(t, c.Load())
	defer c.Close()
	assert.True(t, c.Watching())

	require.NoError(t, os.WriteFile(cfgPath, []byte(testYAML+"\ntracing:\n  enabled: true\n"), 0644))

	assert.Eventually(t, func() bool { return changed.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool { return c.GetBool("tracing.enabled") }, 3*time.Second, 50*time.Millisecond)

	c.StopWatch()
	assert.False(t, c.Watching())
}
