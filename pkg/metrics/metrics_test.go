package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/store"
	"github.com/tokmz/relay/pkg/ws"
)

var _ ws.Metrics = (*Collector)(nil)

func TestCollector(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ConnectRejected("origin")
	c.EventDispatched("join", "joined", 3*time.Millisecond)
	c.EventDispatched("join", "error", time.Millisecond)
	c.SetRoomCount(4)
	c.MessageDropped()
	c.InvalidFrame()
	c.StoreError("session.touch")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.active))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.accepted))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.rejected.WithLabelValues("origin")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.events.WithLabelValues("join", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.eventDuration))
	assert.Equal(t, float64(4), testutil.ToFloat64(c.rooms))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.storeErrors.WithLabelValues("session.touch")))
}

func TestHandlerExposesGatewayMetrics(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(ctx, nil)
	require.NoError(t, err)
	defer st.Close()
	tokens, err := auth.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	c := New()
	gw, err := ws.New(st, tokens, ws.WithMetrics(c), ws.WithAllowedOrigins("https://app.example.com"))
	require.NoError(t, err)
	defer gw.Shutdown(ctx)

	out := gw.HandleConnect(ctx, ws.ConnectRequest{Origin: "https://evil.example"}, nil)
	require.False(t, out.OK())
	gw.Dispatch(ctx, "ping", "c1", nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `relay_ws_connections_rejected_total{reason="origin"} 1`)
	assert.Contains(t, string(body), `relay_ws_events_total{event="ping",status="pong"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
