package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/session"
	"github.com/tokmz/relay/pkg/store"
)

type wireReply struct {
	Event     string         `json:"event"`
	RequestID string         `json:"request_id"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

func serve(t *testing.T, e *env) string {
	t.Helper()
	srv := httptest.NewServer(e.gw)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, base string, query url.Values, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	c, resp, err := websocket.DefaultDialer.Dial(base+"/?"+query.Encode(), header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readReply(t *testing.T, c *websocket.Conn) wireReply {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var r wireReply
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

// readUntilClose 读到关闭帧为止，返回关闭码与原因
func readUntilClose(t *testing.T, c *websocket.Conn) (int, string) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code, ce.Text
	}
}

func (e *env) dialUser(t *testing.T, base, userID string) (*websocket.Conn, string) {
	t.Helper()
	c := dial(t, base, url.Values{
		"token":     {e.token(t, userID, auth.KindWebsocket)},
		"client_id": {"client-" + userID},
	}, testOrigin)
	r := readReply(t, c)
	require.Equal(t, "connect", r.Event)
	require.Equal(t, StatusConnected, r.Data["status"])
	return c, r.Data["session_id"].(string)
}

func send(t *testing.T, c *websocket.Conn, event, requestID string, data any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(map[string]any{"event": event, "request_id": requestID, "data": data}))
}

func TestTransportRoundTrip(t *testing.T) {
	e := newEnv(t, nil)
	base := serve(t, e)
	c, id := e.dialUser(t, base, "alice")

	send(t, c, "join", "r1", map[string]any{"room_id": "lobby"})
	r := readReply(t, c)
	assert.Equal(t, "join", r.Event)
	assert.Equal(t, "r1", r.RequestID)
	assert.Equal(t, StatusJoined, r.Data["status"])
	assert.NotZero(t, r.Timestamp)

	send(t, c, "ping", "r2", nil)
	r = readReply(t, c)
	assert.Equal(t, StatusPong, r.Data["status"])

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	r = readReply(t, c)
	assert.Equal(t, "Invalid message format", r.Data["message"])

	send(t, c, "teleport", "r3", map[string]any{})
	r = readReply(t, c)
	assert.Equal(t, "Unknown event: teleport", r.Data["message"])

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return e.gw.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	ok, err := e.gw.Sessions().Exists(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), e.size(t, "lobby"))
}

func TestTransportBroadcast(t *testing.T) {
	e := newEnv(t, nil)
	base := serve(t, e)
	alice, _ := e.dialUser(t, base, "alice")
	bob, _ := e.dialUser(t, base, "bob")

	for _, c := range []*websocket.Conn{alice, bob} {
		send(t, c, "join", "", map[string]any{"room_id": "lobby"})
		require.Equal(t, StatusJoined, readReply(t, c).Data["status"])
	}

	send(t, alice, "message", "m1", map[string]any{"room_id": "lobby", "message": "<i>hi</i>"})

	got := readReply(t, bob)
	assert.Equal(t, "message", got.Event)
	assert.Equal(t, "hi", got.Data["message"])
	assert.Equal(t, "alice", got.Data["user_id"])
}

func TestTransportTokenFromHeader(t *testing.T) {
	e := newEnv(t, nil)
	base := serve(t, e)

	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("Authorization", "Bearer "+e.token(t, "u1", auth.KindWebsocket))
	header.Set("X-Client-ID", "header-client")
	c, resp, err := websocket.DefaultDialer.Dial(base, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer c.Close()

	r := readReply(t, c)
	require.Equal(t, StatusConnected, r.Data["status"])

	rec, err := e.gw.Sessions().Get(context.Background(), r.Data["session_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "header-client", rec.ClientID)
}

func TestTransportRejectsWithoutToken(t *testing.T) {
	e := newEnv(t, nil)
	base := serve(t, e)
	c := dial(t, base, url.Values{}, testOrigin)

	r := readReply(t, c)
	assert.Equal(t, StatusError, r.Data["status"])
	assert.Equal(t, "Authentication required", r.Data["message"])

	code, text := readUntilClose(t, c)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, "Authentication required", text)
	assert.Equal(t, 0, e.sessionCount(t))
}

func TestTransportRejectsOrigin(t *testing.T) {
	e := newEnv(t, nil)
	base := serve(t, e)
	c := dial(t, base, url.Values{"token": {e.token(t, "u1", auth.KindWebsocket)}}, "https://evil.example")

	assert.Equal(t, "Invalid origin", readReply(t, c).Data["message"])
	code, _ := readUntilClose(t, c)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
}

func TestTransportSessionExpiry(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	base := serve(t, e)
	c, id := e.dialUser(t, base, "u1")

	require.NoError(t, e.st.Delete(ctx, session.Key(id)))
	send(t, c, "get_rooms", "r1", nil)

	r := readReply(t, c)
	assert.Equal(t, "r1", r.RequestID)
	assert.Equal(t, "Session expired", r.Data["message"])

	code, _ := readUntilClose(t, c)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Eventually(t, func() bool { return e.gw.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTransportFrameFlood(t *testing.T) {
	e := newEnv(t, func(store.Store) []Option { return []Option{WithFrameLimit(1, 2)} })
	base := serve(t, e)
	c, _ := e.dialUser(t, base, "u1")

	for i := range 5 {
		if err := c.WriteJSON(map[string]any{"event": "ping", "request_id": string(rune('a' + i))}); err != nil {
			break
		}
	}
	code, text := readUntilClose(t, c)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, "Too many messages", text)
}

func TestTransportInvalidFrameLimit(t *testing.T) {
	e := newEnv(t, func(store.Store) []Option {
		return []Option{func(o *Options) { o.MaxInvalidFrames = 1 }}
	})
	base := serve(t, e)
	c, _ := e.dialUser(t, base, "u1")

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))
	assert.Equal(t, "Invalid message format", readReply(t, c).Data["message"])

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"event":"x","data":[1]}`)))
	code, _ := readUntilClose(t, c)
	assert.Equal(t, websocket.CloseUnsupportedData, code)
}

func TestTransportShutdown(t *testing.T) {
	e := newEnv(t, nil)
	base := serve(t, e)
	c, _ := e.dialUser(t, base, "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.gw.Shutdown(ctx))

	code, text := readUntilClose(t, c)
	assert.Equal(t, websocket.CloseGoingAway, code)
	assert.Equal(t, "Server shutting down", text)
	assert.Equal(t, 0, e.sessionCount(t))
}

func TestConnectRequestExtraction(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc&client_id=cid", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("Origin", testOrigin)

	req := connectRequest(r)
	assert.Equal(t, ConnectRequest{Origin: testOrigin, ClientID: "cid", Token: "abc", RemoteAddr: "10.0.0.1"}, req)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer xyz")
	assert.Equal(t, "xyz", connectRequest(r).Token)
}
