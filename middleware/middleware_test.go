package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/ratelimit"
)

func newEngine(middlewares ...relay.HandlerFunc) *relay.Engine {
	e := relay.New(relay.WithMode(gin.TestMode), relay.WithBanner(false))
	e.Use(middlewares...)
	rg := e.RouterGroup()
	rg.GET("/ping", func(c *relay.Context) { c.Success("pong") })
	rg.GET("/boom", func(c *relay.Context) { c.Fail(http.StatusInternalServerError, "boom") })
	return e
}

func do(e *relay.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	e := newEngine(CORS(&CORSConfig{
		AllowOrigins:     []string{"https://app.example.com", "https://*.example.org"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
		AllowHeaders:     []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           time.Hour,
	}))

	tests := []struct {
		name   string
		method string
		origin string
		status int
		allow  string
	}{
		{"exact origin", http.MethodGet, "https://app.example.com", http.StatusOK, "https://app.example.com"},
		{"wildcard origin", http.MethodGet, "https://chat.example.org", http.StatusOK, "https://chat.example.org"},
		{"empty wildcard part", http.MethodGet, "https://.example.org", http.StatusOK, ""},
		{"unknown origin", http.MethodGet, "https://evil.test", http.StatusOK, ""},
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://app.example.com", http.StatusNoContent, "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := map[string]string{}
			if tt.origin != "" {
				h["Origin"] = tt.origin
			}
			w := do(e, tt.method, "/ping", h)
			assert.Equal(t, tt.status, w.Code)
			if tt.method == http.MethodOptions {
				assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
				assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
			}
			assert.Equal(t, tt.allow, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.allow != "" {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestCORSAllowAll(t *testing.T) {
	e := newEngine(CORS())
	w := do(e, http.MethodGet, "/ping", map[string]string{"Origin": "https://any.test"})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Vary"))
}

func TestCORSAllowOriginFunc(t *testing.T) {
	allowed := map[string]bool{"http://localhost:5000": true}
	e := newEngine(CORS(&CORSConfig{
		AllowOriginFunc: func(origin string) bool { return allowed[origin] },
	}))

	w := do(e, http.MethodGet, "/ping", map[string]string{"Origin": "http://localhost:5000"})
	assert.Equal(t, "http://localhost:5000", w.Header().Get("Access-Control-Allow-Origin"))

	// 白名单变化立即生效
	allowed["http://localhost:5000"] = false
	w = do(e, http.MethodGet, "/ping", map[string]string{"Origin": "http://localhost:5000"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSCredentialsWithWildcardPanics(t *testing.T) {
	assert.Panics(t, func() {
		CORS(&CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true})
	})
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.FromZap(zap.New(core))

	e := newEngine(
		func(c *relay.Context) {
			relay.SetContextTraceID(c, "trace-1")
			c.Next()
		},
		Logger(log, &LoggerConfig{ExcludePaths: []string{"/healthz"}}),
	)
	e.RouterGroup().GET("/healthz", func(c *relay.Context) { c.Success(nil) })

	do(e, http.MethodGet, "/ping", nil)
	do(e, http.MethodGet, "/boom", nil)
	do(e, http.MethodGet, "/healthz", nil)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/ping", fields["path"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.Equal(t, "trace-1", fields["trace_id"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestRateLimiter(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	limiter := ratelimit.NewLocal(1, 2, time.Minute)

	e := newEngine(RateLimiter(&RateLimiterConfig{
		Limiter:      limiter,
		ExcludePaths: []string{"/boom"},
		Logger:       logger.FromZap(zap.New(core)),
	}))

	var ip map[string]string
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", ip).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", ip).Code)

	w := do(e, http.MethodGet, "/ping", ip)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var resp relay.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrRateLimited.Code, resp.Code)
	assert.Equal(t, "Rate limit exceeded", resp.Message)
	assert.Equal(t, 1, logs.FilterMessage("http rate limit exceeded").Len())

	// 排除路径不消耗令牌
	assert.Equal(t, http.StatusInternalServerError, do(e, http.MethodGet, "/boom", ip).Code)
	assert.Equal(t, 1, limiter.Len())
}

func TestRateLimiterKeyFunc(t *testing.T) {
	e := newEngine(RateLimiter(&RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		KeyFunc:           func(c *relay.Context) string { return c.GetHeader("X-Client-ID") },
	}))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", map[string]string{"X-Client-ID": "a"}).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", map[string]string{"X-Client-ID": "b"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/ping", map[string]string{"X-Client-ID": "a"}).Code)
}

func TestTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(t.Context())
	})

	e := newEngine(Tracing(&TracingConfig{ExcludePaths: []string{"/boom"}}))

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	w := do(e, http.MethodGet, "/ping", map[string]string{"traceparent": parent})
	require.Equal(t, http.StatusOK, w.Code)

	var resp relay.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", resp.TraceID)
	assert.Contains(t, w.Header().Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")

	do(e, http.MethodGet, "/boom", nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /ping", spans[0].Name)
}
