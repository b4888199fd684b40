// Package metrics 网关的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Collector 实现 ws.Metrics，指标注册在独立的 Registry 上
type Collector struct {
	registry *prometheus.Registry

	active        prometheus.Gauge
	accepted      prometheus.Counter
	rejected      *prometheus.CounterVec
	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	rooms         prometheus.Gauge
	dropped       prometheus.Counter
	invalidFrames prometheus.Counter
	storeErrors   *prometheus.CounterVec
}

// New 创建指标收集器，同时注册 Go 运行时与进程指标
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "The current number of active WebSocket connections.",
		}),
		accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_connections_total",
			Help:      "The total number of WebSocket connections accepted.",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_connections_rejected_total",
			Help:      "The total number of rejected connection attempts.",
		}, []string{"reason"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_total",
			Help:      "The total number of dispatched events.",
		}, []string{"event", "status"}),
		eventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ws_event_duration_seconds",
			Help:      "Event dispatch latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"event"}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "The number of rooms with members on this instance.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_dropped_total",
			Help:      "Outbound frames dropped because a peer was closed or its queue was full.",
		}),
		invalidFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_invalid_frames_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Shared store failures by operation.",
		}, []string{"op"}),
	}
}

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler 暴露指标的 HTTP 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ConnectionOpened() {
	c.accepted.Inc()
	c.active.Inc()
}

func (c *Collector) ConnectionClosed() { c.active.Dec() }

func (c *Collector) ConnectRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) EventDispatched(event, status string, d time.Duration) {
	c.events.WithLabelValues(event, status).Inc()
	c.eventDuration.WithLabelValues(event).Observe(d.Seconds())
}

func (c *Collector) SetRoomCount(n int) { c.rooms.Set(float64(n)) }

func (c *Collector) MessageDropped() { c.dropped.Inc() }

func (c *Collector) InvalidFrame() { c.invalidFrames.Inc() }

func (c *Collector) StoreError(op string) {
	c.storeErrors.WithLabelValues(op).Inc()
}
