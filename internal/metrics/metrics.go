// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "unimate_gateway"

// latencyBuckets covers fast JSON replies up to slow backend pages.
var latencyBuckets = prometheus.ExponentialBuckets(0.005, 2.5, 10)

// Metrics holds the gateway collectors on a private registry. A nil *Metrics
// is valid and records nothing, so components take it unconditionally.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamFailures  *prometheus.CounterVec

	WebSocketSessions prometheus.Gauge
}

// New builds a Metrics with runtime collectors and every gateway series registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	inbound := []string{"method", "status_code", "path_prefix"}
	return &Metrics{
		Registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Inbound requests from kiosk clients.",
		}, inbound),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Inbound request latency. Websocket sessions are excluded.",
			Buckets: latencyBuckets,
		}, inbound),
		RequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_in_flight",
			Help: "Inbound requests currently being served.",
		}),

		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "request_duration_seconds",
			Help:    "Backend call latency, failed calls included.",
			Buckets: latencyBuckets,
		}, []string{"method"}),
		UpstreamResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "responses_total",
			Help: "Backend replies by method and status code.",
		}, []string{"method", "status_code"}),
		UpstreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "failures_total",
			Help: "Forwards that produced no relayable reply, by kind.",
		}, []string{"kind"}),

		WebSocketSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "sessions",
			Help: "Websocket sessions currently relayed.",
		}),
	}
}

// ObserveUpstream records one backend call. status is 0 when no reply arrived.
func (m *Metrics) ObserveUpstream(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	method = NormalizeMethod(method)
	m.UpstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if status != 0 {
		m.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
}

// UpstreamFailed counts a forward that failed with the given kind.
func (m *Metrics) UpstreamFailed(kind string) {
	if m == nil {
		return
	}
	m.UpstreamFailures.WithLabelValues(kind).Inc()
}

// SessionOpened marks a relayed websocket session and returns its closer.
func (m *Metrics) SessionOpened() (closed func()) {
	if m == nil {
		return func() {}
	}
	m.WebSocketSessions.Inc()
	return m.WebSocketSessions.Dec
}

// NormalizeMethod maps non-standard methods to "other" to bound label cardinality.
func NormalizeMethod(method string) string {
	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		return method
	default:
		return "other"
	}
}

// NormalizePath maps a request path to the route group serving it.
// Static files and unknown paths fall into "other".
func NormalizePath(path string) string {
	for _, group := range []string{"/api", "/ws", "/healthz", "/proxy/status", "/proxy/site", "/metrics"} {
		rest, ok := strings.CutPrefix(path, group)
		if ok && (rest == "" || rest[0] == '/' || rest[0] == '?') {
			return group
		}
	}
	return "other"
}
