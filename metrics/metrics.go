// Package metrics exposes Prometheus instruments for the room server, the
// router and the orchestrator. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentroom"

// Metrics holds the instruments.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	joinedRooms   prometheus.Gauge
	messages      *prometheus.CounterVec
	turns         *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	deltas        prometheus.Counter
	toolRuns      *prometheus.CounterVec
	routing       *prometheus.CounterVec
	slowConsumers prometheus.Counter
	rateLimited   prometheus.Counter
	rpcErrors     *prometheus.CounterVec
}

// New registers the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open WebSocket connections.",
		}),
		joinedRooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "joined_rooms",
			Help: "Live (connection, room) registrations.",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Persisted messages by author kind.",
		}, []string{"author_kind"}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "turns_total",
			Help: "Finished agent turns by terminal state.",
		}, []string{"state"}),
		turnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "turn_duration_seconds",
			Help:    "Agent turn wall time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		deltas: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deltas_total",
			Help: "Streamed text deltas forwarded to clients.",
		}),
		toolRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_runs_total",
			Help: "Tool runs by final status.",
		}, []string{"status"}),
		routing: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "routing_selections_total",
			Help: "Agents selected by the router per rule.",
		}, []string{"rule"}),
		slowConsumers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_consumers_dropped_total",
			Help: "Connections closed because their send buffer was full.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_requests_total",
			Help: "Requests rejected by the per-connection limiter.",
		}),
		rpcErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rpc_errors_total",
			Help: "Error replies by JSON-RPC code.",
		}, []string{"code"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) RoomJoined() {
	if m != nil {
		m.joinedRooms.Inc()
	}
}

func (m *Metrics) RoomLeft() {
	if m != nil {
		m.joinedRooms.Dec()
	}
}

func (m *Metrics) MessagePersisted(authorKind string) {
	if m != nil {
		m.messages.WithLabelValues(authorKind).Inc()
	}
}

// TurnFinished records a turn's terminal state and duration.
func (m *Metrics) TurnFinished(state string, d time.Duration) {
	if m != nil {
		m.turns.WithLabelValues(state).Inc()
		m.turnDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) Delta() {
	if m != nil {
		m.deltas.Inc()
	}
}

func (m *Metrics) ToolRun(status string) {
	if m != nil {
		m.toolRuns.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Routed(rule string) {
	if m != nil {
		m.routing.WithLabelValues(rule).Inc()
	}
}

func (m *Metrics) SlowConsumerDropped() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) RPCError(code string) {
	if m != nil {
		m.rpcErrors.WithLabelValues(code).Inc()
	}
}
