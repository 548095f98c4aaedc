package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studyroom"

// Metrics holds the Prometheus collectors for the presence core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	transitions    *prometheus.CounterVec
	droppedEvents  *prometheus.CounterVec
	persistErrors  *prometheus.CounterVec
	reconciledRows prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Authenticated realtime connections currently open.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_transitions_total",
			Help:      "Room presence transitions by direction (joined, left).",
		}, []string{"direction"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Broadcast events dropped because a subscriber buffer was full.",
		}, []string{"event"}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Membership store failures by operation.",
		}, []string{"op"}),
		reconciledRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_memberships_total",
			Help:      "Open membership rows closed by the reconciler.",
		}),
	}
	reg.MustRegister(
		m.connections,
		m.transitions,
		m.droppedEvents,
		m.persistErrors,
		m.reconciledRows,
		collectors.NewGoCollector(),
	)
	return m
}

// RegisterPresence exposes gauges computed from fn on every scrape.
func (m *Metrics) RegisterPresence(fn func() (rooms, pairs int)) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_rooms",
			Help:      "Rooms with at least one present user.",
		}, func() float64 {
			rooms, _ := fn()
			return float64(rooms)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presence_pairs",
			Help:      "Present (room, user) pairs.",
		}, func() float64 {
			_, pairs := fn()
			return float64(pairs)
		}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened counts a connection the gateway started serving.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

// ConnectionClosed undoes ConnectionOpened once the connection is torn down.
func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// Joined counts a user becoming present in a room.
func (m *Metrics) Joined() {
	if m != nil {
		m.transitions.WithLabelValues("joined").Inc()
	}
}

// Left counts a user's last connection leaving a room.
func (m *Metrics) Left() {
	if m != nil {
		m.transitions.WithLabelValues("left").Inc()
	}
}

// EventDropped counts a broadcast event lost to a full subscriber buffer.
func (m *Metrics) EventDropped(event string) {
	if m != nil {
		m.droppedEvents.WithLabelValues(event).Inc()
	}
}

// PersistenceError counts a failed membership write or read, labelled by op.
func (m *Metrics) PersistenceError(op string) {
	if m != nil {
		m.persistErrors.WithLabelValues(op).Inc()
	}
}

// Reconciled adds n rows closed by the reconciler.
func (m *Metrics) Reconciled(n int) {
	if m != nil && n > 0 {
		m.reconciledRows.Add(float64(n))
	}
}
