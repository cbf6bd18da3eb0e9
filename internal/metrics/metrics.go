// Package metrics exposes client counters on a private prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slackline"

// Metrics holds the collectors of one client instance.
type Metrics struct {
	registry *prometheus.Registry

	events            *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	actionDuration    *prometheus.HistogramVec
	actionFailures    *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	connectionState   prometheus.Gauge
	cacheWrites       prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Stream events decoded, by event type.",
		}, []string{"type"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_decode_errors_total",
			Help:      "Stream frames dropped because they could not be decoded.",
		}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Latency of action calls, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_failures_total",
			Help:      "Failed action calls, by method and error kind.",
		}, []string{"method", "kind"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Stream connection attempts made by the supervisor.",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting).",
		}),
		cacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Messages written to the on-disk cache.",
		}),
	}
	m.registry.MustRegister(
		m.events,
		m.decodeErrors,
		m.actionDuration,
		m.actionFailures,
		m.reconnectAttempts,
		m.connectionState,
		m.cacheWrites,
	)
	return m
}

// Registry returns the registry holding the client's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// ObserveAction records one action call. kind is empty on success.
func (m *Metrics) ObserveAction(method string, elapsed time.Duration, kind string) {
	if m == nil {
		return
	}
	m.actionDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if kind != "" {
		m.actionFailures.WithLabelValues(method, kind).Inc()
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

// ObserveMailbox exports the depth of an actor mailbox, read on every
// scrape. Registering the same name twice is a no-op.
func (m *Metrics) ObserveMailbox(name string, depth func() int) {
	if m == nil {
		return
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "mailbox_depth",
		Help:        "Messages waiting in an actor mailbox.",
		ConstLabels: prometheus.Labels{"actor": name},
	}, func() float64 { return float64(depth()) })
	if err := m.registry.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			panic(err)
		}
	}
}

func (m *Metrics) CacheWrites(n int) {
	if m == nil {
		return
	}
	m.cacheWrites.Add(float64(n))
}
