// Package metrics exposes Prometheus collectors for sessions, messages,
// buffer pools and scheduler workers. A nil *Metrics is a valid no-op, so
// instrumented packages never need to check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "sessnet").
	Namespace string

	// Subsystem is the metrics subsystem, e.g. "server" or "client".
	Subsystem string

	// ConstLabels are added to all metrics.
	ConstLabels prometheus.Labels

	// Registry receives the collectors. Default: a fresh registry.
	Registry *prometheus.Registry
}

// Option configures metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = reg
	}
}

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsAccepted     prometheus.Counter
	sessionsRejected     prometheus.Counter
	sessionsDisconnected *prometheus.CounterVec
	activeSessions       prometheus.Gauge
	messages             *prometheus.CounterVec
	datagramsDropped     *prometheus.CounterVec
	poolExhausted        *prometheus.CounterVec
	poolInUse            *prometheus.GaugeVec
	rtt                  prometheus.Histogram
	reconnects           prometheus.Counter
	workerExecute        prometheus.Counter
	workerSleep          prometheus.Counter
}

// New creates and registers all collectors.
func New(opts ...Option) *Metrics {
	cfg := Config{Namespace: "sessnet"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}, labels)
	}

	return &Metrics{
		registry: cfg.Registry,

		sessionsAccepted:     counter("sessions_accepted_total", "Sessions accepted or connected"),
		sessionsRejected:     counter("sessions_rejected_total", "Connections rejected because all session slots were in use"),
		sessionsDisconnected: counterVec("sessions_disconnected_total", "Sessions closed, by reason", "reason"),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of active sessions",
			ConstLabels: cfg.ConstLabels,
		}),
		messages:         counterVec("messages_total", "Messages by channel (stream|datagram) and direction (in|out)", "channel", "direction"),
		datagramsDropped: counterVec("datagrams_dropped_total", "Datagrams dropped, by reason", "reason"),
		poolExhausted:    counterVec("pool_exhausted_total", "Failed pops from an empty buffer pool", "pool"),
		poolInUse: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "pool_in_use",
			Help:        "Buffers currently taken from a pool",
			ConstLabels: cfg.ConstLabels,
		}, []string{"pool"}),
		rtt: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "rtt_seconds",
			Help:        "Stream round trip time measured by ping/pong",
			ConstLabels: cfg.ConstLabels,
			Buckets:     []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		reconnects:    counter("reconnects_total", "Reconnect attempts"),
		workerExecute: counter("worker_execute_seconds_total", "Time workers spent executing tasks"),
		workerSleep:   counter("worker_sleep_seconds_total", "Time workers spent sleeping"),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler exposing the collectors.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionAccepted records a new session.
func (m *Metrics) SessionAccepted() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
	m.activeSessions.Inc()
}

// SessionRejected records a connection turned away for lack of free slots.
func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.sessionsRejected.Inc()
}

// SessionDisconnected records a closed session.
func (m *Metrics) SessionDisconnected(reason string) {
	if m == nil {
		return
	}
	m.sessionsDisconnected.WithLabelValues(reason).Inc()
	m.activeSessions.Dec()
}

// Message records a message on a channel in a direction.
func (m *Metrics) Message(channel, direction string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channel, direction).Inc()
}

// DatagramDropped records a dropped datagram.
func (m *Metrics) DatagramDropped(reason string) {
	if m == nil {
		return
	}
	m.datagramsDropped.WithLabelValues(reason).Inc()
}

// PoolExhausted records a failed pop from the named pool.
func (m *Metrics) PoolExhausted(pool string) {
	if m == nil {
		return
	}
	m.poolExhausted.WithLabelValues(pool).Inc()
}

// PoolInUse sets the number of taken buffers of the named pool.
func (m *Metrics) PoolInUse(pool string, n int) {
	if m == nil {
		return
	}
	m.poolInUse.WithLabelValues(pool).Set(float64(n))
}

// RTT records a round trip time sample.
func (m *Metrics) RTT(d time.Duration) {
	if m == nil {
		return
	}
	m.rtt.Observe(d.Seconds())
}

// Reconnect records a reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// WorkerExecute adds time spent executing tasks.
func (m *Metrics) WorkerExecute(d time.Duration) {
	if m == nil {
		return
	}
	m.workerExecute.Add(d.Seconds())
}

// WorkerSleep adds time spent sleeping.
func (m *Metrics) WorkerSleep(d time.Duration) {
	if m == nil {
		return
	}
	m.workerSleep.Add(d.Seconds())
}
