package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "crmbus"

// Outcome labels.
const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
)

// Metrics holds the Prometheus collectors of the RPC client, the RPC server
// and the event bus.
type Metrics struct {
	mu sync.Mutex

	clientCalls   *prometheus.CounterVec
	clientLatency *prometheus.HistogramVec
	pendingCalls  prometheus.Gauge
	lateReplies   prometheus.Counter

	serverRequests *prometheus.CounterVec
	serverLatency  *prometheus.HistogramVec

	eventsEmitted    *prometheus.CounterVec
	eventsOverflowed *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventsRelayed    prometheus.Counter
	eventsConsumed   *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		labels,
	)
}

// NewMetrics creates the collectors. They are registered with registerer on
// Register; a nil registerer selects prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:    registerer,
		clientCalls:   newCounterVec("rpc", "client_calls_total", "RPC calls by destination, pattern and outcome", []string{"destination", "pattern", "outcome"}),
		clientLatency: newHistogramVec("rpc", "client_call_duration_seconds", "Time from publishing a request to resolving the call", []string{"destination", "pattern"}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "rpc",
			Name:      "pending_calls",
			Help:      "Calls waiting for a reply",
		}),
		lateReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rpc",
			Name:      "late_replies_total",
			Help:      "Replies that arrived after their call was resolved",
		}),
		serverRequests:   newCounterVec("rpc", "server_requests_total", "Requests served by pattern and outcome", []string{"pattern", "outcome"}),
		serverLatency:    newHistogramVec("rpc", "server_handler_duration_seconds", "Handler execution time", []string{"pattern"}),
		eventsEmitted:    newCounterVec("events", "emitted_total", "Events accepted by Emit", []string{"event_type"}),
		eventsOverflowed: newCounterVec("events", "overflowed_total", "Events parked in the outbox", []string{"event_type"}),
		eventsDropped:    newCounterVec("events", "dropped_total", "Events discarded without being published", []string{"event_type"}),
		eventsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "events",
			Name:      "relayed_total",
			Help:      "Parked events published by the outbox relay",
		}),
		eventsConsumed: newCounterVec("events", "consumed_total", "Events handled by subscriber and outcome", []string{"event_type", "subscriber", "outcome"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
// The recording helpers are no-ops on a nil *Metrics.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.clientCalls,
		m.clientLatency,
		m.pendingCalls,
		m.lateReplies,
		m.serverRequests,
		m.serverLatency,
		m.eventsEmitted,
		m.eventsOverflowed,
		m.eventsDropped,
		m.eventsRelayed,
		m.eventsConsumed,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) observeCall(destination, pattern, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.clientCalls.WithLabelValues(destination, pattern, outcome).Inc()
	m.clientLatency.WithLabelValues(destination, pattern).Observe(d.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pendingCalls.Set(float64(n))
}

func (m *Metrics) lateReply() {
	if m == nil {
		return
	}
	m.lateReplies.Inc()
}

func (m *Metrics) observeRequest(pattern, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.serverRequests.WithLabelValues(pattern, outcome).Inc()
	if d > 0 {
		m.serverLatency.WithLabelValues(pattern).Observe(d.Seconds())
	}
}

func (m *Metrics) eventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

func (m *Metrics) eventOverflowed(eventType string) {
	if m == nil {
		return
	}
	m.eventsOverflowed.WithLabelValues(eventType).Inc()
}

func (m *Metrics) eventDropped(eventType string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

func (m *Metrics) eventsRelayedAdd(n int) {
	if m == nil {
		return
	}
	m.eventsRelayed.Add(float64(n))
}

func (m *Metrics) eventConsumed(eventType, subscriber, outcome string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(eventType, subscriber, outcome).Inc()
}
