// Package metrics provides Prometheus metrics for the FSM runtime.
// Exports transition, journal, effects engine, and registry metrics, plus
// the HTTP metrics for the admin surface in cmd/statecraftd.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for the runtime.
type Metrics struct {
	// HTTP Metrics (admin surface)
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Transition engine
	TransitionsTotal    *prometheus.CounterVec
	TransitionDuration  *prometheus.HistogramVec
	InvalidTransitions  *prometheus.CounterVec
	ValidationFailures  *prometheus.CounterVec
	PluginFailuresTotal *prometheus.CounterVec
	HookPanicsTotal     *prometheus.CounterVec

	// Journal
	JournalAppendsTotal   *prometheus.CounterVec
	JournalAppendDuration *prometheus.HistogramVec
	JournalAppendErrors   *prometheus.CounterVec
	JournalMirrorLag      *prometheus.GaugeVec

	// Effects engine
	EffectsStartedTotal   *prometheus.CounterVec
	EffectsCompletedTotal *prometheus.CounterVec
	EffectsFailedTotal    *prometheus.CounterVec
	EffectsCancelledTotal *prometheus.CounterVec
	EffectsTimeoutTotal   *prometheus.CounterVec
	EffectsRetryTotal     *prometheus.CounterVec
	EffectDuration        *prometheus.HistogramVec
	CircuitBreakerState   *prometheus.GaugeVec
	EffectPoolQueueDepth  *prometheus.GaugeVec

	// Registry / manager
	InstancesRegistered  prometheus.Counter
	InstancesActive      prometheus.Gauge
	InstancesByKind      *prometheus.GaugeVec
	BroadcastsTotal      *prometheus.CounterVec
	BroadcastSubscribers *prometheus.HistogramVec

	// Pub/sub
	PubSubPublishedTotal *prometheus.CounterVec
	PubSubDeliveredTotal *prometheus.CounterVec

	// System
	BuildInfo    *prometheus.GaugeVec
	StartupTime  prometheus.Gauge
	GoroutineNum prometheus.Gauge
}

// Get returns the singleton Metrics instance, registering collectors on
// first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics creates and registers all Prometheus metrics.
func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of admin HTTP requests by route, method, and status code",
		},
		[]string{"route", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "statecraft",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of admin HTTP requests being processed",
		},
	)

	m.TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "fsm",
			Name:      "transitions_total",
			Help:      "Total successful transitions by kind, from-state, to-state, and event",
		},
		[]string{"kind", "from", "to", "event"},
	)

	m.TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "statecraft",
			Subsystem: "fsm",
			Name:      "transition_duration_microseconds",
			Help:      "Wall-clock duration of a single navigate() call",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 16),
		},
		[]string{"kind"},
	)

	m.InvalidTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "fsm",
			Name:      "invalid_transitions_total",
			Help:      "Rejected navigate() calls with no matching (state, event) pair",
		},
		[]string{"kind", "from", "event"},
	)

	m.ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "fsm",
			Name:      "validation_failures_total",
			Help:      "navigate() calls aborted by a user validator",
		},
		[]string{"kind"},
	)

	m.PluginFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "fsm",
			Name:      "plugin_failures_total",
			Help:      "navigate() calls aborted by a plugin hook",
		},
		[]string{"kind", "plugin"},
	)

	m.HookPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "fsm",
			Name:      "hook_panics_total",
			Help:      "Recovered panics from enter/exit hooks",
		},
		[]string{"kind", "state", "direction"},
	)

	m.JournalAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "journal",
			Name:      "appends_total",
			Help:      "Journal records appended, by record type",
		},
		[]string{"kind", "type"},
	)

	m.JournalAppendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "statecraft",
			Subsystem: "journal",
			Name:      "append_duration_microseconds",
			Help:      "Duration of a single journal append",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 14),
		},
		[]string{"kind"},
	)

	m.JournalAppendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "journal",
			Name:      "append_errors_total",
			Help:      "Durability failures; the in-memory transition still succeeded",
		},
		[]string{"kind"},
	)

	m.JournalMirrorLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "journal",
			Name:      "mirror_lag_records",
			Help:      "Records pending in the best-effort SQL mirror queue",
		},
		[]string{"kind"},
	)

	m.EffectsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "started_total",
			Help:      "Effect tree executions started, by leaf/composite kind",
		},
		[]string{"node_kind"},
	)

	m.EffectsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "completed_total",
			Help:      "Effect tree executions that completed successfully",
		},
		[]string{"node_kind"},
	)

	m.EffectsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "failed_total",
			Help:      "Effect tree executions that returned an error, by error tag",
		},
		[]string{"node_kind", "tag"},
	)

	m.EffectsCancelledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "cancelled_total",
			Help:      "Effect executions cancelled on state exit",
		},
		[]string{"node_kind"},
	)

	m.EffectsTimeoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "timeout_total",
			Help:      "timeout() nodes that elapsed before their child finished",
		},
		[]string{"node_kind"},
	)

	m.EffectsRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "retry_total",
			Help:      "retry() re-attempts after a failure, not counting the first attempt",
		},
		[]string{"node_kind"},
	)

	m.EffectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "duration_microseconds",
			Help:      "Duration of a single effect node execution",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 18),
		},
		[]string{"node_kind"},
	)

	m.CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "circuit_breaker_state",
			Help:      "0=closed 1=half_open 2=open, by breaker key",
		},
		[]string{"key"},
	)

	m.EffectPoolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "effects",
			Name:      "pool_queue_depth",
			Help:      "Pending effect tasks per complexity-class worker pool",
		},
		[]string{"complexity_class"},
	)

	m.InstancesRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "registry",
			Name:      "instances_registered_total",
			Help:      "Instances registered since process start",
		},
	)

	m.InstancesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "registry",
			Name:      "instances_active",
			Help:      "Instances currently registered",
		},
	)

	m.InstancesByKind = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "registry",
			Name:      "instances_by_kind",
			Help:      "Currently registered instances, by kind",
		},
		[]string{"kind"},
	)

	m.BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "registry",
			Name:      "broadcasts_total",
			Help:      "State-change broadcasts issued by navigate, by event type",
		},
		[]string{"event_type"},
	)

	m.BroadcastSubscribers = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "statecraft",
			Subsystem: "registry",
			Name:      "broadcast_subscribers",
			Help:      "Number of explicit subscriber ids notified per broadcast",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"event_type"},
	)

	m.PubSubPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "pubsub",
			Name:      "published_total",
			Help:      "Messages published to the tenant bus",
		},
		[]string{"tenant_id", "transport"},
	)

	m.PubSubDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "statecraft",
			Subsystem: "pubsub",
			Name:      "delivered_total",
			Help:      "Messages delivered to subscribers",
		},
		[]string{"tenant_id", "transport"},
	)

	m.BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "build",
			Name:      "info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_date"},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "server",
			Name:      "startup_timestamp",
			Help:      "Server startup timestamp",
		},
	)

	m.GoroutineNum = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "statecraft",
			Subsystem: "server",
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an admin HTTP request metric.
func (m *Metrics) RecordHTTPRequest(route, method string, statusCode int, duration time.Duration) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordTransition records a successful transition.
func (m *Metrics) RecordTransition(kind, from, to, event string, duration time.Duration) {
	m.TransitionsTotal.WithLabelValues(kind, from, to, event).Inc()
	m.TransitionDuration.WithLabelValues(kind).Observe(float64(duration.Microseconds()))
}

// RecordInvalidTransition records a rejected navigate() call.
func (m *Metrics) RecordInvalidTransition(kind, from, event string) {
	m.InvalidTransitions.WithLabelValues(kind, from, event).Inc()
}

// RecordJournalAppend records a single journal append.
func (m *Metrics) RecordJournalAppend(kind, recordType string, duration time.Duration, err error) {
	m.JournalAppendsTotal.WithLabelValues(kind, recordType).Inc()
	m.JournalAppendDuration.WithLabelValues(kind).Observe(float64(duration.Microseconds()))
	if err != nil {
		m.JournalAppendErrors.WithLabelValues(kind).Inc()
	}
}

// RecordEffect records the terminal outcome of one effect node execution.
func (m *Metrics) RecordEffect(nodeKind, outcome, tag string, duration time.Duration) {
	m.EffectDuration.WithLabelValues(nodeKind).Observe(float64(duration.Microseconds()))
	switch outcome {
	case "completed":
		m.EffectsCompletedTotal.WithLabelValues(nodeKind).Inc()
	case "failed":
		m.EffectsFailedTotal.WithLabelValues(nodeKind, tag).Inc()
	case "cancelled":
		m.EffectsCancelledTotal.WithLabelValues(nodeKind).Inc()
	case "timeout":
		m.EffectsTimeoutTotal.WithLabelValues(nodeKind).Inc()
	}
}

// SetCircuitBreakerState publishes a breaker's current state: 0=closed,
// 1=half_open, 2=open.
func (m *Metrics) SetCircuitBreakerState(key string, state int) {
	m.CircuitBreakerState.WithLabelValues(key).Set(float64(state))
}

// SetBuildInfo sets build information.
func (m *Metrics) SetBuildInfo(version, commit, buildDate string) {
	m.BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

// Helper function to convert status code to label.
func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
