package telemetry

import (
	"time"

	"go.uber.org/zap"

	"statecraft/internal/metrics"
)

// ZapSink writes every event as a structured log line through the shared
// zap logger. Field values are passed through as zap.Any, so callers can
// hand Fields any JSON-shaped value without needing to know zap's types.
type ZapSink struct {
	Logger *zap.Logger
}

// NewZapSink builds a ZapSink over the given logger. A nil logger falls
// back to zap.L(), the global logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.L()
	}
	return &ZapSink{Logger: logger}
}

func (z *ZapSink) Emit(topic string, fields Fields) {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("topic", topic))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	z.Logger.Info("telemetry", zf...)
}

// PrometheusSink maps well-known topics onto the runtime's Prometheus
// collectors. Topics it does not recognize are dropped; metrics are a
// sampled projection of the event stream, not a full record of it — that's
// what the journal and ZapSink are for.
type PrometheusSink struct {
	m *metrics.Metrics
}

// NewPrometheusSink builds a PrometheusSink over the process-wide metrics
// singleton.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{m: metrics.Get()}
}

func (p *PrometheusSink) Emit(topic string, fields Fields) {
	switch topic {
	case TopicTransition:
		kind, _ := fields["kind"].(string)
		from, _ := fields["from"].(string)
		to, _ := fields["to"].(string)
		event, _ := fields["event"].(string)
		dur := durationField(fields)
		p.m.RecordTransition(kind, from, to, event, dur)

	case TopicJournalAppend:
		kind, _ := fields["kind"].(string)
		recordType, _ := fields["record_type"].(string)
		var err error
		if e, ok := fields["error"].(error); ok {
			err = e
		}
		p.m.RecordJournalAppend(kind, recordType, durationField(fields), err)

	case TopicEffectStarted:
		nodeKind, _ := fields["node_kind"].(string)
		p.m.EffectsStartedTotal.WithLabelValues(nodeKind).Inc()

	case TopicEffectComplete:
		nodeKind, _ := fields["node_kind"].(string)
		p.m.RecordEffect(nodeKind, "completed", "", durationField(fields))

	case TopicEffectFailed:
		nodeKind, _ := fields["node_kind"].(string)
		tag, _ := fields["tag"].(string)
		p.m.RecordEffect(nodeKind, "failed", tag, durationField(fields))

	case TopicEffectCancel:
		nodeKind, _ := fields["node_kind"].(string)
		p.m.RecordEffect(nodeKind, "cancelled", "", durationField(fields))

	case TopicEffectTimeout:
		nodeKind, _ := fields["node_kind"].(string)
		p.m.RecordEffect(nodeKind, "timeout", "", durationField(fields))

	case TopicEffectRetry:
		nodeKind, _ := fields["node_kind"].(string)
		p.m.EffectsRetryTotal.WithLabelValues(nodeKind).Inc()

	case TopicEffectBreaker:
		key, _ := fields["key"].(string)
		state, _ := fields["state"].(int)
		p.m.SetCircuitBreakerState(key, state)

	case TopicBroadcast:
		eventType, _ := fields["event_type"].(string)
		subscribers, _ := fields["subscriber_count"].(int)
		p.m.BroadcastsTotal.WithLabelValues(eventType).Inc()
		p.m.BroadcastSubscribers.WithLabelValues(eventType).Observe(float64(subscribers))
	}
}

func durationField(fields Fields) time.Duration {
	switch v := fields["duration_us"].(type) {
	case int64:
		return time.Duration(v) * time.Microsecond
	case int:
		return time.Duration(v) * time.Microsecond
	default:
		return 0
	}
}

// Default builds the standard sink stack: structured logs plus Prometheus
// counters, fanned out in order through Multi so a panic in one sink does
// not stop the other.
func Default(logger *zap.Logger) Sink {
	return NewMulti(NewZapSink(logger), NewPrometheusSink())
}
