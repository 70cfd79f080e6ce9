// Package telemetry implements the single pluggable sink described in
// spec §4.9: every component emits structured events on a well-known topic
// set, and emission never blocks the producer.
//
// Grounded on the teacher's internal/logging (zap global logger) and
// internal/metrics (promauto singleton) packages — a Sink is the seam where
// those two ambient concerns meet the FSM-specific event topics.
package telemetry

import "time"

// Well-known topics from spec §4.9 / §4.5.
const (
	TopicTransition     = "fsm.transition"
	TopicBroadcast      = "fsm.broadcast"
	TopicJournalAppend  = "fsm.journal.append"
	TopicEffectStarted  = "effect.started"
	TopicEffectComplete = "effect.completed"
	TopicEffectFailed   = "effect.failed"
	TopicEffectCancel   = "effect.cancelled"
	TopicEffectTimeout  = "effect.timeout"
	TopicEffectRetry    = "effect.retry"
	TopicEffectBreaker  = "effect.circuit_breaker"
	TopicEffectCompose  = "effect.composition"
)

// Fields is the structured payload attached to an emitted event.
type Fields map[string]any

// Sink consumes structured telemetry events. Implementations must not block
// the caller for any meaningful amount of time — emit asynchronously or keep
// the write cheap (a counter increment, a buffered log write).
type Sink interface {
	Emit(topic string, fields Fields)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(topic string, fields Fields)

func (f SinkFunc) Emit(topic string, fields Fields) { f(topic, fields) }

// Nop discards every event. Useful as a default when no sink is configured.
var Nop Sink = SinkFunc(func(string, Fields) {})

// Multi fans an event out to every sink in order. A panicking sink is
// recovered and swallowed so one bad sink cannot take down a transition.
type Multi struct {
	Sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{Sinks: sinks}
}

func (m *Multi) Emit(topic string, fields Fields) {
	for _, s := range m.Sinks {
		s := s
		func() {
			defer func() { _ = recover() }()
			s.Emit(topic, fields)
		}()
	}
}

// Duration is a small convenience for the very common "record how long this
// took" field, used throughout the transition and effect engines.
func Duration(since time.Time) int64 {
	return time.Since(since).Microseconds()
}
