package effects

import (
	"sync"
	"time"
)

// breakerState is the closed/open/half_open state machine for
// circuit_breaker() nodes, keyed by (fsm_id, BreakerKey): the node's
// BreakerKey names the guarded leaf, and the engine scopes it to the
// executing fsm_id.
//
// No circuit-breaker library appears anywhere in the retrieved example
// pack (the teacher's retry/rollback loop in guarantee.GuaranteeEngine gets
// closest, but it has no notion of a half-open probe or a failure
// threshold that trips independently of one call's outcome) — this state
// machine is hand-rolled stdlib, justified in DESIGN.md as a deliberate
// exception to "never fall back to the standard library".
type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type breakerState struct {
	mu               sync.Mutex
	current          state
	consecutiveFails int
	openedAt         time.Time
	threshold        int
	recoveryTimeout  time.Duration
}

// breakerRegistry holds one breakerState per key, created lazily.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breakerState
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*breakerState)}
}

func (r *breakerRegistry) get(key string, opts BreakerOpts) *breakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = &breakerState{
			threshold:       opts.FailureThreshold,
			recoveryTimeout: time.Duration(opts.RecoveryTimeoutMS) * time.Millisecond,
		}
		r.breakers[key] = b
	}
	return b
}

// allow reports whether a call should proceed, transitioning open → half_open
// once the recovery timeout has elapsed.
func (b *breakerState) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current {
	case stateOpen:
		if time.Since(b.openedAt) >= b.recoveryTimeout {
			b.current = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// recordSuccess closes the breaker after a passing call (including a
// passing half-open probe).
func (b *breakerState) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.current = stateClosed
}

// recordFailure increments the failure count, tripping the breaker open
// once the threshold is reached, or immediately re-opening a half-open
// probe that failed.
func (b *breakerState) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == stateHalfOpen {
		b.current = stateOpen
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.threshold {
		b.current = stateOpen
		b.openedAt = time.Now()
	}
}

// snapshot returns the current state as the int the telemetry/metrics
// layer expects: 0=closed 1=half_open 2=open.
func (b *breakerState) snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.current {
	case stateHalfOpen:
		return 1
	case stateOpen:
		return 2
	default:
		return 0
	}
}
