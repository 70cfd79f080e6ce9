// Package fsm implements the FSM declaration model, instance, and
// transition engine: the hard core of the runtime (§4.2–§4.4). It imports
// the leaf packages (effects, journal, pubsub, telemetry, xerr) directly
// and is never imported back by any of them, so the dependency graph stays
// acyclic even though construction order (§4.3: register with the registry
// before any side effects run) spans fsm and the higher-level manager
// package that owns the registry.
package fsm

import (
	"fmt"

	"statecraft/internal/effects"
)

// State and Event are plain strings — the declaration model never
// constrains the symbol alphabet, per §3.
type State string
type Event string

// HookFunc transforms an instance on state entry/exit. Hooks are pure in
// the contract (§4.4): they return a new instance value and must not block
// for unbounded time.
type HookFunc func(i *Instance) *Instance

// ValidatorFunc folds over an instance before a transition proceeds. A
// non-nil error aborts the transition with :validation_error.
type ValidatorFunc func(i *Instance, event Event, eventData map[string]any) error

// PluginHooks is the set of lifecycle callbacks a plugin may implement.
// Every field is optional; a plugin that only wants before_transition
// leaves the others nil.
type PluginHooks struct {
	// Init runs once at instance construction, in plugin declaration
	// order, and may replace the instance (a pure transformation).
	Init func(i *Instance) (*Instance, error)

	// BeforeTransition runs before any state change; may replace the
	// instance or abort the transition with a non-nil error.
	BeforeTransition func(i *Instance, old State, event Event, eventData map[string]any) (*Instance, error)

	// AfterTransition runs after the state change has committed. Errors
	// here are advisory — logged, never aborting the transition.
	AfterTransition func(i *Instance, old, new State, event Event, eventData map[string]any) error
}

// Plugin is a named, installable cross-cutting extension.
type Plugin struct {
	Name  string
	Hooks PluginHooks
}

// transitionDef is one declared (from, event) -> to edge, in declaration
// order; where a (from, event) pair repeats, the kind's transition table
// keeps the last declaration (see Builder.Build).
type transitionDef struct {
	From State
	Event Event
	To    State
}

// Kind is the immutable, built FSM declaration (§3's FsmKind). Build it
// with NewKind(...).Build().
type Kind struct {
	Name        string
	Description string

	states       map[State]struct{}
	initialState State

	// transitions is keyed by (from, event) for O(1) lookup in Navigate;
	// the slice preserves declaration order for list_kinds() summaries.
	transitionTable map[transitionKey]State
	transitionOrder []transitionDef

	enterHooks map[State][]HookFunc
	exitHooks  map[State][]HookFunc
	validations []ValidatorFunc
	plugins     []Plugin

	effects      map[State]*effects.Node
	namedEffects map[string]*effects.Node

	// unreachable lists states the define-time reachability walk could not
	// reach from initialState. Allowed, per §4.2, but reported.
	unreachable []State
}

type transitionKey struct {
	from  State
	event Event
}

// ModuleShortName returns the last dotted segment of Name, matching §6's
// "module identity on the wire" rule.
func (k *Kind) ModuleShortName() string {
	last := k.Name
	for i := len(k.Name) - 1; i >= 0; i-- {
		if k.Name[i] == '.' {
			last = k.Name[i+1:]
			break
		}
	}
	return last
}

// States returns the kind's declared state set as a slice, for discovery
// and for reporting.
func (k *Kind) States() []State {
	out := make([]State, 0, len(k.states))
	for s := range k.states {
		out = append(out, s)
	}
	return out
}

// Unreachable returns the states the define-time reachability report found
// unreachable from InitialState — informational only; §4.2 permits them.
func (k *Kind) Unreachable() []State {
	return append([]State(nil), k.unreachable...)
}

// InitialState returns the kind's declared initial state.
func (k *Kind) InitialState() State { return k.initialState }

// lookup implements §4.4 step 1: the unique (from, event) -> to transition.
func (k *Kind) lookup(from State, event Event) (State, bool) {
	to, ok := k.transitionTable[transitionKey{from: from, event: event}]
	return to, ok
}

// EffectFor returns the entry effect tree declared for state s, if any.
func (k *Kind) EffectFor(s State) *effects.Node {
	return k.effects[s]
}

// TransitionsSummary renders every declared (from, event) -> to edge, in
// declaration order, for list_kinds() (§4.2/§4.8).
func (k *Kind) TransitionsSummary() []string {
	out := make([]string, 0, len(k.transitionOrder))
	for _, t := range k.transitionOrder {
		out = append(out, fmt.Sprintf("%s --%s--> %s", t.From, t.Event, t.To))
	}
	return out
}

// NamedEffect looks up an out-of-band effect tree by name (§3's
// named_effects), for ad-hoc invocation outside the transition lifecycle.
func (k *Kind) NamedEffect(name string) (*effects.Node, bool) {
	n, ok := k.namedEffects[name]
	return n, ok
}

// validationError describes a define-time validation failure (§4.2): bad
// initial state, or a transition endpoint outside the declared state set.
type validationError struct {
	reason string
}

func (e *validationError) Error() string { return fmt.Sprintf("fsm definition invalid: %s", e.reason) }
