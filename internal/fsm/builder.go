package fsm

import (
	"fmt"

	"statecraft/internal/effects"
)

// Builder constructs a Kind fluently: NewKind(name).State(...).
// Transition(...).Component(...).Plugin(...).Build(). Grounded on the
// generic declarative shape of looplab/fsm's Transitions/Callbacks maps and
// tobbstr/fsm's hook registration, rather than a hardcoded transition table
// like the teacher's AgentFSM — kinds here are user-declared, not fixed to
// one build lifecycle.
type Builder struct {
	name        string
	description string

	states      map[State]struct{}
	initial     State
	hasInitial  bool

	transitions []transitionDef
	enterHooks  map[State][]HookFunc
	exitHooks   map[State][]HookFunc
	validations []ValidatorFunc
	plugins     []Plugin

	effectsByState map[State]*effects.Node
	namedEffects   map[string]*effects.Node

	components []*Kind
}

// NewKind starts building a Kind named name.
func NewKind(name string) *Builder {
	return &Builder{
		name:           name,
		states:         make(map[State]struct{}),
		enterHooks:     make(map[State][]HookFunc),
		exitHooks:      make(map[State][]HookFunc),
		effectsByState: make(map[State]*effects.Node),
		namedEffects:   make(map[string]*effects.Node),
	}
}

// Describe sets the kind's human-readable description.
func (b *Builder) Describe(desc string) *Builder {
	b.description = desc
	return b
}

// State declares a state symbol. Declaring a state explicitly is optional
// for states that only appear as a transition endpoint (Transition declares
// both endpoints) or as the initial state (Initial declares it); it is
// needed for a state that appears in neither, and recommended for
// discovery output.
func (b *Builder) State(s State) *Builder {
	b.states[s] = struct{}{}
	return b
}

// Initial declares the kind's initial state, implicitly declaring it a
// member of the state set too.
func (b *Builder) Initial(s State) *Builder {
	b.initial = s
	b.hasInitial = true
	b.states[s] = struct{}{}
	return b
}

// Transition declares a (from, event) -> to edge. If a (from, event) pair is
// declared more than once, the last declaration wins, after component
// merge order is applied in Build — see Build's doc comment.
func (b *Builder) Transition(from State, event Event, to State) *Builder {
	b.states[from] = struct{}{}
	b.states[to] = struct{}{}
	b.transitions = append(b.transitions, transitionDef{From: from, Event: event, To: to})
	return b
}

// OnEnter registers a hook run in declaration order when s becomes the
// current state.
func (b *Builder) OnEnter(s State, hook HookFunc) *Builder {
	b.enterHooks[s] = append(b.enterHooks[s], hook)
	return b
}

// OnExit registers a hook run in declaration order when s stops being the
// current state.
func (b *Builder) OnExit(s State, hook HookFunc) *Builder {
	b.exitHooks[s] = append(b.exitHooks[s], hook)
	return b
}

// Validate registers a validator, folded in declaration order before any
// state change (§4.4 step 2).
func (b *Builder) Validate(v ValidatorFunc) *Builder {
	b.validations = append(b.validations, v)
	return b
}

// Plugin installs a cross-cutting plugin at instance construction time.
func (b *Builder) Plugin(p Plugin) *Builder {
	b.plugins = append(b.plugins, p)
	return b
}

// Effect declares the effect tree launched (non-blocking) on entry to s.
func (b *Builder) Effect(s State, n *effects.Node) *Builder {
	b.effectsByState[s] = n
	return b
}

// NamedEffect declares an out-of-band effect tree invocable by name,
// outside the transition lifecycle.
func (b *Builder) NamedEffect(name string, n *effects.Node) *Builder {
	b.namedEffects[name] = n
	return b
}

// Component merges another built Kind's states and transitions into this
// one, per §4.2's component merge rule. Components are merged in
// declaration order; see Build for the full precedence rule.
func (b *Builder) Component(k *Kind) *Builder {
	b.components = append(b.components, k)
	return b
}

// Build validates and freezes the declaration into an immutable Kind.
//
// Merge rule (§4.2): given components = [C1, C2, ..., Cn] and local
// declarations L, the merged state set is the union of every component's
// states plus L's states. The merged transition list is
// transitions(C1) ++ ... ++ transitions(Cn) ++ transitions(L). Duplicate
// (from, event) pairs are resolved "later-added shadows earlier-added":
// components are considered added in declaration order and locals are
// considered added last, so a local transition always wins over any
// component's, and a later component wins over an earlier one.
func (b *Builder) Build() (*Kind, error) {
	if !b.hasInitial {
		return nil, &validationError{reason: "no initial state declared"}
	}

	k := &Kind{
		Name:            b.name,
		Description:     b.description,
		states:          make(map[State]struct{}),
		initialState:    b.initial,
		transitionTable: make(map[transitionKey]State),
		enterHooks:      make(map[State][]HookFunc),
		exitHooks:       make(map[State][]HookFunc),
		effects:         make(map[State]*effects.Node),
		namedEffects:    make(map[string]*effects.Node),
	}

	// Union of component state sets, then locals.
	for _, c := range b.components {
		for s := range c.states {
			k.states[s] = struct{}{}
		}
	}
	for s := range b.states {
		k.states[s] = struct{}{}
	}

	if _, ok := k.states[b.initial]; !ok {
		return nil, &validationError{reason: fmt.Sprintf("initial state %q is not a declared state", b.initial)}
	}

	// Transition order: every component's transitions, in component
	// declaration order, followed by locals — so the later write in this
	// loop (locals) naturally shadows earlier ones (components) in the
	// map, while transitionOrder preserves append order for the summary.
	for _, c := range b.components {
		for _, t := range c.transitionOrder {
			k.transitionOrder = append(k.transitionOrder, t)
			k.transitionTable[transitionKey{from: t.From, event: t.Event}] = t.To
		}
	}
	for _, t := range b.transitions {
		k.transitionOrder = append(k.transitionOrder, t)
		k.transitionTable[transitionKey{from: t.From, event: t.Event}] = t.To
	}

	for _, t := range k.transitionOrder {
		if _, ok := k.states[t.From]; !ok {
			return nil, &validationError{reason: fmt.Sprintf("transition references undeclared from-state %q", t.From)}
		}
		if _, ok := k.states[t.To]; !ok {
			return nil, &validationError{reason: fmt.Sprintf("transition references undeclared to-state %q", t.To)}
		}
	}

	// Hooks: component hooks first, then locals, both preserving
	// declaration order within each source.
	for _, c := range b.components {
		for s, hooks := range c.enterHooks {
			k.enterHooks[s] = append(k.enterHooks[s], hooks...)
		}
		for s, hooks := range c.exitHooks {
			k.exitHooks[s] = append(k.exitHooks[s], hooks...)
		}
	}
	for s, hooks := range b.enterHooks {
		k.enterHooks[s] = append(k.enterHooks[s], hooks...)
	}
	for s, hooks := range b.exitHooks {
		k.exitHooks[s] = append(k.exitHooks[s], hooks...)
	}

	for _, c := range b.components {
		k.validations = append(k.validations, c.validations...)
		k.plugins = append(k.plugins, c.plugins...)
	}
	k.validations = append(k.validations, b.validations...)
	k.plugins = append(k.plugins, b.plugins...)

	for _, c := range b.components {
		for s, n := range c.effects {
			k.effects[s] = n
		}
		for name, n := range c.namedEffects {
			k.namedEffects[name] = n
		}
	}
	for s, n := range b.effectsByState {
		k.effects[s] = n
	}
	for name, n := range b.namedEffects {
		k.namedEffects[name] = n
	}

	k.unreachable = reachabilityReport(k)

	return k, nil
}

// reachabilityReport walks the transition graph from initialState and
// returns every declared state it cannot reach — informational per §4.2,
// never a build error.
func reachabilityReport(k *Kind) []State {
	reached := map[State]struct{}{k.initialState: {}}
	queue := []State{k.initialState}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range k.transitionOrder {
			if t.From != cur {
				continue
			}
			if _, ok := reached[t.To]; !ok {
				reached[t.To] = struct{}{}
				queue = append(queue, t.To)
			}
		}
	}

	var unreached []State
	for s := range k.states {
		if _, ok := reached[s]; !ok {
			unreached = append(unreached, s)
		}
	}
	return unreached
}
