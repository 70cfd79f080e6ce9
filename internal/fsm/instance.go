package fsm

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Metadata is the instance bookkeeping block from §3 — creation/update
// timestamps, optimistic version, and free-form tags.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
	Tags      []string  `json:"tags,omitempty"`
}

// Performance is the running transition-latency summary an instance
// maintains for itself, updated at §4.4 step 8.
type Performance struct {
	TransitionCount     int64     `json:"transition_count"`
	LastTransitionAt    time.Time `json:"last_transition_at"`
	AvgTransitionTimeUS int64     `json:"avg_transition_time_us"`
}

// Instance is a live, mutable FSM instance bound to a Kind (§3's
// FsmInstance). It satisfies effects.DataStore structurally so the effects
// engine can read/write instance data without importing this package.
//
// Grounded on the teacher's AgentFSM (internal/agents/core/state_machine.go):
// same mutex-guarded single-struct shape, generalized from one hardcoded
// agent lifecycle to an arbitrary user-declared Kind. Broadcast keeps both
// of the teacher's delivery shapes side by side rather than picking one:
// the tenant-wide pubsub.Bus channel the manager layer owns, plus this
// instance's own explicit subscribers set, delivered independently by
// navigate's step 10.
type Instance struct {
	mu sync.RWMutex

	// transMu serializes Navigate calls for this instance, per §5's "for a
	// single fsm_id, concurrent send_event calls are serialized" guarantee.
	// Separate from mu so hooks/plugins can still read/write Data (which
	// takes mu) while a transition holds transMu.
	transMu sync.Mutex

	ID       string
	Kind     *Kind
	TenantID string

	currentState State
	data         map[string]any

	Metadata    Metadata
	Performance Performance

	// pluginState holds per-plugin scratch space, keyed by plugin name, kept
	// separate from Data so plugin bookkeeping never collides with
	// user-declared event_data keys.
	pluginState map[string]map[string]any

	// subscribers is the set of subscriber identifiers from §3 — opaque
	// strings (commonly another fsm_id) registered for cross-FSM
	// notification, delivered independently of the tenant-wide pub/sub
	// channel at navigate's step 10.
	subscribers map[string]struct{}
}

// New constructs an instance of kind k in its initial state, applying
// initialData as the starting data map. It does NOT run plugin Init hooks,
// register with any registry, append a journal record, or run enter hooks —
// per §4.3's construction order, those side effects are orchestrated by the
// manager package so that registration happens before any of them fire.
// Callers needing the full construction sequence should go through
// manager.CreateFSM, not this constructor directly.
func New(k *Kind, tenantID string, initialData map[string]any) *Instance {
	now := time.Now()
	data := make(map[string]any, len(initialData))
	for key, v := range initialData {
		data[key] = v
	}

	return &Instance{
		ID:           uuid.NewString(),
		Kind:         k,
		TenantID:     tenantID,
		currentState: k.InitialState(),
		data:         data,
		Metadata: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		},
		pluginState: make(map[string]map[string]any),
		subscribers: make(map[string]struct{}),
	}
}

// Restore rebuilds an instance from a previously written snapshot (§6),
// bypassing the normal construction order in §4.3 entirely — it is used
// only by the registry's reload_from_disk path, never by create_fsm.
func Restore(k *Kind, id, tenantID string, state State, data map[string]any, meta Metadata, perf Performance) *Instance {
	d := make(map[string]any, len(data))
	for key, v := range data {
		d[key] = v
	}
	return &Instance{
		ID:           id,
		Kind:         k,
		TenantID:     tenantID,
		currentState: state,
		data:         d,
		Metadata:     meta,
		Performance:  perf,
		pluginState:  make(map[string]map[string]any),
		subscribers:  make(map[string]struct{}),
	}
}

// CurrentState returns the instance's current state (thread-safe).
func (i *Instance) CurrentState() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.currentState
}

// setState is an internal, unguarded state write used by navigate under the
// instance's own lock — never exported, since a raw state write bypasses
// the transition engine's journal/broadcast/effect side effects.
func (i *Instance) setState(s State) {
	i.currentState = s
}

// Snapshot returns a defensive copy of the instance's data map, safe to
// hand to callers outside the package.
func (i *Instance) Snapshot() map[string]any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]any, len(i.data))
	for k, v := range i.data {
		out[k] = v
	}
	return out
}

// --- effects.DataStore ---

// GetData returns the value at key, or "" if absent — the lenient default
// from §5's get_data semantics (an unset key is never an error).
func (i *Instance) GetData(key string) any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if v, ok := i.data[key]; ok {
		return v
	}
	return ""
}

// PutData sets key to value, bumping UpdatedAt.
func (i *Instance) PutData(key string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.data[key] = value
	i.Metadata.UpdatedAt = time.Now()
}

// MergeData shallow-merges m into the instance's data, keys in m winning on
// collision — the same rule §4.4 step 5 applies to event_data merges.
func (i *Instance) MergeData(m map[string]any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for k, v := range m {
		i.data[k] = v
	}
	i.Metadata.UpdatedAt = time.Now()
}

// UpdateData replaces the value at key with fn(current), where current is
// "" if key is unset — consistent with GetData's lenient default.
func (i *Instance) UpdateData(key string, fn func(any) any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	cur, ok := i.data[key]
	if !ok {
		cur = ""
	}
	i.data[key] = fn(cur)
	i.Metadata.UpdatedAt = time.Now()
}

// --- plugin scratch space ---

// PluginData returns the scratch map owned by the named plugin, creating it
// on first use. Callers must not retain the map across calls without
// holding in mind it is shared, mutable state — it is not copied.
func (i *Instance) PluginData(name string) map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()
	m, ok := i.pluginState[name]
	if !ok {
		m = make(map[string]any)
		i.pluginState[name] = m
	}
	return m
}

// --- cross-FSM subscribers ---

// Subscribe registers subscriberID for cross-FSM notification on this
// instance's future transitions (§3's subscribers set). Idempotent.
func (i *Instance) Subscribe(subscriberID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.subscribers[subscriberID] = struct{}{}
}

// Unsubscribe removes subscriberID, if present.
func (i *Instance) Unsubscribe(subscriberID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.subscribers, subscriberID)
}

// Subscribers returns a snapshot of the current subscriber set. Order is
// unspecified.
func (i *Instance) Subscribers() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.subscribers))
	for id := range i.subscribers {
		out = append(out, id)
	}
	return out
}

// recordTransition updates the Performance block's running mean — called
// under the instance's own lock by navigate at §4.4 step 8.
func (i *Instance) recordTransition(dur time.Duration) {
	us := dur.Microseconds()
	n := i.Performance.TransitionCount
	if n == 0 {
		i.Performance.AvgTransitionTimeUS = us
	} else {
		i.Performance.AvgTransitionTimeUS = (i.Performance.AvgTransitionTimeUS*n + us) / (n + 1)
	}
	i.Performance.TransitionCount = n + 1
	i.Performance.LastTransitionAt = time.Now()
}
