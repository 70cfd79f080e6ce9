// Package manager implements the thin orchestration API from spec §4.7:
// create_fsm/destroy_fsm/send_event/get_fsm_state/... It is the one place
// that owns both the Registry and the Definition+Instance construction
// sequence, which is exactly why §4.3's "register before any side effects"
// ordering lives here rather than inside fsm.New — fsm never imports
// registry, so Manager is what interleaves the two.
//
// Grounded on the teacher's AgentFSM call sites (the orchestration a
// caller like a build-step runner performs around the FSM: construct,
// subscribe, transition, checkpoint) generalized into an explicit,
// reusable API instead of being inlined at each call site.
package manager

import (
	"context"
	"fmt"
	"sync/atomic"

	"statecraft/internal/discovery"
	"statecraft/internal/fsm"
	"statecraft/internal/journal"
	"statecraft/internal/pubsub"
	"statecraft/internal/registry"
	"statecraft/internal/effects"
	"statecraft/internal/telemetry"
	"statecraft/internal/xerr"
)

// Stats merges Manager-level counters with the Registry's own (§4.7's
// get_stats()).
type Stats struct {
	Registry         registry.Stats `json:"registry"`
	FSMsCreated      int64          `json:"fsms_created"`
	FSMsDestroyed    int64          `json:"fsms_destroyed"`
	EventsSent       int64          `json:"events_sent"`
	EventsRejected   int64          `json:"events_rejected"`
}

// Manager is the single entry point callers use instead of touching fsm,
// registry, journal, or the effects engine directly.
type Manager struct {
	Registry  *registry.Registry
	Discovery *discovery.Directory
	Journal   journal.Journal
	Bus       pubsub.Bus
	Effects   *effects.Engine
	Sink      telemetry.Sink

	createdCount    atomic.Int64
	destroyedCount  atomic.Int64
	eventsSent      atomic.Int64
	eventsRejected  atomic.Int64
}

// New wires a Manager from its collaborators. Any of Journal, Bus, Effects,
// Sink may be nil; Registry and Discovery must not be.
func New(reg *registry.Registry, dir *discovery.Directory, j journal.Journal, bus pubsub.Bus, eng *effects.Engine, sink telemetry.Sink) *Manager {
	if sink == nil {
		sink = telemetry.Nop
	}
	return &Manager{
		Registry:  reg,
		Discovery: dir,
		Journal:   j,
		Bus:       bus,
		Effects:   eng,
		Sink:      sink,
	}
}

// recoverToError converts a panic from lower layers into a tagged error —
// §4.7's failure-isolation guarantee: no exception ever reaches the caller.
func (m *Manager) recoverToError(err *error) {
	if r := recover(); r != nil {
		*err = xerr.New(xerr.Unexpected, fmt.Sprintf("recovered panic: %v", r))
	}
}

// CreateFSM constructs an instance of the named kind and returns its id.
// Construction follows §4.3 exactly: assign id/timestamps (fsm.New),
// register with the Registry, run plugin init hooks, run the initial
// state's enter hooks, append the created journal record, return.
func (m *Manager) CreateFSM(kindName string, initialData map[string]any, tenantID string) (id string, err error) {
	defer m.recoverToError(&err)

	k, ok := m.Discovery.Lookup(kindName)
	if !ok {
		return "", xerr.New(xerr.UnknownModule, kindName)
	}

	i := fsm.New(k, tenantID, initialData)

	// Step 2: register before any side effects.
	m.Registry.Register(i)

	// Step 3: plugin init hooks.
	i, perr := fsm.InitPlugins(i)
	if perr != nil {
		m.Registry.Unregister(i.ID)
		return "", perr
	}
	m.Registry.Update(i.ID, i)

	// Step 4: initial state's enter hooks.
	i = fsm.RunInitialEnterHooks(i)
	m.Registry.Update(i.ID, i)

	// Step 5: created journal record.
	if m.Journal != nil {
		if _, jerr := m.Journal.AppendCreated(i.TenantID, k.Name, i.ID, string(i.CurrentState()), i.Snapshot()); jerr != nil {
			m.Sink.Emit(telemetry.TopicJournalAppend, telemetry.Fields{"fsm_id": i.ID, "error": jerr.Error()})
		}
	}

	if m.Bus != nil {
		_ = m.Bus.Publish(context.Background(), i.TenantID, pubsub.Message{
			Event:   "fsm_created",
			Payload: map[string]any{"fsm_id": i.ID, "kind": k.Name, "state": string(i.CurrentState())},
		})
	}

	// Step 6: start the initial state's entry effect, if declared.
	if m.Effects != nil {
		if tree := k.EffectFor(i.CurrentState()); tree != nil {
			_ = m.Effects.Start(context.Background(), i.TenantID, i.ID, string(i.CurrentState()), tree, i)
		}
	}

	m.createdCount.Add(1)
	return i.ID, nil
}

// DestroyFSM unregisters id. The journal is untouched — history remains
// readable after destruction, per §8 invariant 6.
func (m *Manager) DestroyFSM(id string) (err error) {
	defer m.recoverToError(&err)

	inst, ok := m.Registry.Get(id)
	if !ok {
		return xerr.New(xerr.NotFound, id)
	}
	m.Registry.Unregister(id)
	m.destroyedCount.Add(1)

	if m.Bus != nil {
		_ = m.Bus.Publish(context.Background(), inst.TenantID, pubsub.Message{
			Event:   "fsm_destroyed",
			Payload: map[string]any{"fsm_id": id},
		})
	}
	return nil
}

// SendEvent delegates to the transition engine and persists the result —
// in this in-memory Registry, "persisting" means writing the (possibly
// hook-replaced) instance pointer back into the index.
func (m *Manager) SendEvent(id string, event fsm.Event, eventData map[string]any) (i *fsm.Instance, err error) {
	defer m.recoverToError(&err)

	inst, ok := m.Registry.Get(id)
	if !ok {
		m.eventsRejected.Add(1)
		return nil, xerr.New(xerr.NotFound, id)
	}

	next, nerr := fsm.Navigate(inst, event, eventData, fsm.NavigateOpts{}, fsm.Deps{
		Journal: m.Journal,
		Bus:     m.Bus,
		Effects: m.Effects,
		Sink:    m.Sink,
	})
	if nerr != nil {
		m.eventsRejected.Add(1)
		return next, nerr
	}

	m.Registry.Update(id, next)
	m.eventsSent.Add(1)
	return next, nil
}

// GetFSMState returns the current state of id.
func (m *Manager) GetFSMState(id string) (fsm.State, error) {
	i, ok := m.Registry.Get(id)
	if !ok {
		return "", xerr.New(xerr.NotFound, id)
	}
	return i.CurrentState(), nil
}

// UpdateFSMData merges patch into id's data outside the transition
// lifecycle (no journal record, no broadcast) — a direct data write.
func (m *Manager) UpdateFSMData(id string, patch map[string]any) error {
	i, ok := m.Registry.Get(id)
	if !ok {
		return xerr.New(xerr.NotFound, id)
	}
	i.MergeData(patch)
	return nil
}

// Subscribe registers subscriberID on id's explicit subscriber set, so id's
// future transitions are also delivered to subscriberID's own pub/sub topic
// (§3, §4.4 step 10) independent of id's tenant channel.
func (m *Manager) Subscribe(id, subscriberID string) error {
	i, ok := m.Registry.Get(id)
	if !ok {
		return xerr.New(xerr.NotFound, id)
	}
	i.Subscribe(subscriberID)
	return nil
}

// Unsubscribe removes subscriberID from id's subscriber set.
func (m *Manager) Unsubscribe(id, subscriberID string) error {
	i, ok := m.Registry.Get(id)
	if !ok {
		return xerr.New(xerr.NotFound, id)
	}
	i.Unsubscribe(subscriberID)
	return nil
}

// GetTenantFSMs lists every live instance for tenantID.
func (m *Manager) GetTenantFSMs(tenantID string) []*fsm.Instance {
	return m.Registry.ListByTenant(tenantID)
}

// GetFSMMetrics returns id's Performance block.
func (m *Manager) GetFSMMetrics(id string) (fsm.Performance, error) {
	i, ok := m.Registry.Get(id)
	if !ok {
		return fsm.Performance{}, xerr.New(xerr.NotFound, id)
	}
	return i.Performance, nil
}

// BatchEvent is one entry of a batch_send_events call.
type BatchEvent struct {
	ID        string
	Event     fsm.Event
	EventData map[string]any
}

// BatchResult pairs a BatchEvent with its outcome.
type BatchResult struct {
	ID       string
	Instance *fsm.Instance
	Err      error
}

// BatchSendEvents applies each event in order, observationally equivalent
// to calling SendEvent for each entry in sequence (§8's round-trip law) —
// it does not parallelize across entries, since two entries may name the
// same id and per-id ordering must be preserved.
func (m *Manager) BatchSendEvents(batch []BatchEvent) []BatchResult {
	out := make([]BatchResult, len(batch))
	for idx, b := range batch {
		inst, err := m.SendEvent(b.ID, b.Event, b.EventData)
		out[idx] = BatchResult{ID: b.ID, Instance: inst, Err: err}
	}
	return out
}

// GetStats merges Manager counters with the Registry's own.
func (m *Manager) GetStats() Stats {
	return Stats{
		Registry:       m.Registry.Stats(),
		FSMsCreated:    m.createdCount.Load(),
		FSMsDestroyed:  m.destroyedCount.Load(),
		EventsSent:     m.eventsSent.Load(),
		EventsRejected: m.eventsRejected.Load(),
	}
}
