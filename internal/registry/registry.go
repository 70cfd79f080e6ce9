// Package registry implements the sharded in-memory instance directory
// from spec §4.6: three consistent indexes (by fsm_id, by tenant_id, by
// kind) over every live fsm.Instance, with every mutation serialized per
// shard so concurrent register/update/unregister calls for ids in
// different shards never block each other.
//
// Grounded on the teacher's mutex-guarded single-map shape
// (internal/agents/core.AgentFSM) generalized from "one instance per
// struct" to "N shards of many instances each", sharded by fnv32a(id) mod
// N per §4.6's "phash(id) mod N" suggestion.
package registry

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"statecraft/internal/fsm"
	"statecraft/internal/pubsub"
)

const defaultShardCount = 16

// Stats mirrors spec §4.6's registry counters.
type Stats struct {
	TotalRegistered   int64     `json:"total_registered"`
	TotalUnregistered int64     `json:"total_unregistered"`
	CurrentCount      int       `json:"current_count"`
	LastActivity      time.Time `json:"last_activity"`
}

type shard struct {
	mu        sync.RWMutex
	byID      map[string]*fsm.Instance
	byTenant  map[string]map[string]struct{} // tenant_id -> set of fsm_id
	byKind    map[string]map[string]struct{} // kind name -> set of fsm_id
}

func newShard() *shard {
	return &shard{
		byID:     make(map[string]*fsm.Instance),
		byTenant: make(map[string]map[string]struct{}),
		byKind:   make(map[string]map[string]struct{}),
	}
}

// Registry is the sharded instance directory. Safe for concurrent use.
type Registry struct {
	shards []*shard

	registered   atomic.Int64
	unregistered atomic.Int64
	lastActivity atomic.Int64 // unix nanos

	bus pubsub.Bus
}

// New builds a Registry with the default shard count. bus may be nil;
// Broadcast does not use it and always invokes its handler locally.
func New(bus pubsub.Bus) *Registry {
	r := &Registry{
		shards: make([]*shard, defaultShardCount),
		bus:    bus,
	}
	for i := range r.shards {
		r.shards[i] = newShard()
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (r *Registry) touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}

// Register adds i to every index. Registering an id that already exists
// overwrites its prior entry (same as Update).
func (r *Registry) Register(i *fsm.Instance) {
	s := r.shardFor(i.ID)
	s.mu.Lock()
	s.byID[i.ID] = i
	indexAdd(s.byTenant, i.TenantID, i.ID)
	indexAdd(s.byKind, i.Kind.Name, i.ID)
	s.mu.Unlock()

	r.registered.Add(1)
	r.touch()
}

// Get looks up an instance by id.
func (r *Registry) Get(id string) (*fsm.Instance, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	return i, ok
}

// Update replaces the stored pointer for id — used when a hook/plugin
// returns a new instance value rather than mutating in place. Indexes are
// unaffected since TenantID/Kind never change after construction.
func (r *Registry) Update(id string, i *fsm.Instance) {
	s := r.shardFor(id)
	s.mu.Lock()
	s.byID[id] = i
	s.mu.Unlock()
	r.touch()
}

// Unregister removes id from every index.
func (r *Registry) Unregister(id string) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	i, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		indexRemove(s.byTenant, i.TenantID, id)
		indexRemove(s.byKind, i.Kind.Name, id)
	}
	s.mu.Unlock()

	if ok {
		r.unregistered.Add(1)
		r.touch()
	}
	return ok
}

// ListByTenant returns every live instance for tenantID, across all shards.
func (r *Registry) ListByTenant(tenantID string) []*fsm.Instance {
	var out []*fsm.Instance
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.byTenant[tenantID] {
			if i, ok := s.byID[id]; ok {
				out = append(out, i)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// ListByKind returns every live instance of the named kind, across all shards.
func (r *Registry) ListByKind(kindName string) []*fsm.Instance {
	var out []*fsm.Instance
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.byKind[kindName] {
			if i, ok := s.byID[id]; ok {
				out = append(out, i)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// ListAll returns every live instance across every shard.
func (r *Registry) ListAll() []*fsm.Instance {
	var out []*fsm.Instance
	for _, s := range r.shards {
		s.mu.RLock()
		for _, i := range s.byID {
			out = append(out, i)
		}
		s.mu.RUnlock()
	}
	return out
}

// Stats returns the registry's current counters.
func (r *Registry) Stats() Stats {
	count := 0
	for _, s := range r.shards {
		s.mu.RLock()
		count += len(s.byID)
		s.mu.RUnlock()
	}
	var last time.Time
	if ns := r.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		TotalRegistered:   r.registered.Load(),
		TotalUnregistered: r.unregistered.Load(),
		CurrentCount:      count,
		LastActivity:      last,
	}
}

// BroadcastTarget receives a best-effort fan-out broadcast event; the
// caller of Broadcast supplies the handler.
type BroadcastTarget func(i *fsm.Instance, eventType string, eventData map[string]any)

// Broadcast delivers (eventType, eventData) to every registered instance
// (optionally filtered by tenantID), invoking handle on an independent
// goroutine per instance — best-effort, fire-and-forget, per §4.6.
func (r *Registry) Broadcast(eventType string, eventData map[string]any, tenantID string, handle BroadcastTarget) int {
	var targets []*fsm.Instance
	if tenantID != "" {
		targets = r.ListByTenant(tenantID)
	} else {
		targets = r.ListAll()
	}
	for _, i := range targets {
		i := i
		go handle(i, eventType, eventData)
	}
	return len(targets)
}

func indexAdd(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func indexRemove(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}
