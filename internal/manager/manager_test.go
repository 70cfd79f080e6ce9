package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft/internal/discovery"
	"statecraft/internal/effects"
	"statecraft/internal/fsm"
	"statecraft/internal/journal"
	"statecraft/internal/pubsub"
	"statecraft/internal/registry"
	"statecraft/internal/xerr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := discovery.New()
	k, err := fsm.NewKind("demo.door").
		Initial("closed").
		State("open").
		Transition("closed", "open", "open").
		Transition("open", "close", "closed").
		Build()
	require.NoError(t, err)
	dir.Register(k)

	reg := registry.New(nil)
	j := journal.New(t.TempDir(), nil)
	bus := pubsub.NewMemoryBus()
	eng := effects.NewEngine(nil, nil, nil)

	return New(reg, dir, j, bus, eng, nil)
}

func TestCreateFSMRegistersAndAppendsCreatedRecord(t *testing.T) {
	m := newTestManager(t)
	id, err := m.CreateFSM("demo.door", map[string]any{"note": "hi"}, "tenant-a")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, ok := m.Registry.Get(id)
	assert.True(t, ok)

	recs, err := m.Journal.List(id)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "created", string(recs[0].Type))
	assert.Equal(t, "closed", recs[0].InitialState)
}

func TestCreateFSMUnknownKindReturnsError(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateFSM("nope", nil, "tenant-a")
	assert.Error(t, err)
}

func TestSendEventTransitionsAndPersists(t *testing.T) {
	m := newTestManager(t)
	id, err := m.CreateFSM("demo.door", nil, "tenant-a")
	require.NoError(t, err)

	inst, err := m.SendEvent(id, "open", nil)
	require.NoError(t, err)
	assert.Equal(t, fsm.State("open"), inst.CurrentState())

	state, err := m.GetFSMState(id)
	require.NoError(t, err)
	assert.Equal(t, fsm.State("open"), state)
}

func TestSendEventUnknownIDReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.SendEvent("ghost", "open", nil)
	assert.Equal(t, xerr.NotFound, xerr.TagOf(err))
}

func TestDestroyFSMThenGetFSMStateNotFound(t *testing.T) {
	m := newTestManager(t)
	id, err := m.CreateFSM("demo.door", nil, "tenant-a")
	require.NoError(t, err)

	require.NoError(t, m.DestroyFSM(id))
	_, err = m.GetFSMState(id)
	assert.Equal(t, xerr.NotFound, xerr.TagOf(err))

	// journal remains readable after destroy.
	recs, err := m.Journal.List(id)
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
}

func TestBatchSendEventsAppliesInOrder(t *testing.T) {
	m := newTestManager(t)
	id, err := m.CreateFSM("demo.door", nil, "tenant-a")
	require.NoError(t, err)

	results := m.BatchSendEvents([]BatchEvent{
		{ID: id, Event: "open"},
		{ID: id, Event: "close"},
	})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, fsm.State("closed"), results[1].Instance.CurrentState())
}

func TestGetStatsReflectsCreateAndDestroy(t *testing.T) {
	m := newTestManager(t)
	id, err := m.CreateFSM("demo.door", nil, "tenant-a")
	require.NoError(t, err)
	require.NoError(t, m.DestroyFSM(id))

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats.FSMsCreated)
	assert.Equal(t, int64(1), stats.FSMsDestroyed)
}
