package fsm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft/internal/effects"
	"statecraft/internal/journal"
	"statecraft/internal/pubsub"
	"statecraft/internal/telemetry"
	"statecraft/internal/xerr"
)

func testDeps(t *testing.T) (Deps, *journal.FileJournal) {
	t.Helper()
	j := journal.New(t.TempDir(), nil)
	return Deps{
		Journal: j,
		Bus:     pubsub.NewMemoryBus(),
		Effects: effects.NewEngine(nil, nil, nil),
		Sink:    telemetry.Nop,
	}, j
}

// S1 (first step): a single closed -> open door transition, journaled.
func TestNavigateBasicDoorTransition(t *testing.T) {
	k := doorKindNoTest()
	i := New(k, "t1", nil)
	deps, j := testDeps(t)

	out, err := Navigate(i, "open", nil, NavigateOpts{}, deps)
	require.NoError(t, err)
	assert.Equal(t, State("open"), out.CurrentState())
	assert.Equal(t, int64(1), out.Performance.TransitionCount)

	recs, err := j.List(i.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "transition", string(recs[0].Type))
	assert.Equal(t, "closed", recs[0].From)
	assert.Equal(t, "open", recs[0].To)
}

// S2: invalid event is a no-op — no journal record, no state change.
func TestNavigateInvalidEventIsNoOp(t *testing.T) {
	k := doorKindNoTest()
	i := New(k, "t1", nil)
	deps, j := testDeps(t)

	before := i.CurrentState()
	out, err := Navigate(i, "unlock", nil, NavigateOpts{}, deps)
	require.Error(t, err)
	assert.Equal(t, xerr.InvalidTransition, xerr.TagOf(err))
	assert.Equal(t, before, out.CurrentState())

	recs, err := j.List(i.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// S3: a failing validator aborts with :validation_error and no side effects.
func TestNavigateValidationRejection(t *testing.T) {
	k, err := NewKind("demo.gate").
		Initial("closed").
		State("open").
		Transition("closed", "open", "open").
		Validate(func(i *Instance, event Event, data map[string]any) error {
			if i.GetData("locked") == true {
				return errors.New("gate is locked")
			}
			return nil
		}).
		Build()
	require.NoError(t, err)

	i := New(k, "t1", map[string]any{"locked": true})
	deps, j := testDeps(t)

	_, err = Navigate(i, "open", nil, NavigateOpts{}, deps)
	require.Error(t, err)
	assert.Equal(t, xerr.ValidationError, xerr.TagOf(err))
	assert.Equal(t, State("closed"), i.CurrentState())

	recs, _ := j.List(i.ID)
	assert.Empty(t, recs)
}

// A plugin's before_transition failure aborts and returns the pre-step-3 instance.
func TestNavigatePluginFailureAborts(t *testing.T) {
	k, err := NewKind("demo.plugin_gate").
		Initial("closed").
		State("open").
		Transition("closed", "open", "open").
		Plugin(Plugin{
			Name: "guard",
			Hooks: PluginHooks{
				BeforeTransition: func(i *Instance, old State, event Event, data map[string]any) (*Instance, error) {
					return nil, errors.New("denied")
				},
			},
		}).
		Build()
	require.NoError(t, err)

	i := New(k, "t1", nil)
	deps, _ := testDeps(t)

	out, err := Navigate(i, "open", nil, NavigateOpts{}, deps)
	require.Error(t, err)
	assert.Equal(t, xerr.PluginFailed, xerr.TagOf(err))
	assert.Equal(t, State("closed"), out.CurrentState())
}

// A panicking hook is advisory — the transition still completes.
func TestNavigateHookPanicIsAdvisoryNotFatal(t *testing.T) {
	k, err := NewKind("demo.panicky").
		Initial("closed").
		State("open").
		Transition("closed", "open", "open").
		OnEnter("open", func(i *Instance) *Instance {
			panic("boom")
		}).
		Build()
	require.NoError(t, err)

	i := New(k, "t1", nil)
	deps, _ := testDeps(t)

	out, err := Navigate(i, "open", nil, NavigateOpts{}, deps)
	require.NoError(t, err)
	assert.Equal(t, State("open"), out.CurrentState())
}

// event_data is merged into instance data, winning on key collision.
func TestNavigateEventDataMergeWinsOverExisting(t *testing.T) {
	k := doorKindNoTest()
	i := New(k, "t1", map[string]any{"note": "original"})
	deps, _ := testDeps(t)

	out, err := Navigate(i, "open", map[string]any{"note": "updated"}, NavigateOpts{}, deps)
	require.NoError(t, err)
	assert.Equal(t, "updated", out.GetData("note"))
}

// S5: entering a new state cancels the previous state's effect execution.
func TestNavigateCancelsPreviousStateEffects(t *testing.T) {
	k, err := NewKind("demo.effecty").
		Initial("closed").
		State("open").
		Transition("closed", "open", "open").
		Effect("closed", effects.Delay(5000)).
		Build()
	require.NoError(t, err)

	i := New(k, "t1", nil)
	deps, _ := testDeps(t)

	// Manually start the "closed" state's effect as construction would.
	resCh := deps.Effects.Start(context.Background(), "t1", i.ID, "closed", k.EffectFor("closed"), i)

	_, err = Navigate(i, "open", nil, NavigateOpts{}, deps)
	require.NoError(t, err)

	select {
	case res := <-resCh:
		assert.False(t, res.OK)
		assert.Equal(t, xerr.Cancelled, xerr.TagOf(res.Err))
	case <-time.After(time.Second):
		t.Fatal("previous state's effect was not cancelled")
	}
}

// TestNavigateBroadcastsToSubscribersAndTenantChannel: step 10 delivers to
// both the tenant-wide channel and every explicit subscriber id, as two
// independent deliveries of the same message.
func TestNavigateBroadcastsToSubscribersAndTenantChannel(t *testing.T) {
	k := doorKindNoTest()
	i := New(k, "t1", nil)
	deps, _ := testDeps(t)

	i.Subscribe("watcher-1")

	tenantSub, err := deps.Bus.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	subSub, err := deps.Bus.SubscribeAsSubscriber(context.Background(), "watcher-1")
	require.NoError(t, err)

	_, err = Navigate(i, "open", nil, NavigateOpts{}, deps)
	require.NoError(t, err)

	select {
	case msg := <-tenantSub.Channel():
		assert.Equal(t, "fsm_state_changed", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("tenant channel never received the broadcast")
	}

	select {
	case msg := <-subSub.Channel():
		assert.Equal(t, "fsm_state_changed", msg.Event)
		assert.Equal(t, i.ID, msg.Payload["fsm_id"])
	case <-time.After(time.Second):
		t.Fatal("subscriber channel never received the broadcast")
	}
}
