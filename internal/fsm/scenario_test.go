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
	"statecraft/internal/xerr"
)

// doorScenarioKind builds the literal Door kind from the spec's S1-S2
// end-to-end scenario: states {closed, opening, open, closing}, initial
// closed.
func doorScenarioKind(t *testing.T) *Kind {
	t.Helper()
	k, err := NewKind("Door").
		Initial("closed").
		State("opening").
		State("open").
		State("closing").
		Transition("closed", "open_cmd", "opening").
		Transition("opening", "fully_open", "open").
		Transition("open", "close_cmd", "closing").
		Transition("closing", "fully_closed", "closed").
		Build()
	require.NoError(t, err)
	return k
}

func scenarioDeps(t *testing.T) (Deps, *journal.FileJournal) {
	t.Helper()
	j := journal.New(t.TempDir(), nil)
	return Deps{
		Journal: j,
		Bus:     pubsub.NewMemoryBus(),
		Effects: effects.NewEngine(nil, nil, nil),
	}, j
}

// TestScenarioS1BasicDoor reproduces spec.md's S1 literally: a created
// record followed by three send_event calls should leave the door in
// "closing" with a journal of created + three transitions in strictly
// ascending seq order.
func TestScenarioS1BasicDoor(t *testing.T) {
	k := doorScenarioKind(t)
	deps, j := scenarioDeps(t)

	i := New(k, "t1", nil)
	_, err := j.AppendCreated(i.TenantID, k.Name, i.ID, string(i.CurrentState()), i.Snapshot())
	require.NoError(t, err)

	i, err = Navigate(i, "open_cmd", map[string]any{"user": "u"}, NavigateOpts{}, deps)
	require.NoError(t, err)
	i, err = Navigate(i, "fully_open", nil, NavigateOpts{}, deps)
	require.NoError(t, err)
	i, err = Navigate(i, "close_cmd", nil, NavigateOpts{}, deps)
	require.NoError(t, err)

	assert.Equal(t, State("closing"), i.CurrentState())

	recs, err := j.List(i.ID)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, journal.TypeCreated, recs[0].Type)
	assert.Equal(t, "closed", recs[0].InitialState)
	assert.Equal(t, "closed", recs[1].From)
	assert.Equal(t, "opening", recs[1].To)
	assert.Equal(t, "opening", recs[2].From)
	assert.Equal(t, "open", recs[2].To)
	assert.Equal(t, "open", recs[3].From)
	assert.Equal(t, "closing", recs[3].To)
	for idx := 1; idx < len(recs); idx++ {
		assert.Less(t, recs[idx-1].Seq, recs[idx].Seq)
	}
}

// TestScenarioS2InvalidTransition continues S1 from "closing": open_cmd is
// not declared from closing, so navigate must reject it with no journal
// record and no state change.
func TestScenarioS2InvalidTransition(t *testing.T) {
	k := doorScenarioKind(t)
	deps, j := scenarioDeps(t)

	i := New(k, "t1", nil)
	i, err := Navigate(i, "open_cmd", nil, NavigateOpts{}, deps)
	require.NoError(t, err)
	i, err = Navigate(i, "fully_open", nil, NavigateOpts{}, deps)
	require.NoError(t, err)
	i, err = Navigate(i, "close_cmd", nil, NavigateOpts{}, deps)
	require.NoError(t, err)
	require.Equal(t, State("closing"), i.CurrentState())

	before, err := j.List(i.ID)
	require.NoError(t, err)

	_, err = Navigate(i, "open_cmd", nil, NavigateOpts{}, deps)
	require.Error(t, err)
	assert.Equal(t, xerr.InvalidTransition, xerr.TagOf(err))
	assert.Equal(t, State("closing"), i.CurrentState())

	after, err := j.List(i.ID)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

// TestScenarioS3ValidationRejection: a Gate kind whose validator rejects
// an approve event when event_data.user is empty.
func TestScenarioS3ValidationRejection(t *testing.T) {
	k, err := NewKind("Gate").
		Initial("waiting").
		State("approved").
		Transition("waiting", "approve", "approved").
		Validate(func(i *Instance, event Event, eventData map[string]any) error {
			if event == "approve" {
				if user, _ := eventData["user"].(string); user == "" {
					return errors.New("missing_user")
				}
			}
			return nil
		}).
		Build()
	require.NoError(t, err)

	deps, j := scenarioDeps(t)
	i := New(k, "t1", nil)

	_, err = Navigate(i, "approve", map[string]any{"user": ""}, NavigateOpts{}, deps)
	require.Error(t, err)
	assert.Equal(t, xerr.ValidationError, xerr.TagOf(err))
	assert.Equal(t, State("waiting"), i.CurrentState())

	recs, err := j.List(i.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// TestScenarioS5EffectCancellationOnTransition: state A's entry effect
// sleeps 500ms then sets a marker; a transition to B within 100ms must
// cancel it before the marker is ever written.
func TestScenarioS5EffectCancellationOnTransition(t *testing.T) {
	k, err := NewKind("Switch").
		Initial("A").
		State("B").
		Transition("A", "go", "B").
		Effect("A", effects.Sequence(
			effects.Delay(500),
			effects.PutData("marker", "set"),
		)).
		Build()
	require.NoError(t, err)

	deps, _ := scenarioDeps(t)
	i := New(k, "t1", nil)

	if tree := k.EffectFor(i.CurrentState()); tree != nil {
		deps.Effects.Start(context.Background(), i.TenantID, i.ID, string(i.CurrentState()), tree, i)
	}

	time.Sleep(20 * time.Millisecond)
	i, err = Navigate(i, "go", nil, NavigateOpts{}, deps)
	require.NoError(t, err)

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, "", i.GetData("marker"))
}
