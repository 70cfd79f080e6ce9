package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft/internal/fsm"
)

func buildDoor(t *testing.T) *fsm.Kind {
	t.Helper()
	k, err := fsm.NewKind("demo.door").
		Describe("a simple door").
		Initial("closed").
		State("open").
		Transition("closed", "open", "open").
		Transition("open", "close", "closed").
		Build()
	require.NoError(t, err)
	return k
}

func TestListReturnsStableSortedSummaries(t *testing.T) {
	d := New()
	d.Register(buildDoor(t))

	list := d.List()
	require.Len(t, list, 1)
	assert.Equal(t, "demo.door", list[0].Name)
	assert.Equal(t, "a simple door", list[0].Description)
	assert.ElementsMatch(t, []string{"closed", "open"}, list[0].States)
	assert.Contains(t, list[0].TransitionsSummary, "closed --open--> open")
}

func TestLookupFindsRegisteredKindByName(t *testing.T) {
	d := New()
	k := buildDoor(t)
	d.Register(k)

	got, ok := d.Lookup("demo.door")
	require.True(t, ok)
	assert.Same(t, k, got)

	_, ok = d.Lookup("nope")
	assert.False(t, ok)
}

func TestAllReturnsEveryRegisteredKind(t *testing.T) {
	d := New()
	d.Register(buildDoor(t))
	all := d.All()
	assert.Contains(t, all, "demo.door")
}
