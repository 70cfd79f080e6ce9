package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doorKind(t *testing.T) *Kind {
	t.Helper()
	k, err := NewKind("demo.door").
		Initial("closed").
		State("open").
		State("locked").
		Transition("closed", "open", "open").
		Transition("open", "close", "closed").
		Transition("closed", "lock", "locked").
		Transition("locked", "unlock", "closed").
		Build()
	require.NoError(t, err)
	return k
}

func TestBuildRejectsMissingInitialState(t *testing.T) {
	_, err := NewKind("bad").State("a").Build()
	assert.Error(t, err)
}

func TestBuildRejectsDanglingTransitionEndpoint(t *testing.T) {
	_, err := NewKind("bad").
		Initial("a").
		Transition("a", "go", "ghost").
		Build()
	assert.Error(t, err)
}

func TestBuildReportsUnreachableStatesWithoutErroring(t *testing.T) {
	k, err := NewKind("demo.with_island").
		Initial("a").
		State("island").
		Transition("a", "go", "b").
		Build()
	require.NoError(t, err)
	assert.Contains(t, k.Unreachable(), State("island"))
	assert.NotContains(t, k.Unreachable(), State("b"))
}

func TestLookupFindsDeclaredTransitionOnly(t *testing.T) {
	k := doorKind(t)
	to, ok := k.lookup("closed", "open")
	require.True(t, ok)
	assert.Equal(t, State("open"), to)

	_, ok = k.lookup("closed", "unlock")
	assert.False(t, ok)
}

func TestComponentMergeLaterComponentShadowsEarlier(t *testing.T) {
	c1, err := NewKind("c1").Initial("a").Transition("a", "go", "b").Build()
	require.NoError(t, err)
	c2, err := NewKind("c2").Initial("a").Transition("a", "go", "c").Build()
	require.NoError(t, err)

	merged, err := NewKind("merged").Initial("a").Component(c1).Component(c2).Build()
	require.NoError(t, err)

	to, ok := merged.lookup("a", "go")
	require.True(t, ok)
	assert.Equal(t, State("c"), to, "later-added component should shadow the earlier one")
}

func TestComponentMergeLocalShadowsComponents(t *testing.T) {
	c1, err := NewKind("c1").Initial("a").Transition("a", "go", "b").Build()
	require.NoError(t, err)

	merged, err := NewKind("merged").
		Initial("a").
		Component(c1).
		Transition("a", "go", "local_wins").
		Build()
	require.NoError(t, err)

	to, ok := merged.lookup("a", "go")
	require.True(t, ok)
	assert.Equal(t, State("local_wins"), to)
}

func TestModuleShortName(t *testing.T) {
	k := doorKind(t)
	assert.Equal(t, "door", k.ModuleShortName())
}
