package fsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	k := doorKindNoTest()
	i := New(k, "t1", map[string]any{"note": "v1"})

	store := NewFileCheckpointStore(t.TempDir())
	ck := NewCheckpointer(store)

	id, err := ck.Checkpoint(context.Background(), i, "before risky change")
	require.NoError(t, err)

	i.PutData("note", "v2")
	deps, _ := testDeps(t)
	_, err = Navigate(i, "open", nil, NavigateOpts{}, deps)
	require.NoError(t, err)
	require.Equal(t, State("open"), i.CurrentState())

	err = ck.Restore(context.Background(), i, id)
	require.NoError(t, err)

	assert.Equal(t, State("closed"), i.CurrentState())
	assert.Equal(t, "v1", i.GetData("note"))
}

func TestFileCheckpointStoreListByFSM(t *testing.T) {
	store := NewFileCheckpointStore(t.TempDir())
	k := doorKindNoTest()
	i1 := New(k, "t1", nil)
	i2 := New(k, "t1", nil)
	ck := NewCheckpointer(store)

	_, err := ck.Checkpoint(context.Background(), i1, "a")
	require.NoError(t, err)
	_, err = ck.Checkpoint(context.Background(), i2, "b")
	require.NoError(t, err)

	cps, err := store.ListByFSM(context.Background(), i1.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, i1.ID, cps[0].FSMID)
}
