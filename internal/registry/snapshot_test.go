package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft/internal/fsm"
)

func TestWriteSnapshotThenReloadFromDiskRestoresInstance(t *testing.T) {
	dir := t.TempDir()
	k := testKind(t)
	i := fsm.New(k, "tenant-a", map[string]any{"note": "hi"})

	require.NoError(t, WriteSnapshot(dir, i))

	r := New(nil)
	restored, err := r.ReloadFromDisk(dir, map[string]*fsm.Kind{"demo.widget": k})
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	got, ok := r.Get(i.ID)
	require.True(t, ok)
	assert.Equal(t, i.CurrentState(), got.CurrentState())
	assert.Equal(t, "hi", got.GetData("note"))
}

func TestReloadFromDiskSkipsUnknownKinds(t *testing.T) {
	dir := t.TempDir()
	k := testKind(t)
	i := fsm.New(k, "tenant-a", nil)
	require.NoError(t, WriteSnapshot(dir, i))

	r := New(nil)
	restored, err := r.ReloadFromDisk(dir, map[string]*fsm.Kind{})
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
}
