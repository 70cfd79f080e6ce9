package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statecraft/internal/fsm"
)

func testKind(t *testing.T) *fsm.Kind {
	t.Helper()
	k, err := fsm.NewKind("demo.widget").
		Initial("idle").
		State("active").
		Transition("idle", "activate", "active").
		Build()
	require.NoError(t, err)
	return k
}

func TestRegisterGetUnregister(t *testing.T) {
	r := New(nil)
	k := testKind(t)
	i := fsm.New(k, "tenant-a", nil)

	r.Register(i)
	got, ok := r.Get(i.ID)
	require.True(t, ok)
	assert.Equal(t, i.ID, got.ID)

	assert.True(t, r.Unregister(i.ID))
	_, ok = r.Get(i.ID)
	assert.False(t, ok)
}

func TestListByTenantAndKindStayConsistent(t *testing.T) {
	r := New(nil)
	k := testKind(t)
	i1 := fsm.New(k, "tenant-a", nil)
	i2 := fsm.New(k, "tenant-b", nil)
	r.Register(i1)
	r.Register(i2)

	byTenant := r.ListByTenant("tenant-a")
	require.Len(t, byTenant, 1)
	assert.Equal(t, i1.ID, byTenant[0].ID)

	byKind := r.ListByKind("demo.widget")
	assert.Len(t, byKind, 2)
}

func TestUnregisterRemovesFromAllIndexes(t *testing.T) {
	r := New(nil)
	k := testKind(t)
	i := fsm.New(k, "tenant-a", nil)
	r.Register(i)
	r.Unregister(i.ID)

	assert.Empty(t, r.ListByTenant("tenant-a"))
	assert.Empty(t, r.ListByKind("demo.widget"))
	assert.Empty(t, r.ListAll())
}

func TestStatsTracksCounters(t *testing.T) {
	r := New(nil)
	k := testKind(t)
	i := fsm.New(k, "tenant-a", nil)
	r.Register(i)
	r.Unregister(i.ID)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.TotalRegistered)
	assert.Equal(t, int64(1), stats.TotalUnregistered)
	assert.Equal(t, 0, stats.CurrentCount)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestBroadcastDeliversToEveryTargetInTenant(t *testing.T) {
	r := New(nil)
	k := testKind(t)
	i1 := fsm.New(k, "tenant-a", nil)
	i2 := fsm.New(k, "tenant-a", nil)
	i3 := fsm.New(k, "tenant-b", nil)
	r.Register(i1)
	r.Register(i2)
	r.Register(i3)

	received := make(chan string, 3)
	n := r.Broadcast("ping", nil, "tenant-a", func(i *fsm.Instance, eventType string, data map[string]any) {
		received <- i.ID
	})
	assert.Equal(t, 2, n)

	got := []string{<-received, <-received}
	assert.ElementsMatch(t, []string{i1.ID, i2.ID}, got)
}
