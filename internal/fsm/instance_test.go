package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDataMissingKeyReturnsEmptyString(t *testing.T) {
	i := New(doorKindNoTest(), "t1", nil)
	assert.Equal(t, "", i.GetData("nope"))
}

func TestPutAndGetDataRoundTrip(t *testing.T) {
	i := New(doorKindNoTest(), "t1", nil)
	i.PutData("k", 42)
	assert.Equal(t, 42, i.GetData("k"))
}

func TestMergeDataOverwritesOnCollision(t *testing.T) {
	i := New(doorKindNoTest(), "t1", map[string]any{"k": "old"})
	i.MergeData(map[string]any{"k": "new", "other": 1})
	assert.Equal(t, "new", i.GetData("k"))
	assert.Equal(t, 1, i.GetData("other"))
}

func TestUpdateDataAppliesFnToLenientDefault(t *testing.T) {
	i := New(doorKindNoTest(), "t1", nil)
	i.UpdateData("counter", func(v any) any {
		s, _ := v.(string)
		return s + "x"
	})
	assert.Equal(t, "x", i.GetData("counter"))
}

func TestNewInstanceStartsInInitialState(t *testing.T) {
	i := New(doorKindNoTest(), "t1", nil)
	assert.Equal(t, State("closed"), i.CurrentState())
	assert.Equal(t, 1, i.Metadata.Version)
}

func TestPluginDataIsPerPluginAndPersists(t *testing.T) {
	i := New(doorKindNoTest(), "t1", nil)
	m := i.PluginData("audit")
	m["seen"] = true
	assert.Equal(t, true, i.PluginData("audit")["seen"])
}

// doorKindNoTest avoids requiring *testing.T in instance-only tests.
func doorKindNoTest() *Kind {
	k, err := NewKind("demo.door").
		Initial("closed").
		State("open").
		Transition("closed", "open", "open").
		Transition("open", "close", "closed").
		Build()
	if err != nil {
		panic(err)
	}
	return k
}
