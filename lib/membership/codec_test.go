package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCodec(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{name: "Started", event: Started("entity-1")},
		{name: "Stopped", event: Stopped("entity-1")},
		{name: "Started with empty id", event: Started("")},
		{name: "Unicode id", event: Started("实体")},
		{name: "Replaced", event: Replaced(NewState("1", "2", "10"))},
		{name: "Replaced empty", event: Replaced(NewState())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent(EncodeEvent(tt.event))
			require.NoError(t, err)
			assert.Equal(t, tt.event.Kind, got.Kind)
			assert.Equal(t, tt.event.ID, got.ID)
			if tt.event.Kind == KindReplaced {
				assert.True(t, tt.event.State.Equal(got.State))
			}
		})
	}
}

func TestEncodeStateDeterministic(t *testing.T) {
	a := NewState("c", "a", "b")
	b := NewState("b", "c", "a")
	assert.Equal(t, EncodeState(a), EncodeState(b))
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeEvent(nil)
	assert.Error(t, err)

	_, err = DecodeEvent([]byte{99, 'x'})
	assert.Error(t, err)

	valid := EncodeState(NewState("abc", "de"))
	for i := 0; i < len(valid); i++ {
		_, err := DecodeState(valid[:i])
		assert.Error(t, err, "prefix of length %d must not decode", i)
	}

	_, err = DecodeState(append(valid, 0))
	assert.Error(t, err, "trailing bytes must be rejected")

	// count far beyond the record size
	_, err = DecodeState([]byte{0xff, 0xff, 0x03})
	assert.Error(t, err)
}

func TestPersistenceID(t *testing.T) {
	assert.Equal(t, "/sharding/CounterShard/3", ShardPersistenceID("Counter", "3").String())
	assert.Equal(t, "/sharding/CounterCoordinator", CoordinatorPersistenceID("Counter").String())
	assert.NotEqual(t, ShardPersistenceID("Counter", "1").String(), ShardPersistenceID("Counter", "10").String())
	assert.NotEqual(t, ShardPersistenceID("A", "1").String(), ShardPersistenceID("B", "1").String())
}

func TestValidateTypeName(t *testing.T) {
	// these two would share the log /sharding/XShard/Coordinator
	assert.Equal(t, ShardPersistenceID("X", "Coordinator").String(), CoordinatorPersistenceID("XShard/").String())
	assert.Error(t, ValidateTypeName("XShard/"))

	assert.Error(t, ValidateTypeName(""))
	assert.Error(t, ValidateTypeName("a/b"))
	assert.NoError(t, ValidateTypeName("X"))
	assert.NoError(t, ValidateTypeName("Counter-v2"))
}

func TestFaultTable(t *testing.T) {
	ft := NewFaultTable()
	assert.Equal(t, FaultNone, ft.Fault(RoleShard, OpAdd, "11"))

	ft.FailAddEntity("11", FaultStopStore)
	ft.FailAddShard("1", FaultNoResponse)
	assert.Equal(t, FaultStopStore, ft.Fault(RoleShard, OpAdd, "11"))
	assert.Equal(t, FaultNone, ft.Fault(RoleShard, OpRemove, "11"))
	assert.Equal(t, FaultNone, ft.Fault(RoleCoordinator, OpAdd, "11"))
	assert.Equal(t, FaultNoResponse, ft.Fault(RoleCoordinator, OpAdd, "1"))

	ft.FailAddEntity("11", FaultNone)
	assert.Equal(t, FaultNone, ft.Fault(RoleShard, OpAdd, "11"))

	ft.ClearAll()
	assert.Equal(t, FaultNone, ft.Fault(RoleCoordinator, OpAdd, "1"))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("durable-state")
	require.NoError(t, err)
	assert.Equal(t, ModeDurableState, m)

	_, err = ParseMode("ddata")
	assert.Error(t, err)
}
