package provider

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dMem/lib/journal/ljournal"
	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/membership/mstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		TypeName:        "Counter",
		Mode:            membership.ModeEventSourced,
		Journal:         ljournal.NewLocalJournal(),
		SnapshotAfter:   10,
		KeepNrOfBatches: 2,
		JournalTimeout:  time.Second,
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "Empty type name", modify: func(c *Config) { c.TypeName = "" }},
		{name: "Slash in type name", modify: func(c *Config) { c.TypeName = "CounterShard/" }},
		{name: "Missing journal", modify: func(c *Config) { c.Journal = nil }},
		{name: "Unknown mode", modify: func(c *Config) { c.Mode = "ddata" }},
		{name: "No snapshots in eventsourced mode", modify: func(c *Config) { c.SnapshotAfter = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}

	cfg := validConfig()
	cfg.Mode = membership.ModeDurableState
	cfg.SnapshotAfter = 0
	_, err := New(cfg)
	assert.NoError(t, err, "durable-state does not snapshot")
}

func TestStoresAreFreshAndDeterministic(t *testing.T) {
	p, err := New(validConfig())
	require.NoError(t, err)

	a := p.ShardStore("3")
	b := p.ShardStore("3")
	defer a.Close()
	defer b.Close()

	assert.Equal(t, "/sharding/CounterShard/3", a.PersistenceID().String())
	assert.Equal(t, a.PersistenceID(), b.PersistenceID())
	assert.NotEqual(t, a.IncarnationID(), b.IncarnationID())

	c := p.CoordinatorStore()
	defer c.Close()
	assert.Equal(t, "/sharding/CounterCoordinator", c.PersistenceID().String())
}

func TestStoresShareTheJournal(t *testing.T) {
	p, err := New(validConfig())
	require.NoError(t, err)

	first := p.ShardStore("1")
	first.Tell(mstore.AddEntity{ID: "e"})
	select {
	case r := <-first.Replies():
		require.Equal(t, mstore.UpdateDone{ID: "e"}, r)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
	first.Close()

	second := p.ShardStore("1")
	defer second.Close()
	second.Tell(mstore.GetEntities{})
	select {
	case r := <-second.Replies():
		assert.Equal(t, mstore.RememberedEntities{IDs: membership.NewState("e")}, r)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
}
