package inspect

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dMem/lib/journal/leveljournal"
	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/membership/mstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remember(t *testing.T, st *mstore.Store, cmds ...mstore.Command) {
	t.Helper()
	for _, cmd := range cmds {
		st.Tell(cmd)
		select {
		case rep := <-st.Replies():
			_, ok := rep.(mstore.UpdateDone)
			require.True(t, ok, "unexpected reply %T", rep)
		case <-time.After(2 * time.Second):
			t.Fatal("store did not answer")
		}
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	j, err := leveljournal.Open(filepath.Join(dir, "journal"))
	require.NoError(t, err)

	settings := mstore.Settings{Journal: j, Mode: membership.ModeEventSourced, SnapshotAfter: 2, KeepNrOfBatches: 1, JournalTimeout: time.Second}
	shard := mstore.New(membership.ShardPersistenceID("Counter", "7"), settings)
	remember(t, shard, mstore.AddEntity{ID: "b"}, mstore.AddEntity{ID: "a"}, mstore.AddEntity{ID: "c"}, mstore.RemoveEntity{ID: "c"})
	shard.Close()

	coord := mstore.New(membership.CoordinatorPersistenceID("Counter"), settings)
	remember(t, coord, mstore.AddShard{ID: "7"})
	coord.Close()
	require.NoError(t, j.Close())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"shard", []string{"--shard", "7"}, "/sharding/CounterShard/7 (2)\na\nb\n"},
		{"coordinator", nil, "/sharding/CounterCoordinator (1)\n7\n"},
		{"unknown shard", []string{"--shard", "8"}, "/sharding/CounterShard/8 (0)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			InspectCmd.SetOut(&out)
			InspectCmd.SetArgs(append([]string{"--data-dir", dir, "--type-name", "Counter", "--shard", ""}, tt.args...))
			require.NoError(t, InspectCmd.Execute())
			assert.Equal(t, tt.want, out.String())
		})
	}
}
