package inspect

import (
	"fmt"
	"path/filepath"
	"time"

	cmdUtil "github.com/ValentinKolb/dMem/cmd/util"
	"github.com/ValentinKolb/dMem/lib/journal/leveljournal"
	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/membership/mstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InspectCmd prints the remembered ids of one owner from a leveldb journal.
// The node owning the journal must be stopped, leveldb allows a single process only.
var InspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the remembered entities of a shard or the allocated shards",
	Long: `Recover a remember entities store from a leveldb journal and print its members.
Without --shard the shards allocated by the coordinator are printed.`,
	Example: `  dmem inspect --type-name Counter            # allocated shards
  dmem inspect --type-name Counter --shard 42 # entities of shard 42`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return cmdUtil.BindCommandFlags(cmd)
	},
	RunE: run,
}

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "data-dir"
	InspectCmd.Flags().String(key, "data", cmdUtil.WrapString("DataDir of the node, the journal is read from <data-dir>/journal"))
	key = "type-name"
	InspectCmd.Flags().String(key, "Counter", cmdUtil.WrapString("TypeName of the sharded entity type"))
	key = "shard"
	InspectCmd.Flags().String(key, "", cmdUtil.WrapString("Shard id to inspect. If empty the coordinator is inspected"))
	key = "timeout"
	InspectCmd.Flags().Duration(key, 10*time.Second, cmdUtil.WrapString("Max time for recovering the store"))
}

func run(cmd *cobra.Command, _ []string) error {
	j, err := leveljournal.Open(filepath.Join(viper.GetString("data-dir"), "journal"))
	if err != nil {
		return err
	}
	defer j.Close()

	typeName := viper.GetString("type-name")
	shardID := viper.GetString("shard")

	pid := membership.CoordinatorPersistenceID(typeName)
	var query mstore.Command = mstore.GetShards{}
	if shardID != "" {
		pid = membership.ShardPersistenceID(typeName, shardID)
		query = mstore.GetEntities{}
	}

	// replay reads snapshots and events of both modes, the store never writes here
	st := mstore.New(pid, mstore.Settings{
		Journal:        j,
		Mode:           membership.ModeEventSourced,
		JournalTimeout: viper.GetDuration("timeout"),
	})
	defer st.Close()
	st.Tell(query)

	var ids membership.State
	select {
	case rep, ok := <-st.Replies():
		if !ok {
			<-st.Done()
			return fmt.Errorf("failed to recover %s: %w", pid, st.Err())
		}
		switch r := rep.(type) {
		case mstore.RememberedEntities:
			ids = r.IDs
		case mstore.RememberedShards:
			ids = r.IDs
		default:
			return fmt.Errorf("unexpected reply %T", rep)
		}
	case <-time.After(viper.GetDuration("timeout")):
		return fmt.Errorf("recovering %s timed out", pid)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s (%d)\n", pid, len(ids))
	for _, id := range ids.Sorted() {
		_, _ = fmt.Fprintln(out, id)
	}
	return nil
}
