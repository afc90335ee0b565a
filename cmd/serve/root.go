package serve

import (
	"fmt"
	"strings"
	"time"

	cmdUtil "github.com/ValentinKolb/dMem/cmd/util"
	"github.com/ValentinKolb/dMem/lib/common"
	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/sharding"
	"github.com/ValentinKolb/dMem/lib/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.Config{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a dMem node",
		Long: `Start a dMem node running a sharded demo counter entity with remembered entities.
The configuration can be set via command line flags or environment variables. The format of the environment variables is DMEM_<flag> (e.g. DMEM_SNAPSHOT_AFTER=100)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	flags := ServeCmd.PersistentFlags()
	defaults := sharding.DefaultSettings()

	// sharding
	key := "type-name"
	flags.String(key, "Counter", cmdUtil.WrapString("TypeName is the name of the sharded entity type. It is part of every persistence id, changing it loses all remembered entities"))
	key = "number-of-shards"
	flags.Uint64(key, defaults.NumberOfShards, cmdUtil.WrapString("NumberOfShards is the number of shards the entity ids are hashed onto"))
	key = "retry-interval"
	flags.Duration(key, defaults.RetryInterval, cmdUtil.WrapString("RetryInterval defines how often the region repeats unanswered shard home requests"))
	key = "buffer-size"
	flags.Int(key, defaults.BufferSize, cmdUtil.WrapString("BufferSize is the max number of messages the region buffers while shard homes are unknown"))

	// remember entities
	key = "mode"
	flags.String(key, string(membership.ModeEventSourced), cmdUtil.WrapString("Mode of the remember entities stores (eventsourced, durable-state)"))
	key = "snapshot-after"
	flags.Uint64(key, 1000, cmdUtil.WrapString("(eventsourced) SnapshotAfter defines after how many events of a persistence id a snapshot is stored"))
	key = "keep-nr-of-batches"
	flags.Uint64(key, 2, cmdUtil.WrapString("(eventsourced) KeepNrOfBatches is the number of SnapshotAfter sized event batches kept before a snapshot when compacting"))
	key = "updating-state-timeout"
	flags.Duration(key, defaults.UpdatingStateTimeout, cmdUtil.WrapString("UpdatingStateTimeout is the max time a shard or the coordinator waits for its store. When exceeded the owner is restarted"))
	backoffs := map[string]sharding.Backoff{
		"entity-restart":      defaults.EntityRestartBackoff,
		"shard-failure":       defaults.ShardFailureBackoff,
		"coordinator-failure": defaults.CoordinatorFailureBackoff,
	}
	for name, b := range backoffs {
		flags.Duration(name+"-backoff-min", b.Min, cmdUtil.WrapString(fmt.Sprintf("Minimum %s backoff", strings.ReplaceAll(name, "-", " "))))
		flags.Duration(name+"-backoff-max", b.Max, cmdUtil.WrapString(fmt.Sprintf("Maximum %s backoff", strings.ReplaceAll(name, "-", " "))))
	}
	key = "backoff-random-factor"
	flags.Float64(key, defaults.ShardFailureBackoff.RandomFactor, cmdUtil.WrapString("Jitter added to all backoffs as a fraction of the delay"))

	// journal
	key = "journal"
	flags.String(key, string(journal.BackendLevelDB), cmdUtil.WrapString("Journal backend of the stores (memory, leveldb, raft)"))
	key = "journal-timeout"
	flags.Duration(key, 5*time.Second, cmdUtil.WrapString("Timeout of a single journal request"))
	key = "data-dir"
	flags.String(key, "data", cmdUtil.WrapString("(leveldb, raft) DataDir is the directory of the journal and the raft log"))

	// raft
	key = "journal-shard-id"
	flags.Uint64(key, 1, cmdUtil.WrapString("(raft) JournalShardID is the raft shard that replicates the journal"))
	key = "rtt-millisecond"
	flags.Uint64(key, 100, cmdUtil.WrapString("(raft) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value) are derived from this value"))
	key = "raft-snapshot-entries"
	flags.Uint64(key, 1000, cmdUtil.WrapString("(raft) SnapshotEntries defines how often the journal state machine is snapshotted, in applied raft log entries"))
	key = "raft-compaction-overhead"
	flags.Uint64(key, 500, cmdUtil.WrapString("(raft) CompactionOverhead defines how many raft log entries are kept after a snapshot"))
	key = "replica-id"
	flags.String(key, "", cmdUtil.WrapString("(raft) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))
	key = "cluster-members"
	flags.String(key, "", cmdUtil.WrapString("(raft) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	// api + logging
	key = "endpoint"
	flags.String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the HTTP API will listen"))
	key = "log-level"
	flags.String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "log-format"
	flags.String(key, "console", cmdUtil.WrapString("LogFormat is the output format of the logs (console, json)"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	c := serveCmdConfig

	c.TypeName = viper.GetString("type-name")
	c.NumberOfShards = viper.GetUint64("number-of-shards")
	c.RetryInterval = viper.GetDuration("retry-interval")
	c.BufferSize = viper.GetInt("buffer-size")

	c.Mode = viper.GetString("mode")
	if _, err := membership.ParseMode(c.Mode); err != nil {
		return err
	}
	c.SnapshotAfter = viper.GetUint64("snapshot-after")
	c.KeepNrOfBatches = viper.GetUint64("keep-nr-of-batches")
	c.UpdatingStateTimeout = viper.GetDuration("updating-state-timeout")
	c.EntityRestartBackoff = backoffFlags("entity-restart")
	c.ShardFailureBackoff = backoffFlags("shard-failure")
	c.CoordinatorFailureBackoff = backoffFlags("coordinator-failure")
	c.BackoffRandomFactor = viper.GetFloat64("backoff-random-factor")

	c.Journal = viper.GetString("journal")
	if _, err := journal.ParseBackend(c.Journal); err != nil {
		return err
	}
	var err error
	if c.JournalTimeout, err = cmdUtil.GetDuration("journal-timeout"); err != nil {
		return err
	}
	c.DataDir = viper.GetString("data-dir")

	c.JournalShardID = viper.GetUint64("journal-shard-id")
	c.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	c.RaftSnapshotEntries = viper.GetUint64("raft-snapshot-entries")
	c.RaftCompactionOverhead = viper.GetUint64("raft-compaction-overhead")

	c.Endpoint = viper.GetString("endpoint")
	c.LogLevel = viper.GetString("log-level")
	c.LogFormat = viper.GetString("log-format")

	if !c.UsesRaft() {
		return nil
	}

	// parse replica id
	id := viper.GetString("replica-id")
	if id == "" {
		return fmt.Errorf("replica-id is required for the raft journal")
	}
	c.ReplicaID = util.HashString(id, 0)

	// parse cluster members
	clusterMembers := viper.GetString("cluster-members")
	if clusterMembers == "" {
		return fmt.Errorf("cluster-members is required for the raft journal")
	}
	c.ClusterMembers = make(map[uint64]string)
	for _, member := range strings.Split(clusterMembers, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		c.ClusterMembers[util.HashString(strings.TrimSpace(parts[0]), 0)] = strings.TrimSpace(parts[1])
	}

	if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %s in cluster members", id)
	}
	return nil
}

func backoffFlags(prefix string) common.BackoffConfig {
	return common.BackoffConfig{
		Min: viper.GetDuration(prefix + "-backoff-min"),
		Max: viper.GetDuration(prefix + "-backoff-max"),
	}
}
