package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions to interface with Dragonboat (replicated journal)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the Config to the Dragonboat config of the journal shard
func (c *Config) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.JournalShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.RaftSnapshotEntries,
		CompactionOverhead: c.RaftCompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *Config) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Node configuration struct
// --------------------------------------------------------------------------

// BackoffConfig is the floor and ceiling of an exponential backoff
type BackoffConfig struct {
	Min time.Duration
	Max time.Duration
}

func (b BackoffConfig) String() string {
	return fmt.Sprintf("%s .. %s", b.Min, b.Max)
}

// Config holds all configuration parameters of a dMem node.
type Config struct {
	// Sharding
	TypeName       string
	NumberOfShards uint64
	RetryInterval  time.Duration
	BufferSize     int

	// Remember entities
	Mode                      string // eventsourced, durable-state
	SnapshotAfter             uint64
	KeepNrOfBatches           uint64
	UpdatingStateTimeout      time.Duration
	EntityRestartBackoff      BackoffConfig
	ShardFailureBackoff       BackoffConfig
	CoordinatorFailureBackoff BackoffConfig
	BackoffRandomFactor       float64

	// Journal
	Journal        string // memory, leveldb, raft
	JournalTimeout time.Duration
	DataDir        string

	// Dragonboat parameters (raft journal only)
	JournalShardID         uint64
	RTTMillisecond         uint64
	RaftSnapshotEntries    uint64
	RaftCompactionOverhead uint64
	ReplicaID              uint64
	ClusterMembers         map[uint64]string

	// HTTP api settings
	Endpoint string

	// Logging configuration
	LogLevel  string
	LogFormat string
}

// UsesRaft checks if the configuration needs a dragonboat NodeHost
func (c *Config) UsesRaft() bool {
	return c.Journal == "raft"
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-28s: %s\n", name, value))
	}

	addSection("HTTP Server")
	addField("Endpoint", c.Endpoint)

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)

	addSection("Sharding")
	addField("Type Name", c.TypeName)
	addField("Number Of Shards", strconv.FormatUint(c.NumberOfShards, 10))
	addField("Retry Interval", c.RetryInterval.String())
	addField("Buffer Size", strconv.Itoa(c.BufferSize))

	addSection("Remember Entities")
	addField("Mode", c.Mode)
	addField("Snapshot After", strconv.FormatUint(c.SnapshotAfter, 10))
	addField("Keep Nr Of Batches", strconv.FormatUint(c.KeepNrOfBatches, 10))
	addField("Updating State Timeout", c.UpdatingStateTimeout.String())
	addField("Entity Restart Backoff", c.EntityRestartBackoff.String())
	addField("Shard Failure Backoff", c.ShardFailureBackoff.String())
	addField("Coordinator Failure Backoff", c.CoordinatorFailureBackoff.String())
	addField("Backoff Random Factor", strconv.FormatFloat(c.BackoffRandomFactor, 'f', 2, 64))

	addSection("Journal")
	addField("Backend", c.Journal)
	addField("Timeout", c.JournalTimeout.String())
	if c.Journal != "memory" {
		addField("Data Directory", c.DataDir)
	}

	if c.UsesRaft() {
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		addSection("RAFT Parameters")
		addField("Journal Shard ID", strconv.FormatUint(c.JournalShardID, 10))
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.RaftSnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.RaftCompactionOverhead))

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}
