// Package membership holds the domain model of remembered entities.
//
// An owner (a shard or the coordinator of a sharded type) remembers a set of
// ids: the entities a shard has started, or the shards the coordinator has
// allocated. The set is persisted as a log of change events:
//
//   - Started(id) adds id to the set.
//   - Stopped(id) removes id from the set.
//   - Replaced(state) replaces the whole set (durable-state mode only).
//
// Apply is the single reducer for these events. Stores call it when a change
// commits and when they replay the log, which keeps both paths identical.
// Applying Started twice is harmless, so a retried write never changes the
// recovered set.
//
// The package also defines the stable persistence ids of the owners, the
// binary encoding of events and snapshots, the persistence Mode and a
// FaultPolicy used by tests to make stores fail on purpose.
package membership
