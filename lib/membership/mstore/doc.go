// Package mstore implements the membership store actor used by shards and by
// the coordinator.
//
// A Store owns the remembered set of exactly one persistence id. It runs in its
// own goroutine and is driven by commands:
//
//	shard role:        AddEntity, RemoveEntity -> UpdateDone
//	                   GetEntities             -> RememberedEntities
//	coordinator role:  AddShard                -> UpdateDone
//	                   GetShards               -> RememberedShards
//
// Lifecycle:
//
//  1. New starts the actor. It loads the latest snapshot and replays the events
//     after its cursor before any command is processed. A recovery failure
//     terminates the store with an error.
//  2. Commands are processed one by one. A change is appended to the journal
//     and acknowledged with UpdateDone only after the append committed.
//  3. A failed append terminates the store with an error. The owner then
//     restarts with a fresh store, whose recovery tells whether the write landed.
//
// Persistence modes:
//
//   - eventsourced: one Started/Stopped event per change. Every SnapshotAfter
//     events a snapshot is saved. A successful snapshot at seq deletes the
//     events up to seq-KeepNrOfBatches*SnapshotAfter and the snapshots below
//     that bound. Snapshot and deletion failures are logged and counted but
//     never fail a write.
//   - durable-state: every change appends the complete new state as one
//     Replaced record and deletes the records before it, so recovery reads a
//     single record.
//
// Fault injection:
//
//	A membership.FaultPolicy passed in Settings is consulted before a command
//	touches the journal. FaultNoResponse swallows the command, FaultCrashStore
//	terminates the store with ErrInjectedCrash and FaultStopStore terminates it
//	without an error.
package mstore
