// Package djournal implements a replicated journal.Journal using the Dragonboat
// RAFT library.
//
// Architecture:
//
//   - Journal Client: implements journal.Journal and talks to one raft shard.
//     Writes are serialized into internal.Command values and proposed with
//     SyncPropose, reads are internal.Query values executed with SyncRead.
//
//   - State Machine: a Dragonboat IConcurrentStateMachine holding the events,
//     snapshots and highest sequence numbers of every persistence id. The
//     sequence check of Append runs inside Update, so two writers racing for
//     the same sequence number are decided by the raft log order and the loser
//     gets RetCSequenceConflict.
//
// Snapshots:
//
//	PrepareSnapshot copies the stream index under a read lock, SaveSnapshot
//	gob encodes that copy while Update keeps running. Old journal events are
//	removed by DeleteEvents commands, which keeps raft snapshots small.
//
// The journal does not own the NodeHost. Starting the NodeHost and the shard is
// the job of the caller, see cmd/serve.
package djournal
