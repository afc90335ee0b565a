// Package journal defines the durable storage the membership stores are built on:
// an append-only event log plus point-in-time snapshots, partitioned by
// persistence id.
//
// Key Components:
//
//   - Journal Interface: Append, Replay, HighestSeq, SaveSnapshot, LoadSnapshot,
//     DeleteEvents, DeleteSnapshots and Close. All methods are safe for concurrent
//     use, ordering is only guaranteed per persistence id.
//
//   - Sequence Numbers: every persistence id has its own gapless sequence. Append
//     only accepts HighestSeq+1. A writer that lost track of the log (for example
//     a store instance whose owner already restarted, and whose write is committed
//     late) gets RetCSequenceConflict instead of silently interleaving with a newer
//     writer. HighestSeq survives DeleteEvents so deleted ranges are never reused.
//
//   - Error System: *Error carries a RetCode. errors.Is(err, ErrSequenceConflict)
//     matches any sequence conflict.
//
// Implementations:
//
//   - ljournal: in memory, for tests and single process development.
//   - leveljournal: durable on local disk using goleveldb.
//   - djournal: replicated using the Dragonboat RAFT library.
//
// The journal is a plain storage engine. Snapshot frequency and retention are
// decided by the caller (see the membership store).
package journal
