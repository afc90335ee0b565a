// Package internal defines the commands and queries exchanged between the
// djournal client and its state machine.
//
// Commands change the journal and are stored in the raft log, so they carry a
// compact binary encoding:
//
//	1 byte   command type (Append, SaveSnapshot, DeleteEvents, DeleteSnapshots)
//	8 bytes  sequence number (uint64, big endian)
//	4 bytes  persistence id length (uint32, big endian)
//	N bytes  persistence id
//	M bytes  payload (optional, event or snapshot bytes)
//
// Queries are read-only and executed locally on the state machine via SyncRead,
// so they are passed as plain structs and never serialized.
package internal
