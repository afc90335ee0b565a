package internal

import "github.com/ValentinKolb/dMem/lib/journal"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTReplay       QueryType = iota // Read the events of a stream from Seq on.
	QueryTHighestSeq                    // Read the highest sequence number of a stream.
	QueryTLoadSnapshot                  // Read the latest snapshot of a stream.
)

func (q QueryType) String() string {
	switch q {
	case QueryTReplay:
		return "Replay"
	case QueryTHighestSeq:
		return "HighestSeq"
	case QueryTLoadSnapshot:
		return "LoadSnapshot"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead
type Query struct {
	Type QueryType
	PID  string
	Seq  uint64 // first sequence number for QueryTReplay
}

// SnapshotResult is the result of a QueryTLoadSnapshot query.
// QueryTReplay returns []journal.Event and QueryTHighestSeq returns uint64.
type SnapshotResult struct {
	Found    bool
	Snapshot journal.Snapshot
}
