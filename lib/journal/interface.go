package journal

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// Event is one entry of a persistence id's append-only log.
// Seq starts at 1 and grows by exactly one per append.
type Event struct {
	Seq     uint64
	Payload []byte
}

// Snapshot is a point-in-time state of a persistence id.
// Seq is the cursor: the snapshot already reflects every event with a sequence number <= Seq.
type Snapshot struct {
	Seq     uint64
	Payload []byte
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Journal is a durable log of events plus snapshots, partitioned by persistence id.
// Implementations must honor submission order per persistence id and report success
// or failure per request. Different persistence ids never interfere with each other.
type Journal interface {
	// Append adds an event to the log of pid. The event's Seq must be exactly
	// HighestSeq(pid)+1, otherwise an error with code RetCSequenceConflict is returned
	// and nothing is written.
	Append(ctx context.Context, pid string, event Event) (err error)
	// Replay yields the events of pid with Seq >= fromSeq in sequence order.
	// The sequence is lazy and finite. It cannot be resumed after an error,
	// a fresh Replay is needed instead.
	Replay(ctx context.Context, pid string, fromSeq uint64) iter.Seq2[Event, error]
	// HighestSeq returns the highest sequence number ever appended for pid, even if the
	// event itself was deleted since. Zero means nothing was ever appended.
	HighestSeq(ctx context.Context, pid string) (seq uint64, err error)
	// SaveSnapshot stores a snapshot of pid. A snapshot with the same Seq is replaced.
	SaveSnapshot(ctx context.Context, pid string, snapshot Snapshot) (err error)
	// LoadSnapshot returns the snapshot of pid with the highest Seq.
	// The boolean return value indicates whether a snapshot was found.
	LoadSnapshot(ctx context.Context, pid string) (snapshot Snapshot, found bool, err error)
	// DeleteEvents deletes all events of pid with Seq <= toSeq. HighestSeq is not affected.
	DeleteEvents(ctx context.Context, pid string, toSeq uint64) (err error)
	// DeleteSnapshots deletes all snapshots of pid with Seq <= maxSeq.
	DeleteSnapshots(ctx context.Context, pid string, maxSeq uint64) (err error)
	// Close releases the resources of the journal.
	Close() (err error)
}

// Backend selects a Journal implementation
type Backend string

const (
	BackendMemory  Backend = "memory"  // process local, not durable (ljournal)
	BackendLevelDB Backend = "leveldb" // durable on a single node (leveljournal)
	BackendRaft    Backend = "raft"    // replicated with dragonboat (djournal)
)

// ParseBackend converts a string to a Backend
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendMemory, BackendLevelDB, BackendRaft:
		return b, nil
	default:
		return "", fmt.Errorf("invalid journal backend %q (expected one of: memory, leveldb, raft)", s)
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("JournalError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is a journal error with the same code, so that
// errors.Is(err, ErrSequenceConflict) works for any message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new journal error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new journal error with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// ErrSequenceConflict matches every error with code RetCSequenceConflict
var ErrSequenceConflict = NewError(RetCSequenceConflict, "sequence conflict")

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation.
	RetCSequenceConflict                // 3: Append with a sequence number other than highest+1.
	RetCClosed                          // 4: The journal was closed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCSequenceConflict:
		return "SequenceConflict"
	case RetCClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}

// CheckAppend validates the sequence number of an event against the highest sequence number
func CheckAppend(pid string, highest uint64, event Event) error {
	if event.Seq != highest+1 {
		return Errorf(RetCSequenceConflict, "append to %s with seq %d, expected %d", pid, event.Seq, highest+1)
	}
	return nil
}

// Events wraps a slice of events into a replay sequence
func Events(events []Event) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Failed returns a replay sequence that yields only err
func Failed(err error) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		yield(Event{}, err)
	}
}
