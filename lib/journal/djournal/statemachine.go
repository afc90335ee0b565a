package djournal

import (
	"encoding/gob"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/journal/djournal/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// Stream is the replicated state of one persistence id.
// Fields are exported for gob.
type Stream struct {
	Events    []journal.Event    // ordered by Seq
	Snapshots []journal.Snapshot // ordered by Seq
	Highest   uint64
}

func (s *Stream) clone() *Stream {
	c := &Stream{
		Events:    make([]journal.Event, len(s.Events)),
		Snapshots: make([]journal.Snapshot, len(s.Snapshots)),
		Highest:   s.Highest,
	}
	// payloads are never mutated after apply, sharing them is fine
	copy(c.Events, s.Events)
	copy(c.Snapshots, s.Snapshots)
	return c
}

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// JournalStateMachine is a state machine implementation for Dragonboat RAFT.
// A single raft shard holds the streams of all persistence ids.
type JournalStateMachine struct {
	replicaID uint64
	shardID   uint64

	mu      sync.RWMutex // Update runs concurrently with Lookup and PrepareSnapshot
	streams map[string]*Stream
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
func CreateStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &JournalStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			streams:   make(map[string]*Stream),
		}
	}
}

// Lookup handles read-only queries. Every result is a copy that is safe to use after the call.
func (fsm *JournalStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, journal.NewError(journal.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	fsm.mu.RLock()
	defer fsm.mu.RUnlock()

	s := fsm.streams[q.PID]

	switch q.Type {
	case internal.QueryTReplay:
		if s == nil {
			return []journal.Event{}, nil
		}
		idx := sort.Search(len(s.Events), func(i int) bool { return s.Events[i].Seq >= q.Seq })
		events := make([]journal.Event, len(s.Events)-idx)
		copy(events, s.Events[idx:])
		return events, nil
	case internal.QueryTHighestSeq:
		if s == nil {
			return uint64(0), nil
		}
		return s.Highest, nil
	case internal.QueryTLoadSnapshot:
		if s == nil || len(s.Snapshots) == 0 {
			return internal.SnapshotResult{}, nil
		}
		return internal.SnapshotResult{Found: true, Snapshot: s.Snapshots[len(s.Snapshots)-1]}, nil
	default:
		return nil, journal.NewError(journal.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update applies committed commands. A failed command (e.g. a sequence conflict) is
// reported in its result and does not change the state.
func (fsm *JournalStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(journal.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(journal.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}
		entries[idx].Result = fsm.apply(cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("Statemachine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *JournalStateMachine) stream(pid string) *Stream {
	s, ok := fsm.streams[pid]
	if !ok {
		s = &Stream{}
		fsm.streams[pid] = s
	}
	return s
}

// apply executes one command, the caller holds the write lock
func (fsm *JournalStateMachine) apply(cmd internal.Command) sm.Result {
	s := fsm.stream(cmd.PID)

	switch cmd.Type {
	case internal.CommandTAppend:
		if cmd.Seq != s.Highest+1 {
			return sm.Result{
				Value: uint64(journal.RetCSequenceConflict),
				Data:  []byte(fmt.Sprintf("append to %s with seq %d, expected %d", cmd.PID, cmd.Seq, s.Highest+1)),
			}
		}
		s.Events = append(s.Events, journal.Event{Seq: cmd.Seq, Payload: cmd.Payload})
		s.Highest = cmd.Seq
	case internal.CommandTSaveSnapshot:
		snap := journal.Snapshot{Seq: cmd.Seq, Payload: cmd.Payload}
		idx := sort.Search(len(s.Snapshots), func(i int) bool { return s.Snapshots[i].Seq >= snap.Seq })
		if idx < len(s.Snapshots) && s.Snapshots[idx].Seq == snap.Seq {
			s.Snapshots[idx] = snap
			break
		}
		s.Snapshots = append(s.Snapshots, journal.Snapshot{})
		copy(s.Snapshots[idx+1:], s.Snapshots[idx:])
		s.Snapshots[idx] = snap
	case internal.CommandTDeleteEvents:
		idx := sort.Search(len(s.Events), func(i int) bool { return s.Events[i].Seq > cmd.Seq })
		s.Events = append([]journal.Event(nil), s.Events[idx:]...)
	case internal.CommandTDeleteSnapshots:
		idx := sort.Search(len(s.Snapshots), func(i int) bool { return s.Snapshots[i].Seq > cmd.Seq })
		s.Snapshots = append([]journal.Snapshot(nil), s.Snapshots[idx:]...)
	default:
		return sm.Result{
			Value: uint64(journal.RetCInvalidOperation),
			Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
		}
	}
	return sm.Result{Value: uint64(journal.RetCSuccess)}
}

// PrepareSnapshot copies the stream index so that SaveSnapshot can run concurrently with Update
func (fsm *JournalStateMachine) PrepareSnapshot() (interface{}, error) {
	fsm.mu.RLock()
	defer fsm.mu.RUnlock()

	streams := make(map[string]*Stream, len(fsm.streams))
	for pid, s := range fsm.streams {
		streams[pid] = s.clone()
	}
	return streams, nil
}

// SaveSnapshot writes the prepared copy to the writer
func (fsm *JournalStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	streams, ok := ctx.(map[string]*Stream)
	if !ok {
		return fmt.Errorf("invalid snapshot context type: %T", ctx)
	}
	return gob.NewEncoder(writer).Encode(streams)
}

// RecoverFromSnapshot replaces the state with the content of a snapshot
func (fsm *JournalStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	streams := make(map[string]*Stream)
	if err := gob.NewDecoder(r).Decode(&streams); err != nil {
		return fmt.Errorf("failed to decode journal snapshot: %w", err)
	}

	fsm.mu.Lock()
	fsm.streams = streams
	fsm.mu.Unlock()
	return nil
}

// Close performs any necessary cleanup.
func (fsm *JournalStateMachine) Close() error {
	return nil
}
