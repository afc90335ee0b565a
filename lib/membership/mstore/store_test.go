package mstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/journal/ljournal"
	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

var shardPID = membership.ShardPersistenceID("Counter", "1")

func settings(j journal.Journal) Settings {
	return Settings{
		Journal:         j,
		Mode:            membership.ModeEventSourced,
		SnapshotAfter:   10,
		KeepNrOfBatches: 2,
		JournalTimeout:  time.Second,
	}
}

func expectReply(t *testing.T, s *Store) Reply {
	t.Helper()
	select {
	case r, ok := <-s.Replies():
		require.True(t, ok, "replies closed")
		return r
	case <-time.After(waitFor):
		t.Fatalf("no reply from %s", s.PersistenceID())
		return nil
	}
}

func expectNoReply(t *testing.T, s *Store, d time.Duration) {
	t.Helper()
	select {
	case r, ok := <-s.Replies():
		if ok {
			t.Fatalf("unexpected reply %#v", r)
		}
	case <-time.After(d):
	}
}

func expectDone(t *testing.T, s *Store) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatalf("store %s did not terminate", s.PersistenceID())
	}
}

func entities(t *testing.T, s *Store) membership.State {
	t.Helper()
	s.Tell(GetEntities{})
	r, ok := expectReply(t, s).(RememberedEntities)
	require.True(t, ok)
	return r.IDs
}

func addEntities(t *testing.T, s *Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		s.Tell(AddEntity{ID: id})
		require.Equal(t, UpdateDone{ID: id}, expectReply(t, s))
	}
}

// snapshotFailingJournal fails every SaveSnapshot call
type snapshotFailingJournal struct {
	journal.Journal
}

func (snapshotFailingJournal) SaveSnapshot(context.Context, string, journal.Snapshot) error {
	return journal.NewError(journal.RetCInternalError, "disk full")
}

func TestShardStore(t *testing.T) {
	j := ljournal.NewLocalJournal()
	s := New(shardPID, settings(j))
	defer s.Close()

	assert.Empty(t, entities(t, s))

	addEntities(t, s, "1", "2", "2")
	s.Tell(RemoveEntity{ID: "1"})
	require.Equal(t, UpdateDone{ID: "1"}, expectReply(t, s))

	assert.Equal(t, []string{"2"}, entities(t, s).Sorted())

	// every accepted command was logged, duplicates included
	highest, err := j.HighestSeq(context.Background(), shardPID.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), highest)
}

func TestRecoveryAcrossIncarnations(t *testing.T) {
	j := ljournal.NewLocalJournal()

	first := New(shardPID, settings(j))
	addEntities(t, first, "a", "b", "c")
	first.Tell(RemoveEntity{ID: "b"})
	expectReply(t, first)
	first.Close()

	second := New(shardPID, settings(j))
	defer second.Close()
	assert.NotEqual(t, first.IncarnationID(), second.IncarnationID())
	assert.Equal(t, []string{"a", "c"}, entities(t, second).Sorted())

	// the new incarnation continues the sequence
	addEntities(t, second, "d")
	assert.Equal(t, []string{"a", "c", "d"}, entities(t, second).Sorted())
}

// recordingJournal records the bounds of compaction calls
type recordingJournal struct {
	journal.Journal
	deletedEvents    []uint64
	deletedSnapshots []uint64
}

func (r *recordingJournal) DeleteEvents(ctx context.Context, pid string, toSeq uint64) error {
	r.deletedEvents = append(r.deletedEvents, toSeq)
	return r.Journal.DeleteEvents(ctx, pid, toSeq)
}

func (r *recordingJournal) DeleteSnapshots(ctx context.Context, pid string, maxSeq uint64) error {
	r.deletedSnapshots = append(r.deletedSnapshots, maxSeq)
	return r.Journal.DeleteSnapshots(ctx, pid, maxSeq)
}

func TestSnapshotAndCompaction(t *testing.T) {
	j := &recordingJournal{Journal: ljournal.NewLocalJournal()}
	ctx := context.Background()
	cfg := settings(j)
	cfg.SnapshotAfter = 2
	cfg.KeepNrOfBatches = 1

	s := New(shardPID, cfg)
	addEntities(t, s, "1", "2", "3", "4", "5", "6")
	s.Close()

	// snapshots at 2, 4 and 6, one generation is kept behind the latest
	assert.Equal(t, []uint64{2, 4}, j.deletedEvents)
	assert.Equal(t, []uint64{1, 3}, j.deletedSnapshots)

	snap, found, err := j.LoadSnapshot(ctx, shardPID.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(6), snap.Seq)

	var seqs []uint64
	for e, err := range j.Replay(ctx, shardPID.String(), 1) {
		require.NoError(t, err)
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []uint64{5, 6}, seqs)

	r := New(shardPID, cfg)
	defer r.Close()
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, entities(t, r).Sorted())
}

func TestRecoveryFromSnapshotAndTail(t *testing.T) {
	j := ljournal.NewLocalJournal()
	cfg := settings(j)
	cfg.SnapshotAfter = 3
	cfg.KeepNrOfBatches = 0

	s := New(shardPID, cfg)
	addEntities(t, s, "1", "2", "3")
	s.Tell(RemoveEntity{ID: "2"})
	expectReply(t, s)
	addEntities(t, s, "4")
	s.Close()

	r := New(shardPID, cfg)
	defer r.Close()
	assert.Equal(t, []string{"1", "3", "4"}, entities(t, r).Sorted())
}

func TestSnapshotFailureDoesNotBlock(t *testing.T) {
	j := snapshotFailingJournal{ljournal.NewLocalJournal()}
	cfg := settings(j)
	cfg.SnapshotAfter = 1

	s := New(shardPID, cfg)
	addEntities(t, s, "1", "2", "3")
	s.Close()
	require.NoError(t, s.Err())

	r := New(shardPID, cfg)
	defer r.Close()
	assert.Equal(t, []string{"1", "2", "3"}, entities(t, r).Sorted())
}

func TestDurableState(t *testing.T) {
	j := ljournal.NewLocalJournal()
	ctx := context.Background()
	cfg := settings(j)
	cfg.Mode = membership.ModeDurableState

	s := New(shardPID, cfg)
	addEntities(t, s, "x", "y")
	s.Tell(RemoveEntity{ID: "x"})
	expectReply(t, s)
	s.Close()

	var records []journal.Event
	for e, err := range j.Replay(ctx, shardPID.String(), 1) {
		require.NoError(t, err)
		records = append(records, e)
	}
	require.Len(t, records, 1, "only the latest state is kept")
	e, err := membership.DecodeEvent(records[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, membership.KindReplaced, e.Kind)

	r := New(shardPID, cfg)
	defer r.Close()
	assert.Equal(t, []string{"y"}, entities(t, r).Sorted())
}

func TestCoordinatorStore(t *testing.T) {
	j := ljournal.NewLocalJournal()
	pid := membership.CoordinatorPersistenceID("Counter")

	s := New(pid, settings(j))
	s.Tell(AddShard{ID: "1"})
	require.Equal(t, UpdateDone{ID: "1"}, expectReply(t, s))

	// entity commands are not part of the coordinator protocol
	s.Tell(AddEntity{ID: "e"})
	s.Tell(GetShards{})
	r, ok := expectReply(t, s).(RememberedShards)
	require.True(t, ok)
	assert.Equal(t, []string{"1"}, r.IDs.Sorted())
	s.Close()

	r2 := New(pid, settings(j))
	defer r2.Close()
	r2.Tell(GetShards{})
	assert.Equal(t, RememberedShards{IDs: membership.NewState("1")}, expectReply(t, r2))
}

func TestInjectedFaults(t *testing.T) {
	tests := []struct {
		name    string
		fault   membership.Fault
		crashed bool
		stopped bool
	}{
		{name: "NoResponse", fault: membership.FaultNoResponse},
		{name: "CrashStore", fault: membership.FaultCrashStore, crashed: true},
		{name: "StopStore", fault: membership.FaultStopStore, stopped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := ljournal.NewLocalJournal()
			faults := membership.NewFaultTable()
			cfg := settings(j)
			cfg.Faults = faults

			s := New(shardPID, cfg)
			defer s.Close()
			addEntities(t, s, "10")

			faults.FailAddEntity("11", tt.fault)
			s.Tell(AddEntity{ID: "11"})

			switch {
			case tt.crashed:
				expectDone(t, s)
				assert.True(t, errors.Is(s.Err(), ErrInjectedCrash), "got %v", s.Err())
			case tt.stopped:
				expectDone(t, s)
				assert.NoError(t, s.Err())
			default:
				expectNoReply(t, s, 100*time.Millisecond)
				// the store keeps serving other ids
				addEntities(t, s, "12")
			}

			// nothing was written for the failed command
			check := New(shardPID, settings(j))
			defer check.Close()
			assert.False(t, entities(t, check).Has("11"))
		})
	}
}

func TestGetEntitiesFault(t *testing.T) {
	faults := membership.NewFaultTable()
	faults.FailGetEntities("1", membership.FaultCrashStore)
	cfg := settings(ljournal.NewLocalJournal())
	cfg.Faults = faults

	other := New(membership.ShardPersistenceID("Counter", "2"), cfg)
	defer other.Close()
	assert.Empty(t, entities(t, other), "faults are scoped to the shard")

	s := New(shardPID, cfg)
	defer s.Close()
	s.Tell(GetEntities{})
	expectDone(t, s)
	assert.ErrorIs(t, s.Err(), ErrInjectedCrash)
}

func TestSequenceConflictCrashesStore(t *testing.T) {
	j := ljournal.NewLocalJournal()
	s := New(shardPID, settings(j))
	defer s.Close()
	addEntities(t, s, "1")

	// a late write of another incarnation takes the next sequence number
	require.NoError(t, j.Append(context.Background(), shardPID.String(), journal.Event{
		Seq:     2,
		Payload: membership.EncodeEvent(membership.Started("late")),
	}))

	s.Tell(AddEntity{ID: "2"})
	expectDone(t, s)
	assert.ErrorIs(t, s.Err(), journal.ErrSequenceConflict)

	r := New(shardPID, settings(j))
	defer r.Close()
	assert.Equal(t, []string{"1", "late"}, entities(t, r).Sorted())
}

func TestStopDropsPendingCommands(t *testing.T) {
	s := New(shardPID, settings(ljournal.NewLocalJournal()))
	s.Stop()
	expectDone(t, s)
	assert.NoError(t, s.Err())

	s.Tell(AddEntity{ID: "1"})
	_, ok := <-s.Replies()
	assert.False(t, ok, "replies must be closed after termination")
}

func TestCrashOnRecovery(t *testing.T) {
	j := ljournal.NewLocalJournal()
	require.NoError(t, j.Append(context.Background(), shardPID.String(), journal.Event{Seq: 1, Payload: []byte{0xee}}))

	s := New(shardPID, settings(j))
	expectDone(t, s)
	assert.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), fmt.Sprintf("recovery of %s", shardPID))
}
