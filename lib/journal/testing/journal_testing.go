package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dMem/lib/journal"
)

// Factory creates a fresh, empty journal for one test
type Factory func(t *testing.T) journal.Journal

// OpenFactory opens a journal on the given directory
type OpenFactory func(t *testing.T, dir string) journal.Journal

// RunJournalTests runs the conformance suite for a journal implementation.
func RunJournalTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("AppendReplay", func(t *testing.T) {
			testAppendReplay(t, open(t, factory))
		})
		t.Run("ReplayFrom", func(t *testing.T) {
			testReplayFrom(t, open(t, factory))
		})
		t.Run("SequenceConflict", func(t *testing.T) {
			testSequenceConflict(t, open(t, factory))
		})
		t.Run("HighestSeq", func(t *testing.T) {
			testHighestSeq(t, open(t, factory))
		})
		t.Run("Snapshots", func(t *testing.T) {
			testSnapshots(t, open(t, factory))
		})
		t.Run("DeleteEvents", func(t *testing.T) {
			testDeleteEvents(t, open(t, factory))
		})
		t.Run("DeleteSnapshots", func(t *testing.T) {
			testDeleteSnapshots(t, open(t, factory))
		})
		t.Run("Isolation", func(t *testing.T) {
			testIsolation(t, open(t, factory))
		})
		t.Run("ConcurrentStreams", func(t *testing.T) {
			testConcurrentStreams(t, open(t, factory))
		})
		t.Run("ReplayStopsEarly", func(t *testing.T) {
			testReplayStopsEarly(t, open(t, factory))
		})
	})
}

// RunDurabilityTests verifies that events, snapshots and the highest sequence
// number survive closing and reopening the journal.
func RunDurabilityTests(t *testing.T, name string, factory OpenFactory) {
	t.Run(name+"/Reopen", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()
		pid := "/sharding/CounterShard/7"

		j := factory(t, dir)
		appendN(t, j, pid, 1, 5)
		if err := j.SaveSnapshot(ctx, pid, journal.Snapshot{Seq: 3, Payload: []byte("snap-3")}); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
		if err := j.DeleteEvents(ctx, pid, 3); err != nil {
			t.Fatalf("DeleteEvents failed: %v", err)
		}
		if err := j.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		j = factory(t, dir)
		defer j.Close()

		snap, found, err := j.LoadSnapshot(ctx, pid)
		if err != nil || !found {
			t.Fatalf("LoadSnapshot after reopen: found=%v err=%v", found, err)
		}
		if snap.Seq != 3 || string(snap.Payload) != "snap-3" {
			t.Errorf("Unexpected snapshot after reopen: %d %q", snap.Seq, snap.Payload)
		}
		events := collect(t, j, pid, 1)
		if len(events) != 2 || events[0].Seq != 4 || events[1].Seq != 5 {
			t.Errorf("Expected events 4,5 after reopen, got %v", seqs(events))
		}
		highest, err := j.HighestSeq(ctx, pid)
		if err != nil || highest != 5 {
			t.Errorf("Expected highest 5 after reopen, got %d (err %v)", highest, err)
		}
		if err := j.Append(ctx, pid, journal.Event{Seq: 6, Payload: payload(6)}); err != nil {
			t.Errorf("Append after reopen failed: %v", err)
		}
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func open(t *testing.T, factory Factory) journal.Journal {
	j := factory(t)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func payload(seq uint64) []byte {
	return []byte(fmt.Sprintf("event-%d", seq))
}

// appendN appends the events from..to (inclusive) and fails the test on error
func appendN(t *testing.T, j journal.Journal, pid string, from, to uint64) {
	t.Helper()
	for seq := from; seq <= to; seq++ {
		if err := j.Append(context.Background(), pid, journal.Event{Seq: seq, Payload: payload(seq)}); err != nil {
			t.Fatalf("Append(%s, %d) failed: %v", pid, seq, err)
		}
	}
}

func collect(t *testing.T, j journal.Journal, pid string, from uint64) []journal.Event {
	t.Helper()
	var events []journal.Event
	for e, err := range j.Replay(context.Background(), pid, from) {
		if err != nil {
			t.Fatalf("Replay(%s, %d) failed: %v", pid, from, err)
		}
		events = append(events, e)
	}
	return events
}

func seqs(events []journal.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.Seq
	}
	return out
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testAppendReplay(t *testing.T, j journal.Journal) {
	pid := "/sharding/CounterShard/1"
	appendN(t, j, pid, 1, 10)

	events := collect(t, j, pid, 1)
	if len(events) != 10 {
		t.Fatalf("Expected 10 events, got %d", len(events))
	}
	for i, e := range events {
		want := uint64(i + 1)
		if e.Seq != want {
			t.Errorf("Event %d: expected seq %d, got %d", i, want, e.Seq)
		}
		if !bytes.Equal(e.Payload, payload(want)) {
			t.Errorf("Event %d: expected payload %q, got %q", i, payload(want), e.Payload)
		}
	}

	if events := collect(t, j, "/sharding/CounterShard/unknown", 1); len(events) != 0 {
		t.Errorf("Expected no events for unknown pid, got %d", len(events))
	}
}

func testReplayFrom(t *testing.T, j journal.Journal) {
	pid := "/sharding/CounterShard/1"
	appendN(t, j, pid, 1, 10)

	events := collect(t, j, pid, 6)
	if got := seqs(events); len(got) != 5 || got[0] != 6 || got[4] != 10 {
		t.Errorf("Expected seqs 6..10, got %v", got)
	}
	if events := collect(t, j, pid, 11); len(events) != 0 {
		t.Errorf("Expected no events after highest, got %v", seqs(events))
	}
}

func testSequenceConflict(t *testing.T, j journal.Journal) {
	ctx := context.Background()
	pid := "/sharding/CounterShard/1"

	err := j.Append(ctx, pid, journal.Event{Seq: 2, Payload: payload(2)})
	if !errors.Is(err, journal.ErrSequenceConflict) {
		t.Fatalf("Expected sequence conflict for gap, got %v", err)
	}

	appendN(t, j, pid, 1, 3)

	// a late writer that still thinks seq 3 is free
	err = j.Append(ctx, pid, journal.Event{Seq: 3, Payload: []byte("late")})
	if !errors.Is(err, journal.ErrSequenceConflict) {
		t.Fatalf("Expected sequence conflict for duplicate seq, got %v", err)
	}

	events := collect(t, j, pid, 1)
	if len(events) != 3 || !bytes.Equal(events[2].Payload, payload(3)) {
		t.Errorf("Conflicting append must not change the log, got %v", seqs(events))
	}
}

func testHighestSeq(t *testing.T, j journal.Journal) {
	ctx := context.Background()
	pid := "/sharding/CounterCoordinator"

	highest, err := j.HighestSeq(ctx, pid)
	if err != nil || highest != 0 {
		t.Fatalf("Expected highest 0 for empty stream, got %d (err %v)", highest, err)
	}

	appendN(t, j, pid, 1, 4)
	if err := j.DeleteEvents(ctx, pid, 4); err != nil {
		t.Fatalf("DeleteEvents failed: %v", err)
	}

	highest, err = j.HighestSeq(ctx, pid)
	if err != nil || highest != 4 {
		t.Errorf("Expected highest 4 after deleting all events, got %d (err %v)", highest, err)
	}

	// deleted sequence numbers are never reused
	err = j.Append(ctx, pid, journal.Event{Seq: 1, Payload: payload(1)})
	if !errors.Is(err, journal.ErrSequenceConflict) {
		t.Errorf("Expected sequence conflict when reusing a deleted seq, got %v", err)
	}
	appendN(t, j, pid, 5, 5)
}

func testSnapshots(t *testing.T, j journal.Journal) {
	ctx := context.Background()
	pid := "/sharding/CounterShard/2"

	if _, found, err := j.LoadSnapshot(ctx, pid); err != nil || found {
		t.Fatalf("Expected no snapshot, got found=%v err=%v", found, err)
	}

	for _, seq := range []uint64{5, 15, 10} {
		if err := j.SaveSnapshot(ctx, pid, journal.Snapshot{Seq: seq, Payload: payload(seq)}); err != nil {
			t.Fatalf("SaveSnapshot(%d) failed: %v", seq, err)
		}
	}

	snap, found, err := j.LoadSnapshot(ctx, pid)
	if err != nil || !found {
		t.Fatalf("LoadSnapshot failed: found=%v err=%v", found, err)
	}
	if snap.Seq != 15 || !bytes.Equal(snap.Payload, payload(15)) {
		t.Errorf("Expected latest snapshot 15, got %d %q", snap.Seq, snap.Payload)
	}

	// same seq replaces
	if err := j.SaveSnapshot(ctx, pid, journal.Snapshot{Seq: 15, Payload: []byte("replaced")}); err != nil {
		t.Fatalf("SaveSnapshot replace failed: %v", err)
	}
	snap, _, _ = j.LoadSnapshot(ctx, pid)
	if string(snap.Payload) != "replaced" {
		t.Errorf("Expected replaced snapshot payload, got %q", snap.Payload)
	}
}

func testDeleteEvents(t *testing.T, j journal.Journal) {
	ctx := context.Background()
	pid := "/sharding/CounterShard/3"
	appendN(t, j, pid, 1, 10)

	if err := j.DeleteEvents(ctx, pid, 6); err != nil {
		t.Fatalf("DeleteEvents failed: %v", err)
	}
	if got := seqs(collect(t, j, pid, 1)); len(got) != 4 || got[0] != 7 {
		t.Errorf("Expected seqs 7..10, got %v", got)
	}

	// deleting an already deleted range is a no-op
	if err := j.DeleteEvents(ctx, pid, 2); err != nil {
		t.Fatalf("DeleteEvents (no-op) failed: %v", err)
	}
	if got := seqs(collect(t, j, pid, 1)); len(got) != 4 {
		t.Errorf("Expected 4 events after no-op delete, got %v", got)
	}
	appendN(t, j, pid, 11, 11)
}

func testDeleteSnapshots(t *testing.T, j journal.Journal) {
	ctx := context.Background()
	pid := "/sharding/CounterShard/4"
	for _, seq := range []uint64{10, 20, 30} {
		if err := j.SaveSnapshot(ctx, pid, journal.Snapshot{Seq: seq, Payload: payload(seq)}); err != nil {
			t.Fatalf("SaveSnapshot(%d) failed: %v", seq, err)
		}
	}

	if err := j.DeleteSnapshots(ctx, pid, 20); err != nil {
		t.Fatalf("DeleteSnapshots failed: %v", err)
	}
	snap, found, err := j.LoadSnapshot(ctx, pid)
	if err != nil || !found || snap.Seq != 30 {
		t.Errorf("Expected snapshot 30 to survive, got %d found=%v err=%v", snap.Seq, found, err)
	}

	if err := j.DeleteSnapshots(ctx, pid, 30); err != nil {
		t.Fatalf("DeleteSnapshots failed: %v", err)
	}
	if _, found, _ := j.LoadSnapshot(ctx, pid); found {
		t.Error("Expected no snapshot after deleting all")
	}
}

func testIsolation(t *testing.T, j journal.Journal) {
	ctx := context.Background()
	a, b := "/sharding/CounterShard/1", "/sharding/CounterShard/10"
	appendN(t, j, a, 1, 3)
	appendN(t, j, b, 1, 5)

	if err := j.DeleteEvents(ctx, a, 3); err != nil {
		t.Fatalf("DeleteEvents failed: %v", err)
	}
	if got := seqs(collect(t, j, b, 1)); len(got) != 5 {
		t.Errorf("Deleting events of %s must not touch %s, got %v", a, b, got)
	}
	if highest, _ := j.HighestSeq(ctx, a); highest != 3 {
		t.Errorf("Expected highest 3 for %s, got %d", a, highest)
	}
}

func testConcurrentStreams(t *testing.T, j journal.Journal) {
	const streams = 8
	const perStream = 50

	var wg sync.WaitGroup
	wg.Add(streams)
	for s := 0; s < streams; s++ {
		go func(s int) {
			defer wg.Done()
			pid := fmt.Sprintf("/sharding/CounterShard/%d", s)
			for seq := uint64(1); seq <= perStream; seq++ {
				if err := j.Append(context.Background(), pid, journal.Event{Seq: seq, Payload: payload(seq)}); err != nil {
					t.Errorf("Append(%s, %d) failed: %v", pid, seq, err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	for s := 0; s < streams; s++ {
		pid := fmt.Sprintf("/sharding/CounterShard/%d", s)
		got := seqs(collect(t, j, pid, 1))
		if len(got) != perStream {
			t.Errorf("%s: expected %d events, got %d", pid, perStream, len(got))
			continue
		}
		for i, seq := range got {
			if seq != uint64(i+1) {
				t.Errorf("%s: event %d has seq %d", pid, i, seq)
				break
			}
		}
	}
}

func testReplayStopsEarly(t *testing.T, j journal.Journal) {
	pid := "/sharding/CounterShard/5"
	appendN(t, j, pid, 1, 10)

	n := 0
	for _, err := range j.Replay(context.Background(), pid, 1) {
		if err != nil {
			t.Fatalf("Replay failed: %v", err)
		}
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("Expected to stop after 3 events, got %d", n)
	}
}
