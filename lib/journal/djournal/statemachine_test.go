package djournal

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/journal/djournal/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

func newTestFSM() *JournalStateMachine {
	return CreateStateMachineFactory()(1, 1).(*JournalStateMachine)
}

func update(t *testing.T, fsm *JournalStateMachine, cmds ...internal.Command) []sm.Result {
	t.Helper()
	entries := make([]sm.Entry, len(cmds))
	for i, c := range cmds {
		entries[i] = sm.Entry{Index: uint64(i + 1), Cmd: c.Serialize()}
	}
	out, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	results := make([]sm.Result, len(out))
	for i, e := range out {
		results[i] = e.Result
	}
	return results
}

func appendCmd(pid string, seq uint64) internal.Command {
	return internal.Command{Type: internal.CommandTAppend, PID: pid, Seq: seq, Payload: []byte{byte(seq)}}
}

func TestStateMachineAppend(t *testing.T) {
	fsm := newTestFSM()
	pid := "/sharding/CounterShard/1"

	results := update(t, fsm, appendCmd(pid, 1), appendCmd(pid, 2), appendCmd(pid, 2), appendCmd(pid, 4))

	want := []journal.RetCode{journal.RetCSuccess, journal.RetCSuccess, journal.RetCSequenceConflict, journal.RetCSequenceConflict}
	for i, r := range results {
		if journal.RetCode(r.Value) != want[i] {
			t.Errorf("result %d: got %s, want %s (%s)", i, journal.RetCode(r.Value), want[i], r.Data)
		}
	}

	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTReplay, PID: pid, Seq: 1})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	events := res.([]journal.Event)
	if len(events) != 2 || events[1].Seq != 2 {
		t.Errorf("Expected 2 events, got %v", events)
	}

	res, _ = fsm.Lookup(internal.Query{Type: internal.QueryTHighestSeq, PID: pid})
	if res.(uint64) != 2 {
		t.Errorf("Expected highest 2, got %v", res)
	}
}

func TestStateMachineInvalidEntries(t *testing.T) {
	fsm := newTestFSM()
	out, err := fsm.Update([]sm.Entry{{Index: 1}, {Index: 2, Cmd: []byte{1, 2}}, {Index: 3, Cmd: (&internal.Command{Type: 99}).Serialize()}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	want := []journal.RetCode{journal.RetCInvalidOperation, journal.RetCInternalError, journal.RetCInvalidOperation}
	for i, e := range out {
		if journal.RetCode(e.Result.Value) != want[i] {
			t.Errorf("entry %d: got %s, want %s", i, journal.RetCode(e.Result.Value), want[i])
		}
	}

	if _, err := fsm.Lookup("not a query"); err == nil {
		t.Error("Expected an error for an invalid query type")
	}
}

func TestStateMachineSnapshotsAndDeletes(t *testing.T) {
	fsm := newTestFSM()
	pid := "/sharding/CounterCoordinator"

	update(t, fsm,
		appendCmd(pid, 1), appendCmd(pid, 2), appendCmd(pid, 3),
		internal.Command{Type: internal.CommandTSaveSnapshot, PID: pid, Seq: 2, Payload: []byte("s2")},
		internal.Command{Type: internal.CommandTSaveSnapshot, PID: pid, Seq: 1, Payload: []byte("s1")},
		internal.Command{Type: internal.CommandTDeleteEvents, PID: pid, Seq: 2},
	)

	res, _ := fsm.Lookup(internal.Query{Type: internal.QueryTLoadSnapshot, PID: pid})
	snap := res.(internal.SnapshotResult)
	if !snap.Found || snap.Snapshot.Seq != 2 || string(snap.Snapshot.Payload) != "s2" {
		t.Errorf("Expected snapshot s2, got %+v", snap)
	}

	res, _ = fsm.Lookup(internal.Query{Type: internal.QueryTReplay, PID: pid, Seq: 1})
	if events := res.([]journal.Event); len(events) != 1 || events[0].Seq != 3 {
		t.Errorf("Expected only event 3, got %v", events)
	}

	update(t, fsm, internal.Command{Type: internal.CommandTDeleteSnapshots, PID: pid, Seq: 2})
	res, _ = fsm.Lookup(internal.Query{Type: internal.QueryTLoadSnapshot, PID: pid})
	if res.(internal.SnapshotResult).Found {
		t.Error("Expected no snapshot after delete")
	}
}

func TestStateMachineSnapshotRecovery(t *testing.T) {
	fsm := newTestFSM()
	pid := "/sharding/CounterShard/5"
	update(t, fsm,
		appendCmd(pid, 1), appendCmd(pid, 2),
		internal.Command{Type: internal.CommandTSaveSnapshot, PID: pid, Seq: 1, Payload: []byte("s1")},
	)

	ctx, err := fsm.PrepareSnapshot()
	if err != nil {
		t.Fatalf("PrepareSnapshot failed: %v", err)
	}
	// updates after prepare must not leak into the snapshot
	update(t, fsm, appendCmd(pid, 3))

	var buf bytes.Buffer
	if err := fsm.SaveSnapshot(ctx, &buf, nil, nil); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	restored := newTestFSM()
	if err := restored.RecoverFromSnapshot(&buf, nil, nil); err != nil {
		t.Fatalf("RecoverFromSnapshot failed: %v", err)
	}

	res, _ := restored.Lookup(internal.Query{Type: internal.QueryTHighestSeq, PID: pid})
	if res.(uint64) != 2 {
		t.Errorf("Expected highest 2 after recovery, got %v", res)
	}
	res, _ = restored.Lookup(internal.Query{Type: internal.QueryTLoadSnapshot, PID: pid})
	if snap := res.(internal.SnapshotResult); !snap.Found || string(snap.Snapshot.Payload) != "s1" {
		t.Errorf("Expected snapshot s1 after recovery, got %+v", snap)
	}

	// the restored state keeps enforcing the sequence
	results := update(t, restored, appendCmd(pid, 3))
	if journal.RetCode(results[0].Value) != journal.RetCSuccess {
		t.Errorf("Expected append 3 to succeed after recovery, got %s", journal.RetCode(results[0].Value))
	}
}
