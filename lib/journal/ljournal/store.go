package ljournal

import (
	"bytes"
	"context"
	"iter"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/puzpuzpuz/xsync/v3"
)

// stream holds the log and the snapshots of one persistence id
type stream struct {
	mu        sync.Mutex
	events    []journal.Event    // ordered by Seq
	snapshots []journal.Snapshot // ordered by Seq
	highest   uint64
}

type journalImpl struct {
	streams *xsync.MapOf[string, *stream]
	closed  atomic.Bool
}

// NewLocalJournal creates a new in-memory journal.
// This journal is not durable: its content is lost when the process exits.
// It is meant for tests and for single process deployments that only need the
// recovery protocol across owner restarts, not across process restarts.
func NewLocalJournal() journal.Journal {
	return &journalImpl{
		streams: xsync.NewMapOf[string, *stream](),
	}
}

func (j *journalImpl) stream(pid string) *stream {
	s, _ := j.streams.LoadOrCompute(pid, func() *stream { return &stream{} })
	return s
}

func (j *journalImpl) check(ctx context.Context) error {
	if j.closed.Load() {
		return journal.NewError(journal.RetCClosed, "journal closed")
	}
	return ctx.Err()
}

// --------------------------------------------------------------------------
// Interface Methods (docs see journal/interface.go)
// --------------------------------------------------------------------------

func (j *journalImpl) Append(ctx context.Context, pid string, event journal.Event) error {
	if err := j.check(ctx); err != nil {
		return err
	}
	s := j.stream(pid)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := journal.CheckAppend(pid, s.highest, event); err != nil {
		return err
	}
	s.events = append(s.events, journal.Event{Seq: event.Seq, Payload: bytes.Clone(event.Payload)})
	s.highest = event.Seq
	return nil
}

func (j *journalImpl) Replay(ctx context.Context, pid string, fromSeq uint64) iter.Seq2[journal.Event, error] {
	if err := j.check(ctx); err != nil {
		return journal.Failed(err)
	}
	s := j.stream(pid)
	s.mu.Lock()
	idx := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq >= fromSeq })
	events := make([]journal.Event, len(s.events)-idx)
	copy(events, s.events[idx:])
	s.mu.Unlock()

	return func(yield func(journal.Event, error) bool) {
		for _, e := range events {
			if err := ctx.Err(); err != nil {
				yield(journal.Event{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (j *journalImpl) HighestSeq(ctx context.Context, pid string) (uint64, error) {
	if err := j.check(ctx); err != nil {
		return 0, err
	}
	s := j.stream(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highest, nil
}

func (j *journalImpl) SaveSnapshot(ctx context.Context, pid string, snapshot journal.Snapshot) error {
	if err := j.check(ctx); err != nil {
		return err
	}
	s := j.stream(pid)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := journal.Snapshot{Seq: snapshot.Seq, Payload: bytes.Clone(snapshot.Payload)}
	idx := sort.Search(len(s.snapshots), func(i int) bool { return s.snapshots[i].Seq >= snap.Seq })
	if idx < len(s.snapshots) && s.snapshots[idx].Seq == snap.Seq {
		s.snapshots[idx] = snap
		return nil
	}
	s.snapshots = append(s.snapshots, journal.Snapshot{})
	copy(s.snapshots[idx+1:], s.snapshots[idx:])
	s.snapshots[idx] = snap
	return nil
}

func (j *journalImpl) LoadSnapshot(ctx context.Context, pid string) (journal.Snapshot, bool, error) {
	if err := j.check(ctx); err != nil {
		return journal.Snapshot{}, false, err
	}
	s := j.stream(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return journal.Snapshot{}, false, nil
	}
	return s.snapshots[len(s.snapshots)-1], true, nil
}

func (j *journalImpl) DeleteEvents(ctx context.Context, pid string, toSeq uint64) error {
	if err := j.check(ctx); err != nil {
		return err
	}
	s := j.stream(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > toSeq })
	s.events = append([]journal.Event(nil), s.events[idx:]...)
	return nil
}

func (j *journalImpl) DeleteSnapshots(ctx context.Context, pid string, maxSeq uint64) error {
	if err := j.check(ctx); err != nil {
		return err
	}
	s := j.stream(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.snapshots), func(i int) bool { return s.snapshots[i].Seq > maxSeq })
	s.snapshots = append([]journal.Snapshot(nil), s.snapshots[idx:]...)
	return nil
}

func (j *journalImpl) Close() error {
	j.closed.Store(true)
	return nil
}
