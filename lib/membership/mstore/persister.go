package mstore

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/membership"
)

// persister is the persistence strategy of a store: how the state is rebuilt
// from the journal and how a change is made durable.
type persister interface {
	// recover rebuilds the state and the highest sequence number
	recover(ctx context.Context) (membership.State, error)
	// persist makes e durable and returns the new state.
	// The state passed in is not modified.
	persist(ctx context.Context, state membership.State, e membership.Event) (membership.State, error)
}

// replayInto folds the journal of pid from fromSeq on into state
func replayInto(ctx context.Context, j journal.Journal, pid string, state membership.State, fromSeq uint64) (membership.State, uint64, error) {
	last := fromSeq - 1
	for rec, err := range j.Replay(ctx, pid, fromSeq) {
		if err != nil {
			return nil, 0, fmt.Errorf("replay of %s failed: %w", pid, err)
		}
		e, err := membership.DecodeEvent(rec.Payload)
		if err != nil {
			return nil, 0, fmt.Errorf("event %d of %s is corrupt: %w", rec.Seq, pid, err)
		}
		state = membership.Apply(state, e)
		last = rec.Seq
	}
	return state, last, nil
}

// --------------------------------------------------------------------------
// Event sourced
// --------------------------------------------------------------------------

// eventSourced appends one event per change and snapshots every snapshotAfter events
type eventSourced struct {
	j        journal.Journal
	pid      string
	role     membership.Role
	every    uint64
	keep     uint64
	seq      uint64 // highest sequence number written by or known to this store
	incarnID string
}

func (p *eventSourced) recover(ctx context.Context) (membership.State, error) {
	state := membership.State{}
	from := uint64(1)

	snap, found, err := p.j.LoadSnapshot(ctx, p.pid)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot of %s: %w", p.pid, err)
	}
	if found {
		if state, err = membership.DecodeState(snap.Payload); err != nil {
			return nil, fmt.Errorf("snapshot %d of %s is corrupt: %w", snap.Seq, p.pid, err)
		}
		from = snap.Seq + 1
	}

	state, last, err := replayInto(ctx, p.j, p.pid, state, from)
	if err != nil {
		return nil, err
	}

	highest, err := p.j.HighestSeq(ctx, p.pid)
	if err != nil {
		return nil, fmt.Errorf("failed to read highest seq of %s: %w", p.pid, err)
	}
	p.seq = max(highest, last)

	log.Debugf("[%s] recovered %s: %d ids, snapshot=%v, seq=%d", p.incarnID, p.pid, len(state), found, p.seq)
	return state, nil
}

func (p *eventSourced) persist(ctx context.Context, state membership.State, e membership.Event) (membership.State, error) {
	seq := p.seq + 1
	if err := p.j.Append(ctx, p.pid, journal.Event{Seq: seq, Payload: membership.EncodeEvent(e)}); err != nil {
		return nil, err
	}
	p.seq = seq
	next := membership.Apply(state.Clone(), e)

	if p.every > 0 && seq%p.every == 0 {
		p.snapshot(ctx, next, seq)
	}
	return next, nil
}

// snapshot saves the state at seq and compacts older generations.
// Failures are logged only, the log stays the source of truth.
func (p *eventSourced) snapshot(ctx context.Context, state membership.State, seq uint64) {
	if err := p.j.SaveSnapshot(ctx, p.pid, journal.Snapshot{Seq: seq, Payload: membership.EncodeState(state)}); err != nil {
		snapshotFailures(p.role).Inc()
		log.Warningf("[%s] snapshot of %s at seq %d failed: %v", p.incarnID, p.pid, seq, err)
		return
	}

	window := p.keep * p.every
	if seq <= window {
		return
	}
	bound := seq - window
	if err := p.j.DeleteEvents(ctx, p.pid, bound); err != nil {
		compactionFailures(p.role).Inc()
		log.Warningf("[%s] deleting events of %s up to %d failed: %v", p.incarnID, p.pid, bound, err)
		return
	}
	if err := p.j.DeleteSnapshots(ctx, p.pid, bound-1); err != nil {
		compactionFailures(p.role).Inc()
		log.Warningf("[%s] deleting snapshots of %s below %d failed: %v", p.incarnID, p.pid, bound, err)
	}
}

// --------------------------------------------------------------------------
// Durable state
// --------------------------------------------------------------------------

// durableState appends the complete state per change and drops everything older
type durableState struct {
	j        journal.Journal
	pid      string
	role     membership.Role
	seq      uint64
	incarnID string
}

func (p *durableState) recover(ctx context.Context) (membership.State, error) {
	state, last, err := replayInto(ctx, p.j, p.pid, membership.State{}, 1)
	if err != nil {
		return nil, err
	}
	highest, err := p.j.HighestSeq(ctx, p.pid)
	if err != nil {
		return nil, fmt.Errorf("failed to read highest seq of %s: %w", p.pid, err)
	}
	p.seq = max(highest, last)

	log.Debugf("[%s] recovered %s: %d ids, seq=%d", p.incarnID, p.pid, len(state), p.seq)
	return state, nil
}

func (p *durableState) persist(ctx context.Context, state membership.State, e membership.Event) (membership.State, error) {
	next := membership.Apply(state.Clone(), e)
	seq := p.seq + 1
	if err := p.j.Append(ctx, p.pid, journal.Event{Seq: seq, Payload: membership.EncodeEvent(membership.Replaced(next))}); err != nil {
		return nil, err
	}
	p.seq = seq

	if seq > 1 {
		if err := p.j.DeleteEvents(ctx, p.pid, seq-1); err != nil {
			compactionFailures(p.role).Inc()
			log.Warningf("[%s] deleting old states of %s failed: %v", p.incarnID, p.pid, err)
		}
	}
	return next, nil
}
