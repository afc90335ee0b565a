package djournal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/journal/djournal/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("journal")
)

// journalImpl encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type journalImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	closed  atomic.Bool
}

// NewDistributedJournal creates a journal whose content is replicated with raft.
// The NodeHost is owned by the caller and is not closed by Close.
func NewDistributedJournal(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) journal.Journal {
	return &journalImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// timeoutCtx bounds a single raft request by the configured timeout and by ctx
func (j *journalImpl) timeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, j.timeout)
}

// write serializes a Command and sends it via SyncPropose.
// System busy errors are retried up to 5 times.
func (j *journalImpl) write(ctx context.Context, cmd internal.Command) error {
	if j.closed.Load() {
		return journal.NewError(journal.RetCClosed, "journal closed")
	}
	for i := 0; i < retries; i++ {
		rctx, cancel := j.timeoutCtx(ctx)
		res, err := j.nh.SyncPropose(rctx, j.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			select {
			case <-time.After(j.timeout / 10):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if err != nil {
			return journal.NewError(journal.RetCInternalError, err.Error())
		}
		if res.Value != uint64(journal.RetCSuccess) {
			return journal.NewError(journal.RetCode(res.Value), string(res.Data))
		}
		return nil
	}
	return journal.NewError(journal.RetCInternalError, "timeout")
}

// read queries the state machine with SyncRead and converts the response into R.
// System busy errors are retried up to 5 times.
func read[R any](ctx context.Context, j *journalImpl, q internal.Query) (R, error) {
	var zero R
	if j.closed.Load() {
		return zero, journal.NewError(journal.RetCClosed, "journal closed")
	}
	for i := 0; i < retries; i++ {
		rctx, cancel := j.timeoutCtx(ctx)
		res, err := j.nh.SyncRead(rctx, j.shardID, q)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			select {
			case <-time.After(j.timeout / 10):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			continue
		}

		if err != nil {
			var jerr *journal.Error
			if errors.As(err, &jerr) {
				return zero, jerr
			}
			return zero, journal.NewError(journal.RetCInternalError, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, journal.NewError(journal.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, journal.NewError(journal.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see journal/interface.go)
// --------------------------------------------------------------------------

func (j *journalImpl) Append(ctx context.Context, pid string, event journal.Event) error {
	return j.write(ctx, internal.Command{
		Type:    internal.CommandTAppend,
		Seq:     event.Seq,
		PID:     pid,
		Payload: event.Payload,
	})
}

func (j *journalImpl) Replay(ctx context.Context, pid string, fromSeq uint64) iter.Seq2[journal.Event, error] {
	events, err := read[[]journal.Event](ctx, j, internal.Query{
		Type: internal.QueryTReplay,
		PID:  pid,
		Seq:  fromSeq,
	})
	if err != nil {
		return journal.Failed(err)
	}
	return journal.Events(events)
}

func (j *journalImpl) HighestSeq(ctx context.Context, pid string) (uint64, error) {
	return read[uint64](ctx, j, internal.Query{
		Type: internal.QueryTHighestSeq,
		PID:  pid,
	})
}

func (j *journalImpl) SaveSnapshot(ctx context.Context, pid string, snapshot journal.Snapshot) error {
	return j.write(ctx, internal.Command{
		Type:    internal.CommandTSaveSnapshot,
		Seq:     snapshot.Seq,
		PID:     pid,
		Payload: snapshot.Payload,
	})
}

func (j *journalImpl) LoadSnapshot(ctx context.Context, pid string) (journal.Snapshot, bool, error) {
	res, err := read[internal.SnapshotResult](ctx, j, internal.Query{
		Type: internal.QueryTLoadSnapshot,
		PID:  pid,
	})
	if err != nil {
		return journal.Snapshot{}, false, err
	}
	return res.Snapshot, res.Found, nil
}

func (j *journalImpl) DeleteEvents(ctx context.Context, pid string, toSeq uint64) error {
	return j.write(ctx, internal.Command{
		Type: internal.CommandTDeleteEvents,
		Seq:  toSeq,
		PID:  pid,
	})
}

func (j *journalImpl) DeleteSnapshots(ctx context.Context, pid string, maxSeq uint64) error {
	return j.write(ctx, internal.Command{
		Type: internal.CommandTDeleteSnapshots,
		Seq:  maxSeq,
		PID:  pid,
	})
}

func (j *journalImpl) Close() error {
	j.closed.Store(true)
	return nil
}
