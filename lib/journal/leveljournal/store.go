package leveljournal

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var log = logger.GetLogger("journal")

const (
	tagEvent    byte = 'e'
	tagSnapshot byte = 's'
	tagHighest  byte = 'h'
)

type journalImpl struct {
	db     *leveldb.DB
	mu     sync.Mutex // serializes appends, the highest check and the write must be atomic
	closed atomic.Bool
	sync   *opt.WriteOptions
}

// Open opens (or creates) a journal in the given directory.
func Open(dir string) (journal.Journal, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb journal at %s: %w", dir, err)
	}
	log.Infof("opened leveldb journal at %s", dir)
	return newJournal(db), nil
}

// OpenStorage opens a journal on an arbitrary goleveldb storage,
// e.g. storage.NewMemStorage() for tests.
func OpenStorage(stor storage.Storage) (journal.Journal, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb journal: %w", err)
	}
	return newJournal(db), nil
}

func newJournal(db *leveldb.DB) *journalImpl {
	return &journalImpl{
		db:   db,
		sync: &opt.WriteOptions{Sync: true},
	}
}

// --------------------------------------------------------------------------
// Key Layout
// --------------------------------------------------------------------------

// streamPrefix is tag | uvarint(len(pid)) | pid. The uvarint is prefix free, so
// the prefix of one pid is never a prefix of another pid's keys.
func streamPrefix(tag byte, pid string) []byte {
	key := make([]byte, 0, 1+binary.MaxVarintLen64+len(pid)+8)
	key = append(key, tag)
	key = binary.AppendUvarint(key, uint64(len(pid)))
	key = append(key, pid...)
	return key
}

func seqKey(tag byte, pid string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(streamPrefix(tag, pid), seq)
}

func highestKey(pid string) []byte {
	return streamPrefix(tagHighest, pid)
}

// seqRange covers the records of a stream with from <= seq <= to
func seqRange(tag byte, pid string, from, to uint64) *util.Range {
	r := &util.Range{Start: seqKey(tag, pid, from)}
	if to == math.MaxUint64 {
		r.Limit = util.BytesPrefix(streamPrefix(tag, pid)).Limit
	} else {
		r.Limit = seqKey(tag, pid, to+1)
	}
	return r
}

func seqOf(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (j *journalImpl) check(ctx context.Context) error {
	if j.closed.Load() {
		return journal.NewError(journal.RetCClosed, "journal closed")
	}
	return ctx.Err()
}

func (j *journalImpl) highest(pid string) (uint64, error) {
	val, err := j.db.Get(highestKey(pid), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, journal.Errorf(journal.RetCInternalError, "failed to read highest seq of %s: %v", pid, err)
	}
	if len(val) != 8 {
		return 0, journal.Errorf(journal.RetCInternalError, "corrupt highest seq of %s", pid)
	}
	return binary.BigEndian.Uint64(val), nil
}

// deleteRange removes all keys in r with one synced batch
func (j *journalImpl) deleteRange(r *util.Range) error {
	batch := new(leveldb.Batch)
	it := j.db.NewIterator(r, nil)
	for it.Next() {
		batch.Delete(bytes.Clone(it.Key()))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return journal.Errorf(journal.RetCInternalError, "failed to iterate: %v", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := j.db.Write(batch, j.sync); err != nil {
		return journal.Errorf(journal.RetCInternalError, "failed to delete: %v", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see journal/interface.go)
// --------------------------------------------------------------------------

func (j *journalImpl) Append(ctx context.Context, pid string, event journal.Event) error {
	if err := j.check(ctx); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	highest, err := j.highest(pid)
	if err != nil {
		return err
	}
	if err := journal.CheckAppend(pid, highest, event); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(seqKey(tagEvent, pid, event.Seq), event.Payload)
	batch.Put(highestKey(pid), binary.BigEndian.AppendUint64(nil, event.Seq))
	if err := j.db.Write(batch, j.sync); err != nil {
		return journal.Errorf(journal.RetCInternalError, "failed to append to %s: %v", pid, err)
	}
	return nil
}

func (j *journalImpl) Replay(ctx context.Context, pid string, fromSeq uint64) iter.Seq2[journal.Event, error] {
	if err := j.check(ctx); err != nil {
		return journal.Failed(err)
	}
	return func(yield func(journal.Event, error) bool) {
		// the snapshot pins the view, concurrent appends are not visible
		snap, err := j.db.GetSnapshot()
		if err != nil {
			yield(journal.Event{}, journal.Errorf(journal.RetCInternalError, "failed to replay %s: %v", pid, err))
			return
		}
		defer snap.Release()

		it := snap.NewIterator(seqRange(tagEvent, pid, fromSeq, math.MaxUint64), nil)
		defer it.Release()
		for it.Next() {
			if err := ctx.Err(); err != nil {
				yield(journal.Event{}, err)
				return
			}
			e := journal.Event{Seq: seqOf(it.Key()), Payload: bytes.Clone(it.Value())}
			if !yield(e, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(journal.Event{}, journal.Errorf(journal.RetCInternalError, "failed to replay %s: %v", pid, err))
		}
	}
}

func (j *journalImpl) HighestSeq(ctx context.Context, pid string) (uint64, error) {
	if err := j.check(ctx); err != nil {
		return 0, err
	}
	return j.highest(pid)
}

func (j *journalImpl) SaveSnapshot(ctx context.Context, pid string, snapshot journal.Snapshot) error {
	if err := j.check(ctx); err != nil {
		return err
	}
	if err := j.db.Put(seqKey(tagSnapshot, pid, snapshot.Seq), snapshot.Payload, j.sync); err != nil {
		return journal.Errorf(journal.RetCInternalError, "failed to save snapshot of %s: %v", pid, err)
	}
	return nil
}

func (j *journalImpl) LoadSnapshot(ctx context.Context, pid string) (journal.Snapshot, bool, error) {
	if err := j.check(ctx); err != nil {
		return journal.Snapshot{}, false, err
	}
	it := j.db.NewIterator(util.BytesPrefix(streamPrefix(tagSnapshot, pid)), nil)
	defer it.Release()
	if !it.Last() {
		if err := it.Error(); err != nil {
			return journal.Snapshot{}, false, journal.Errorf(journal.RetCInternalError, "failed to load snapshot of %s: %v", pid, err)
		}
		return journal.Snapshot{}, false, nil
	}
	return journal.Snapshot{Seq: seqOf(it.Key()), Payload: bytes.Clone(it.Value())}, true, nil
}

func (j *journalImpl) DeleteEvents(ctx context.Context, pid string, toSeq uint64) error {
	if err := j.check(ctx); err != nil {
		return err
	}
	return j.deleteRange(seqRange(tagEvent, pid, 0, toSeq))
}

func (j *journalImpl) DeleteSnapshots(ctx context.Context, pid string, maxSeq uint64) error {
	if err := j.check(ctx); err != nil {
		return err
	}
	return j.deleteRange(seqRange(tagSnapshot, pid, 0, maxSeq))
}

func (j *journalImpl) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	return j.db.Close()
}
