package mstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/util"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("membership")

// ErrInjectedCrash is the termination error of a store crashed by a FaultPolicy
var ErrInjectedCrash = errors.New("injected store crash")

// Settings configure a membership store
type Settings struct {
	Journal         journal.Journal
	Mode            membership.Mode
	SnapshotAfter   uint64        // events between snapshots (eventsourced only), 0 disables snapshots
	KeepNrOfBatches uint64        // snapshot generations kept after compaction (eventsourced only)
	JournalTimeout  time.Duration // bound of a single journal request, 0 means unbounded
	Faults          membership.FaultPolicy
}

// Store is a membership store actor for one owner.
//
// A store recovers its state from the journal before it processes the first
// command. Commands are processed one at a time in the order they were told,
// so changes are written in acceptance order. Once the store terminated, Done
// is closed and Err tells a crash (non nil) from a stop (nil).
type Store struct {
	pid      membership.PersistenceID
	role     membership.Role
	settings Settings
	persist  persister
	incarnID string

	commands *util.Mailbox[Command]
	replies  *util.Mailbox[Reply]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	state membership.State
	mu    sync.Mutex // guards err
}

// New creates a store for pid and starts it
func New(pid membership.PersistenceID, settings Settings) *Store {
	if settings.Faults == nil {
		settings.Faults = membership.NoFaults{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pid:      pid,
		role:     pid.Role,
		settings: settings,
		incarnID: uuid.NewString(),
		commands: util.NewMailbox[Command](),
		replies:  util.NewMailbox[Reply](),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	switch settings.Mode {
	case membership.ModeDurableState:
		s.persist = &durableState{j: settings.Journal, pid: pid.String(), role: s.role, incarnID: s.incarnID}
	default:
		s.persist = &eventSourced{
			j:        settings.Journal,
			pid:      pid.String(),
			role:     s.role,
			every:    settings.SnapshotAfter,
			keep:     settings.KeepNrOfBatches,
			incarnID: s.incarnID,
		}
	}

	go s.run()
	return s
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// Tell enqueues a command. Commands told after termination are dropped.
func (s *Store) Tell(cmd Command) {
	if !s.commands.Push(cmd) {
		log.Debugf("[%s] %s dropped %T, store terminated", s.incarnID, s.pid, cmd)
	}
}

// Replies returns the channel replies are delivered on.
// It is closed after the store terminated and all replies were received.
func (s *Store) Replies() <-chan Reply {
	return s.replies.Recv()
}

// Done is closed once the store terminated
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Err returns the termination error, nil while running or after a stop
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop terminates the store without an error. An in-flight journal request is cancelled.
func (s *Store) Stop() {
	s.cancel()
}

// Close stops the store, waits for its termination and discards unread replies.
// It is the release path of an owner that no longer reads Replies.
func (s *Store) Close() {
	s.Stop()
	<-s.done
	if n := len(s.replies.Drain()); n > 0 {
		log.Debugf("[%s] %s discarded %d unread replies", s.incarnID, s.pid, n)
	}
}

// PersistenceID returns the identity of the store's log
func (s *Store) PersistenceID() membership.PersistenceID {
	return s.pid
}

// IncarnationID identifies this store instance in logs
func (s *Store) IncarnationID() string {
	return s.incarnID
}

// --------------------------------------------------------------------------
// Actor loop
// --------------------------------------------------------------------------

func (s *Store) run() {
	err := s.recover()
	if err == nil {
		err = s.loop()
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.cancel()
	s.replies.Close()
	if dropped := len(s.commands.Drain()); dropped > 0 {
		log.Infof("[%s] %s terminated with %d unprocessed commands", s.incarnID, s.pid, dropped)
	}
	if err != nil {
		log.Warningf("[%s] %s crashed: %v", s.incarnID, s.pid, err)
	} else {
		log.Debugf("[%s] %s stopped", s.incarnID, s.pid)
	}
	close(s.done)
}

func (s *Store) recover() error {
	ctx, cancel := s.requestCtx()
	defer cancel()

	state, err := s.persist.recover(ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			// stopped while recovering
			return nil
		}
		recoveriesTotal(s.role, "error").Inc()
		return fmt.Errorf("recovery of %s failed: %w", s.pid, err)
	}
	recoveriesTotal(s.role, "ok").Inc()
	s.state = state
	return nil
}

// loop processes commands until the store is stopped or a command terminates it.
// A nil return value is a stop, anything else a crash.
func (s *Store) loop() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case cmd := <-s.commands.Recv():
			terminate, err := s.handle(cmd)
			if terminate {
				return err
			}
		}
	}
}

// handle processes one command. It reports whether the store must terminate and with which error.
func (s *Store) handle(cmd Command) (bool, error) {
	if !s.accepts(cmd) {
		log.Errorf("[%s] %s ignored %T, not a %s command", s.incarnID, s.pid, cmd, s.role)
		return false, nil
	}

	faultID := cmd.id()
	if cmd.op() == membership.OpGet {
		faultID = s.pid.OwnerID
	}
	switch fault := s.settings.Faults.Fault(s.role, cmd.op(), faultID); fault {
	case membership.FaultNone:
	case membership.FaultNoResponse:
		injectedFaults(s.role, fault).Inc()
		log.Warningf("[%s] %s not responding to %T(%s)", s.incarnID, s.pid, cmd, cmd.id())
		return false, nil
	case membership.FaultCrashStore:
		injectedFaults(s.role, fault).Inc()
		return true, fmt.Errorf("%T(%s): %w", cmd, cmd.id(), ErrInjectedCrash)
	case membership.FaultStopStore:
		injectedFaults(s.role, fault).Inc()
		log.Warningf("[%s] %s stopping on %T(%s)", s.incarnID, s.pid, cmd, cmd.id())
		return true, nil
	}

	switch c := cmd.(type) {
	case GetEntities:
		s.replies.Push(RememberedEntities{IDs: s.state.Clone()})
	case GetShards:
		s.replies.Push(RememberedShards{IDs: s.state.Clone()})
	case AddEntity:
		return s.write(c.ID, membership.Started(c.ID))
	case RemoveEntity:
		return s.write(c.ID, membership.Stopped(c.ID))
	case AddShard:
		return s.write(c.ID, membership.Started(c.ID))
	}
	return false, nil
}

func (s *Store) accepts(cmd Command) bool {
	switch cmd.(type) {
	case AddEntity, RemoveEntity, GetEntities:
		return s.role == membership.RoleShard
	case AddShard, GetShards:
		return s.role == membership.RoleCoordinator
	default:
		return false
	}
}

// write persists e and acknowledges id. A failed write crashes the store, the
// owner recovers from the journal and finds out whether the write landed.
func (s *Store) write(id string, e membership.Event) (bool, error) {
	ctx, cancel := s.requestCtx()
	defer cancel()

	start := time.Now()
	next, err := s.persist.persist(ctx, s.state, e)
	writeDuration(s.role).UpdateDuration(start)
	if err != nil {
		if s.ctx.Err() != nil {
			return true, nil
		}
		writesTotal(s.role, "error").Inc()
		return true, fmt.Errorf("writing %s to %s failed: %w", e, s.pid, err)
	}
	writesTotal(s.role, "ok").Inc()

	s.state = next
	s.replies.Push(UpdateDone{ID: id})
	return false, nil
}

func (s *Store) requestCtx() (context.Context, context.CancelFunc) {
	if s.settings.JournalTimeout > 0 {
		return context.WithTimeout(s.ctx, s.settings.JournalTimeout)
	}
	return context.WithCancel(s.ctx)
}
