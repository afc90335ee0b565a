package sharding

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/membership/mstore"
	"github.com/ValentinKolb/dMem/lib/membership/provider"
	"github.com/ValentinKolb/dMem/lib/util"
)

// Shard hosts the entities of one shard id and remembers them in its store.
//
// The shard runs in incarnations (see supervise). Every incarnation gets a
// fresh store and its own mailbox: messages that were queued or buffered when an
// incarnation failed are dropped, and messages arriving during the backoff are
// rejected. Senders retry.
type Shard struct {
	id       membership.ShardID
	settings Settings
	provider provider.StoreProvider
	factory  EntityFactory

	mailbox atomic.Pointer[util.Mailbox[any]]
	cancel  context.CancelFunc
	done    chan struct{}
}

func newShard(parent context.Context, id membership.ShardID, settings Settings, p provider.StoreProvider, factory EntityFactory) *Shard {
	ctx, cancel := context.WithCancel(parent)
	s := &Shard{
		id:       id,
		settings: settings,
		provider: p,
		factory:  factory,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.mailbox.Store(util.NewMailbox[any]())

	go func() {
		defer close(s.done)
		supervise(ctx, "shard", settings.ShardFailureBackoff, s.incarnate)
	}()
	return s
}

// Deliver hands a message to the shard. It returns false if the message was
// dropped because the shard is restarting.
func (s *Shard) Deliver(msg Message) bool {
	return s.mailbox.Load().Push(msg)
}

// ID returns the shard id
func (s *Shard) ID() membership.ShardID {
	return s.id
}

func (s *Shard) stop() {
	s.cancel()
	<-s.done
}

// --------------------------------------------------------------------------
// Incarnation state
// --------------------------------------------------------------------------

type entityStatus uint8

const (
	statusStarting       entityStatus = iota // AddEntity in flight, messages are buffered
	statusActive                             // running, messages go to the entity
	statusPassivating                        // RemoveEntity in flight, messages are buffered
	statusWaitingRestart                     // stopped abruptly, restart timer armed
)

type entityState struct {
	status   entityStatus
	runner   *entityRunner
	buffer   []Message
	gen      uint64
	failures uint
}

type writeKind uint8

const (
	writeStart writeKind = iota
	writeStop
)

func (k writeKind) String() string {
	if k == writeStart {
		return "AddEntity"
	}
	return "RemoveEntity"
}

// pendingWrite is a store command awaiting its UpdateDone
type pendingWrite struct {
	kind    writeKind
	token   uint64
	timer   *time.Timer
	started time.Time
}

// internal messages of an incarnation
type (
	writeTimeout struct {
		id    membership.EntityID
		token uint64
	}
	restartEntity struct {
		id  membership.EntityID
		gen uint64
	}
)

// shardRun is the state of one incarnation, only touched by its goroutine
type shardRun struct {
	*Shard
	n        uint64
	ctx      context.Context
	mailbox  *util.Mailbox[any]
	store    *mstore.Store
	entities map[membership.EntityID]*entityState
	pending  map[membership.EntityID]*pendingWrite
	tokens   uint64
	gens     uint64
}

func (s *Shard) incarnate(parent context.Context, n uint64) error {
	if n > 1 {
		s.mailbox.Store(util.NewMailbox[any]())
	}
	ctx, cancel := context.WithCancel(parent)

	r := &shardRun{
		Shard:    s,
		n:        n,
		ctx:      ctx,
		mailbox:  s.mailbox.Load(),
		store:    s.provider.ShardStore(s.id),
		entities: make(map[membership.EntityID]*entityState),
		pending:  make(map[membership.EntityID]*pendingWrite),
	}
	defer r.shutdown(cancel)

	remembered, ok, err := r.awaitEntities()
	if err != nil || !ok {
		return err
	}
	for _, id := range remembered.Sorted() {
		r.activate(id, &entityState{})
	}
	log.Infof("shard %s (incarnation %d) started with %d remembered entities", s.id, n, len(remembered))

	return r.loop()
}

// awaitEntities asks the store for the remembered entities.
// ok is false if the shard was stopped meanwhile.
func (r *shardRun) awaitEntities() (remembered membership.State, ok bool, err error) {
	r.store.Tell(mstore.GetEntities{})
	timer := time.NewTimer(r.settings.UpdatingStateTimeout)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return nil, false, nil
		case rep, open := <-r.store.Replies():
			if !open {
				<-r.store.Done()
				return nil, false, storeTerminated(r.store)
			}
			if ids, isIDs := rep.(mstore.RememberedEntities); isIDs {
				return ids.IDs, true, nil
			}
			log.Warningf("shard %s: unexpected reply %T while waiting for entities", r.id, rep)
		case <-r.store.Done():
			return nil, false, storeTerminated(r.store)
		case <-timer.C:
			return nil, false, fmt.Errorf("%w: GetEntities of shard %s", ErrUpdateTimeout, r.id)
		}
	}
}

func (r *shardRun) loop() error {
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case m := <-r.mailbox.Recv():
			if err := r.handle(m); err != nil {
				return err
			}
		case rep, ok := <-r.store.Replies():
			if !ok {
				<-r.store.Done()
				return storeTerminated(r.store)
			}
			r.onReply(rep)
		case <-r.store.Done():
			return storeTerminated(r.store)
		}
	}
}

func (r *shardRun) handle(m any) error {
	switch msg := m.(type) {
	case Message:
		r.deliver(msg)
	case entityStopped:
		r.onEntityStopped(msg)
	case restartEntity:
		if st := r.entities[msg.id]; st != nil && st.gen == msg.gen && st.status == statusWaitingRestart {
			entityRestarts().Inc()
			log.Infof("shard %s: restarting entity %s", r.id, msg.id)
			r.activate(msg.id, st)
		}
	case writeTimeout:
		if p := r.pending[msg.id]; p != nil && p.token == msg.token {
			return fmt.Errorf("%w: %s(%s) in shard %s", ErrUpdateTimeout, p.kind, msg.id, r.id)
		}
	default:
		log.Errorf("shard %s: unexpected message %T", r.id, m)
	}
	return nil
}

// deliver routes a message to its entity. The first message for an unknown
// entity is held back until the entity is durably remembered.
func (r *shardRun) deliver(msg Message) {
	st, ok := r.entities[msg.EntityID]
	if !ok {
		r.entities[msg.EntityID] = &entityState{status: statusStarting, buffer: []Message{msg}}
		r.write(msg.EntityID, writeStart)
		return
	}
	if st.status == statusActive {
		st.runner.tell(msg)
		return
	}
	st.buffer = append(st.buffer, msg)
}

// write sends a change to the store and arms its deadline
func (r *shardRun) write(id membership.EntityID, kind writeKind) {
	r.tokens++
	token, mb := r.tokens, r.mailbox
	r.pending[id] = &pendingWrite{
		kind:    kind,
		token:   token,
		started: time.Now(),
		timer: time.AfterFunc(r.settings.UpdatingStateTimeout, func() {
			mb.Push(writeTimeout{id: id, token: token})
		}),
	}
	if kind == writeStart {
		r.store.Tell(mstore.AddEntity{ID: id})
	} else {
		r.store.Tell(mstore.RemoveEntity{ID: id})
	}
}

func (r *shardRun) onReply(rep mstore.Reply) {
	done, ok := rep.(mstore.UpdateDone)
	if !ok {
		log.Warningf("shard %s: unexpected reply %T", r.id, rep)
		return
	}
	p := r.pending[done.ID]
	if p == nil {
		log.Debugf("shard %s: UpdateDone(%s) without pending write", r.id, done.ID)
		return
	}
	p.timer.Stop()
	delete(r.pending, done.ID)
	updateLatency("shard").UpdateDuration(p.started)

	st := r.entities[done.ID]
	switch p.kind {
	case writeStart:
		r.activate(done.ID, st)
	case writeStop:
		if len(st.buffer) > 0 {
			// messages arrived while stopping, start again
			st.status = statusStarting
			r.write(done.ID, writeStart)
			return
		}
		delete(r.entities, done.ID)
		log.Debugf("shard %s: entity %s passivated", r.id, done.ID)
	}
}

// activate starts an entity instance and hands it the buffered messages
func (r *shardRun) activate(id membership.EntityID, st *entityState) {
	r.gens++
	mb := r.mailbox
	st.gen = r.gens
	st.status = statusActive
	st.runner = startEntity(r.ctx, id, st.gen, r.factory(id), func(ev entityStopped) { mb.Push(ev) })
	r.entities[id] = st

	for _, msg := range st.buffer {
		st.runner.tell(msg)
	}
	st.buffer = nil
}

func (r *shardRun) onEntityStopped(ev entityStopped) {
	st := r.entities[ev.id]
	if st == nil || st.gen != ev.gen || st.status != statusActive {
		return
	}
	runner := st.runner
	st.runner = nil
	st.buffer = append(runner.leftovers(), st.buffer...)

	if ev.graceful {
		st.status = statusPassivating
		r.write(ev.id, writeStop)
		return
	}

	// an abrupt stop writes nothing, the entity is still remembered and comes back
	backoff := r.settings.EntityRestartBackoff
	if time.Since(runner.started) > backoff.Max {
		st.failures = 0
	}
	st.failures++
	delay := backoff.Delay(st.failures)
	st.status = statusWaitingRestart
	log.Warningf("shard %s: entity %s stopped abruptly (%v), restarting in %s", r.id, ev.id, ev.err, delay)

	id, gen, mb := ev.id, st.gen, r.mailbox
	time.AfterFunc(delay, func() { mb.Push(restartEntity{id: id, gen: gen}) })
}

// shutdown ends the incarnation: entities are stopped, undelivered messages dropped
func (r *shardRun) shutdown(cancel context.CancelFunc) {
	cancel()
	for _, p := range r.pending {
		p.timer.Stop()
	}

	dropped := 0
	for _, st := range r.entities {
		if st.runner != nil {
			<-st.runner.done
			dropped += len(st.runner.leftovers())
		}
		dropped += len(st.buffer)
	}
	for _, m := range r.mailbox.Drain() {
		if _, ok := m.(Message); ok {
			dropped++
		}
	}
	r.store.Close()

	if dropped > 0 {
		droppedMessages("shard").Add(dropped)
		log.Warningf("shard %s (incarnation %d) dropped %d undelivered messages", r.id, r.n, dropped)
	}
}
