package sharding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/util"
)

// ErrPassivate is returned by Entity.Receive to stop the entity gracefully.
// The entity is then forgotten by the remember entities store.
var ErrPassivate = errors.New("passivate entity")

// Message is delivered to the entity EntityID. ReplyTo is optional.
type Message struct {
	EntityID membership.EntityID
	Payload  any
	ReplyTo  chan<- any
}

// Reply sends v to ReplyTo without blocking
func (m Message) Reply(v any) {
	if m.ReplyTo == nil {
		return
	}
	select {
	case m.ReplyTo <- v:
	default:
		log.Debugf("reply to %s dropped, receiver not ready", m.EntityID)
	}
}

// Entity processes the messages of one entity id, one at a time.
//
// Returning ErrPassivate stops the entity gracefully. Any other error or a panic
// stops it abruptly: nothing is written to the store, the entity stays
// remembered and is restarted after the entity restart backoff.
type Entity interface {
	Receive(ctx context.Context, msg Message) error
}

// EntityFactory creates the entity for an id. It is called on every (re)start.
type EntityFactory func(id membership.EntityID) Entity

// EntityFunc adapts a function to the Entity interface
type EntityFunc func(ctx context.Context, msg Message) error

func (f EntityFunc) Receive(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// --------------------------------------------------------------------------
// Runner
// --------------------------------------------------------------------------

// entityStopped is posted to the shard when an entity's goroutine ends on its own
type entityStopped struct {
	id       membership.EntityID
	gen      uint64
	graceful bool
	err      error
}

// entityRunner drives one started entity instance
type entityRunner struct {
	id      membership.EntityID
	gen     uint64
	started time.Time
	mailbox *util.Mailbox[Message]
	done    chan struct{}
}

// startEntity starts an entity goroutine. notify is called once if the entity
// stops by itself, but not when ctx is cancelled.
func startEntity(ctx context.Context, id membership.EntityID, gen uint64, entity Entity, notify func(entityStopped)) *entityRunner {
	r := &entityRunner{
		id:      id,
		gen:     gen,
		started: time.Now(),
		mailbox: util.NewMailbox[Message](),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-r.mailbox.Recv():
				if err := receive(ctx, entity, msg); err != nil {
					notify(entityStopped{
						id:       id,
						gen:      gen,
						graceful: errors.Is(err, ErrPassivate),
						err:      err,
					})
					return
				}
			}
		}
	}()
	return r
}

// receive calls the entity and converts a panic into an error
func receive(ctx context.Context, entity Entity, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entity %s panicked: %v", msg.EntityID, r)
		}
	}()
	return entity.Receive(ctx, msg)
}

// tell hands a message to the entity
func (r *entityRunner) tell(msg Message) {
	r.mailbox.Push(msg)
}

// leftovers returns the messages the entity did not process.
// Only valid once the entity goroutine stopped reading.
func (r *entityRunner) leftovers() []Message {
	return r.mailbox.Drain()
}
