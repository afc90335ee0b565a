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

// homeReceiver is told where shards live. The region implements it.
type homeReceiver interface {
	// shardHome answers a GetShardHome request
	shardHome(id membership.ShardID)
	// hostShard asks to start a shard that was allocated before a coordinator restart
	hostShard(id membership.ShardID)
}

// Coordinator allocates shards and remembers the allocation.
// A shard home is only handed out once the shard is durably remembered.
type Coordinator struct {
	settings Settings
	provider provider.StoreProvider
	region   homeReceiver

	mailbox atomic.Pointer[util.Mailbox[any]]
	cancel  context.CancelFunc
	done    chan struct{}
}

type (
	getShardHome struct {
		id membership.ShardID
	}
	allocationTimeout struct {
		id    membership.ShardID
		token uint64
	}
)

func newCoordinator(parent context.Context, settings Settings, p provider.StoreProvider, region homeReceiver) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		settings: settings,
		provider: p,
		region:   region,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.mailbox.Store(util.NewMailbox[any]())

	go func() {
		defer close(c.done)
		supervise(ctx, "coordinator", settings.CoordinatorFailureBackoff, c.incarnate)
	}()
	return c
}

// GetShardHome requests the home of a shard. The answer arrives at the region.
// Requests made while the coordinator restarts are lost, the region repeats them.
func (c *Coordinator) GetShardHome(id membership.ShardID) {
	c.mailbox.Load().Push(getShardHome{id: id})
}

func (c *Coordinator) stop() {
	c.cancel()
	<-c.done
}

type allocation struct {
	token   uint64
	timer   *time.Timer
	started time.Time
}

func (c *Coordinator) incarnate(ctx context.Context, n uint64) error {
	if n > 1 {
		c.mailbox.Store(util.NewMailbox[any]())
	}
	mb := c.mailbox.Load()
	store := c.provider.CoordinatorStore()
	pending := make(map[membership.ShardID]*allocation)

	defer func() {
		for _, a := range pending {
			a.timer.Stop()
		}
		if dropped := len(mb.Drain()); dropped > 0 {
			log.Infof("coordinator (incarnation %d) dropped %d requests", n, dropped)
		}
		store.Close()
	}()

	allocated, ok, err := c.awaitShards(ctx, store)
	if err != nil || !ok {
		return err
	}
	if allocated == nil {
		allocated = membership.NewState()
	}
	log.Infof("coordinator (incarnation %d) started with %d remembered shards", n, len(allocated))
	for _, id := range allocated.Sorted() {
		c.region.hostShard(id)
	}

	var tokens uint64
	for {
		select {
		case <-ctx.Done():
			return nil

		case m := <-mb.Recv():
			switch msg := m.(type) {
			case getShardHome:
				if allocated.Has(msg.id) {
					c.region.shardHome(msg.id)
					continue
				}
				if _, ok := pending[msg.id]; ok {
					continue
				}
				tokens++
				id, token := msg.id, tokens
				pending[id] = &allocation{
					token:   token,
					started: time.Now(),
					timer: time.AfterFunc(c.settings.UpdatingStateTimeout, func() {
						mb.Push(allocationTimeout{id: id, token: token})
					}),
				}
				store.Tell(mstore.AddShard{ID: id})
			case allocationTimeout:
				if a := pending[msg.id]; a != nil && a.token == msg.token {
					return fmt.Errorf("%w: AddShard(%s)", ErrUpdateTimeout, msg.id)
				}
			default:
				log.Errorf("coordinator: unexpected message %T", m)
			}

		case rep, ok := <-store.Replies():
			if !ok {
				<-store.Done()
				return storeTerminated(store)
			}
			done, ok := rep.(mstore.UpdateDone)
			if !ok {
				log.Warningf("coordinator: unexpected reply %T", rep)
				continue
			}
			a := pending[done.ID]
			if a == nil {
				continue
			}
			a.timer.Stop()
			delete(pending, done.ID)
			updateLatency("coordinator").UpdateDuration(a.started)

			allocated[done.ID] = struct{}{}
			log.Debugf("coordinator: shard %s allocated", done.ID)
			c.region.shardHome(done.ID)

		case <-store.Done():
			return storeTerminated(store)
		}
	}
}

// awaitShards asks the store for the remembered shards.
// ok is false if the coordinator was stopped meanwhile.
func (c *Coordinator) awaitShards(ctx context.Context, store *mstore.Store) (allocated membership.State, ok bool, err error) {
	store.Tell(mstore.GetShards{})
	timer := time.NewTimer(c.settings.UpdatingStateTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, nil
		case rep, open := <-store.Replies():
			if !open {
				<-store.Done()
				return nil, false, storeTerminated(store)
			}
			if ids, isIDs := rep.(mstore.RememberedShards); isIDs {
				return ids.IDs, true, nil
			}
			log.Warningf("coordinator: unexpected reply %T while waiting for shards", rep)
		case <-store.Done():
			return nil, false, storeTerminated(store)
		case <-timer.C:
			return nil, false, fmt.Errorf("%w: GetShards", ErrUpdateTimeout)
		}
	}
}
