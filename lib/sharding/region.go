package sharding

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/membership/provider"
	"github.com/ValentinKolb/dMem/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("sharding")

// ShardIDExtractor maps an entity id to its shard id
type ShardIDExtractor func(id membership.EntityID) membership.ShardID

// HashExtractor distributes entity ids over n shards by hash
func HashExtractor(n uint64) ShardIDExtractor {
	return func(id membership.EntityID) membership.ShardID {
		return strconv.FormatUint(util.HashString(id, 0)%n, 10)
	}
}

// RegionOption customizes a Region
type RegionOption func(*Region)

// WithExtractor replaces the default hash based shard id extractor
func WithExtractor(extractor ShardIDExtractor) RegionOption {
	return func(r *Region) {
		r.extractor = extractor
	}
}

// Region is the entry point of a sharded entity type on this node. It routes
// messages to shards, asks the coordinator for shard homes and buffers messages
// until a home is known.
type Region struct {
	typeName  string
	settings  Settings
	provider  provider.StoreProvider
	factory   EntityFactory
	extractor ShardIDExtractor

	mailbox     *util.Mailbox[any]
	coordinator *Coordinator
	shards      *xsync.MapOf[membership.ShardID, *Shard] // written by the region loop only

	// owned by the region loop
	buffers  map[membership.ShardID][]Message
	buffered int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type (
	shardHomeMsg struct{ id membership.ShardID }
	hostShardMsg struct{ id membership.ShardID }
)

// NewRegion creates a region. Call Start to run it.
func NewRegion(typeName string, settings Settings, p provider.StoreProvider, factory EntityFactory, opts ...RegionOption) (*Region, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sharding settings: %w", err)
	}
	if p == nil || factory == nil {
		return nil, errors.New("store provider and entity factory are required")
	}
	r := &Region{
		typeName:  typeName,
		settings:  settings,
		provider:  p,
		factory:   factory,
		extractor: HashExtractor(settings.NumberOfShards),
		mailbox:   util.NewMailbox[any](),
		shards:    xsync.NewMapOf[membership.ShardID, *Shard](),
		buffers:   make(map[membership.ShardID][]Message),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start runs the coordinator and the region loop until ctx is cancelled or Stop is called
func (r *Region) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.coordinator = newCoordinator(r.ctx, r.settings, r.provider, r)
	go r.loop()
	log.Infof("region %s started with %d shards", r.typeName, r.settings.NumberOfShards)
}

// Stop stops the region with its coordinator and shards and waits for them.
// It is a no-op if the region was never started.
func (r *Region) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.coordinator.stop()
	r.shards.Range(func(_ membership.ShardID, s *Shard) bool {
		s.stop()
		return true
	})
	log.Infof("region %s stopped", r.typeName)
}

// Tell sends a message to an entity. Delivery is at most once.
func (r *Region) Tell(msg Message) {
	r.mailbox.Push(msg)
}

// Ask sends payload to an entity and waits for its reply
func (r *Region) Ask(ctx context.Context, id membership.EntityID, payload any) (any, error) {
	reply := make(chan any, 1)
	r.Tell(Message{EntityID: id, Payload: payload, ReplyTo: reply})
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no reply from entity %s: %w", id, ctx.Err())
	}
}

// Shards returns the ids of the shards running on this region
func (r *Region) Shards() []membership.ShardID {
	var ids []membership.ShardID
	r.shards.Range(func(id membership.ShardID, _ *Shard) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// ShardOf returns the shard id of an entity
func (r *Region) ShardOf(id membership.EntityID) membership.ShardID {
	return r.extractor(id)
}

func (r *Region) shardHome(id membership.ShardID) {
	r.mailbox.Push(shardHomeMsg{id: id})
}

func (r *Region) hostShard(id membership.ShardID) {
	r.mailbox.Push(hostShardMsg{id: id})
}

// --------------------------------------------------------------------------
// Region loop
// --------------------------------------------------------------------------

func (r *Region) loop() {
	defer close(r.done)
	defer func() {
		if dropped := len(r.mailbox.Drain()); dropped > 0 {
			log.Infof("region %s dropped %d messages on stop", r.typeName, dropped)
		}
	}()

	ticker := time.NewTicker(r.settings.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case m := <-r.mailbox.Recv():
			r.handle(m)
		case <-ticker.C:
			for id, buf := range r.buffers {
				log.Debugf("region %s: retrying shard home of %s (%d buffered)", r.typeName, id, len(buf))
				r.coordinator.GetShardHome(id)
			}
		}
	}
}

func (r *Region) handle(m any) {
	switch msg := m.(type) {
	case Message:
		id := r.extractor(msg.EntityID)
		if s, ok := r.shards.Load(id); ok {
			r.deliver(s, msg)
			return
		}
		r.buffer(id, msg)
	case shardHomeMsg:
		r.flush(r.startShard(msg.id))
	case hostShardMsg:
		r.flush(r.startShard(msg.id))
	default:
		log.Errorf("region %s: unexpected message %T", r.typeName, m)
	}
}

// buffer holds a message until the home of its shard is known
func (r *Region) buffer(id membership.ShardID, msg Message) {
	if r.buffered >= r.settings.BufferSize {
		droppedMessages("region").Inc()
		log.Warningf("region %s: buffer full (%d), dropping message for entity %s", r.typeName, r.buffered, msg.EntityID)
		return
	}
	first := len(r.buffers[id]) == 0
	r.buffers[id] = append(r.buffers[id], msg)
	r.buffered++
	if first {
		r.coordinator.GetShardHome(id)
	}
}

func (r *Region) startShard(id membership.ShardID) *Shard {
	if s, ok := r.shards.Load(id); ok {
		return s
	}
	s := newShard(r.ctx, id, r.settings, r.provider, r.factory)
	r.shards.Store(id, s)
	log.Debugf("region %s: started shard %s", r.typeName, id)
	return s
}

func (r *Region) flush(s *Shard) {
	buf := r.buffers[s.ID()]
	delete(r.buffers, s.ID())
	r.buffered -= len(buf)
	for _, msg := range buf {
		r.deliver(s, msg)
	}
}

func (r *Region) deliver(s *Shard, msg Message) {
	if !s.Deliver(msg) {
		droppedMessages("region").Inc()
		log.Debugf("region %s: shard %s is restarting, message for %s dropped", r.typeName, s.ID(), msg.EntityID)
	}
}
