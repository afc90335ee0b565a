package mstore

import "github.com/ValentinKolb/dMem/lib/membership"

// --------------------------------------------------------------------------
// Commands (owner -> store)
// --------------------------------------------------------------------------

// Command is a request to a membership store
type Command interface {
	op() membership.Op
	id() string
}

// AddEntity remembers an entity. Answered with UpdateDone once durable.
type AddEntity struct{ ID membership.EntityID }

// RemoveEntity forgets an entity. Answered with UpdateDone once durable.
type RemoveEntity struct{ ID membership.EntityID }

// GetEntities asks for the remembered entities. Answered with RememberedEntities.
type GetEntities struct{}

// AddShard remembers an allocated shard. Answered with UpdateDone once durable.
type AddShard struct{ ID membership.ShardID }

// GetShards asks for the remembered shards. Answered with RememberedShards.
type GetShards struct{}

func (AddEntity) op() membership.Op    { return membership.OpAdd }
func (RemoveEntity) op() membership.Op { return membership.OpRemove }
func (GetEntities) op() membership.Op  { return membership.OpGet }
func (AddShard) op() membership.Op     { return membership.OpAdd }
func (GetShards) op() membership.Op    { return membership.OpGet }

func (c AddEntity) id() string    { return c.ID }
func (c RemoveEntity) id() string { return c.ID }
func (GetEntities) id() string    { return "" }
func (c AddShard) id() string     { return c.ID }
func (GetShards) id() string      { return "" }

// --------------------------------------------------------------------------
// Replies (store -> owner)
// --------------------------------------------------------------------------

// Reply is an answer of a membership store
type Reply interface {
	isReply()
}

// UpdateDone acknowledges that a change of ID is durable
type UpdateDone struct{ ID string }

// RememberedEntities answers GetEntities
type RememberedEntities struct{ IDs membership.State }

// RememberedShards answers GetShards
type RememberedShards struct{ IDs membership.State }

func (UpdateDone) isReply()         {}
func (RememberedEntities) isReply() {}
func (RememberedShards) isReply()   {}
