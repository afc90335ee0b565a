// Package sharding runs the owners of a sharded entity type on top of the
// remember entities stores.
//
// A Region routes messages to shards. The Coordinator allocates shards and only
// hands out a shard home once the allocation is durably remembered. A Shard
// starts an entity only after its AddEntity was acknowledged and writes
// RemoveEntity when the entity passivates (Entity.Receive returned
// ErrPassivate). Entities that stop abruptly stay remembered and are restarted
// after the entity restart backoff.
//
// Shards and the coordinator fail fast: a store that crashes, stops or does
// not answer within the updating state timeout ends the owner's incarnation.
// The owner is restarted with backoff, gets a fresh store from the
// provider.StoreProvider and recovers its state from the journal. Messages in
// flight at that moment are dropped, delivery is at most once.
package sharding
