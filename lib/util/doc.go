// Package util provides small building blocks shared by the actor loops of dMem.
//
// Components:
//
//   - Mailbox: an unbounded multi-producer single-consumer queue that
//     exposes its output as a channel. Every owner (region, coordinator, shard),
//     every entity and every membership store actor consumes exactly one Mailbox,
//     which gives the single-writer-per-owner model: any number of goroutines may
//     Push, exactly one goroutine processes messages in order.
//
//   - HashString: FNV-1a based hashing used to derive shard ids from entity ids.
//
// A Mailbox never blocks producers. Memory grows with the backlog, so owners
// that buffer on behalf of clients (the region) enforce their own limits.
package util
