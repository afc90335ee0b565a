// Package provider turns a deployment configuration into membership stores.
//
// New is resolved once per sharded type. Every call to ShardStore or
// CoordinatorStore returns a fresh store actor bound to a deterministic
// persistence id, so an owner that restarts always recovers the same log.
package provider
