package membership

import (
	"slices"
)

// EntityID identifies an entity within a sharded type
type EntityID = string

// ShardID identifies a shard within a sharded type
type ShardID = string

// State is the set of remembered ids of one owner: entity ids for a shard,
// shard ids for the coordinator. Adding a present id is a no-op.
type State map[string]struct{}

// NewState creates a state holding the given ids
func NewState(ids ...string) State {
	s := make(State, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is a member
func (s State) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Clone returns an independent copy of s
func (s State) Clone() State {
	c := make(State, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Sorted returns the members in lexical order
func (s State) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Equal reports whether both states hold the same ids
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}
