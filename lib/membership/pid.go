package membership

import (
	"fmt"
	"strings"
)

// Role is the kind of owner a membership store belongs to
type Role uint8

const (
	RoleShard Role = iota + 1
	RoleCoordinator
)

func (r Role) String() string {
	switch r {
	case RoleShard:
		return "shard"
	case RoleCoordinator:
		return "coordinator"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// PersistenceID is the stable identity of an owner's log.
// It only depends on the type name, the role and the shard id, so a restarted
// owner always recovers from the same log.
type PersistenceID struct {
	TypeName string
	Role     Role
	OwnerID  string // shard id, empty for the coordinator
}

// ValidateTypeName rejects type names that would make persistence ids ambiguous.
// With a '/' in the type name, ShardPersistenceID("X", "Coordinator") and
// CoordinatorPersistenceID("XShard/") would share a log.
func ValidateTypeName(typeName string) error {
	if typeName == "" {
		return fmt.Errorf("type name must not be empty")
	}
	if strings.Contains(typeName, "/") {
		return fmt.Errorf("type name %q must not contain '/'", typeName)
	}
	return nil
}

// ShardPersistenceID returns the persistence id of a shard's entity store
func ShardPersistenceID(typeName string, shardID ShardID) PersistenceID {
	return PersistenceID{TypeName: typeName, Role: RoleShard, OwnerID: shardID}
}

// CoordinatorPersistenceID returns the persistence id of the coordinator's shard store
func CoordinatorPersistenceID(typeName string) PersistenceID {
	return PersistenceID{TypeName: typeName, Role: RoleCoordinator}
}

// String returns the journal key, e.g. /sharding/CounterShard/3 or /sharding/CounterCoordinator.
// It is unique per (type name, role, owner id) if the type name passed ValidateTypeName.
func (p PersistenceID) String() string {
	if p.Role == RoleCoordinator {
		return fmt.Sprintf("/sharding/%sCoordinator", p.TypeName)
	}
	return fmt.Sprintf("/sharding/%sShard/%s", p.TypeName, p.OwnerID)
}
