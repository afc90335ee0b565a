package membership

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// Op is a store operation a fault can be attached to
type Op uint8

const (
	OpGet    Op = iota + 1 // GetEntities / GetShards
	OpAdd                  // AddEntity / AddShard
	OpRemove               // RemoveEntity
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(o))
	}
}

// Fault is an injected store failure
type Fault uint8

const (
	FaultNone       Fault = iota // behave normally
	FaultNoResponse              // accept the command, never write, never reply
	FaultCrashStore              // terminate the store with an error
	FaultStopStore               // terminate the store without an error
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "None"
	case FaultNoResponse:
		return "NoResponse"
	case FaultCrashStore:
		return "CrashStore"
	case FaultStopStore:
		return "StopStore"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(f))
	}
}

// FaultPolicy decides whether a store operation fails.
// For OpGet the id is the owner id (shard id, empty for the coordinator),
// otherwise it is the id of the command.
type FaultPolicy interface {
	Fault(role Role, op Op, id string) Fault
}

type faultKey struct {
	role Role
	op   Op
	id   string
}

// FaultTable is a FaultPolicy whose faults can be set and cleared while stores are running.
// The zero value is not usable, use NewFaultTable.
type FaultTable struct {
	faults *xsync.MapOf[faultKey, Fault]
}

// NewFaultTable creates an empty fault table
func NewFaultTable() *FaultTable {
	return &FaultTable{faults: xsync.NewMapOf[faultKey, Fault]()}
}

// Fault implements FaultPolicy
func (t *FaultTable) Fault(role Role, op Op, id string) Fault {
	if f, ok := t.faults.Load(faultKey{role, op, id}); ok {
		return f
	}
	return FaultNone
}

// Set installs a fault, replacing any previous one for the same operation
func (t *FaultTable) Set(role Role, op Op, id string, fault Fault) {
	if fault == FaultNone {
		t.Clear(role, op, id)
		return
	}
	t.faults.Store(faultKey{role, op, id}, fault)
}

// Clear removes the fault of one operation
func (t *FaultTable) Clear(role Role, op Op, id string) {
	t.faults.Delete(faultKey{role, op, id})
}

// ClearAll removes every fault
func (t *FaultTable) ClearAll() {
	t.faults.Clear()
}

// FailGetEntities makes GetEntities of the given shard fail
func (t *FaultTable) FailGetEntities(shardID ShardID, fault Fault) {
	t.Set(RoleShard, OpGet, shardID, fault)
}

// FailAddEntity makes AddEntity of the given entity fail
func (t *FaultTable) FailAddEntity(entityID EntityID, fault Fault) {
	t.Set(RoleShard, OpAdd, entityID, fault)
}

// FailRemoveEntity makes RemoveEntity of the given entity fail
func (t *FaultTable) FailRemoveEntity(entityID EntityID, fault Fault) {
	t.Set(RoleShard, OpRemove, entityID, fault)
}

// FailGetShards makes GetShards of the coordinator fail
func (t *FaultTable) FailGetShards(fault Fault) {
	t.Set(RoleCoordinator, OpGet, "", fault)
}

// FailAddShard makes AddShard of the given shard fail
func (t *FaultTable) FailAddShard(shardID ShardID, fault Fault) {
	t.Set(RoleCoordinator, OpAdd, shardID, fault)
}

// NoFaults is a FaultPolicy that never fails
type NoFaults struct{}

// Fault implements FaultPolicy
func (NoFaults) Fault(Role, Op, string) Fault { return FaultNone }
