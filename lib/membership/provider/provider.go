package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/membership/mstore"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("membership")

// StoreProvider creates the membership stores of one sharded type
type StoreProvider interface {
	// ShardStore returns a fresh, started store for the entities of shardID
	ShardStore(shardID membership.ShardID) *mstore.Store
	// CoordinatorStore returns a fresh, started store for the allocated shards
	CoordinatorStore() *mstore.Store
}

// Config selects and tunes the stores of a sharded type
type Config struct {
	TypeName        string
	Mode            membership.Mode
	Journal         journal.Journal
	SnapshotAfter   uint64
	KeepNrOfBatches uint64
	JournalTimeout  time.Duration
	// Faults is only set by tests, nil means stores never fail on purpose
	Faults membership.FaultPolicy
}

// Provider is the StoreProvider of a deployment
type Provider struct {
	typeName string
	settings mstore.Settings
}

// New validates cfg and creates a provider. It is called once per sharded type.
func New(cfg Config) (*Provider, error) {
	if err := membership.ValidateTypeName(cfg.TypeName); err != nil {
		return nil, err
	}
	if cfg.Journal == nil {
		return nil, errors.New("journal must not be nil")
	}
	if _, err := membership.ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Mode == membership.ModeEventSourced && cfg.SnapshotAfter == 0 {
		return nil, fmt.Errorf("snapshot-after must be positive in %s mode", cfg.Mode)
	}

	faults := cfg.Faults
	if faults == nil {
		faults = membership.NoFaults{}
	}

	log.Infof("remember entities store for %s: mode=%s snapshot-after=%d keep=%d",
		cfg.TypeName, cfg.Mode, cfg.SnapshotAfter, cfg.KeepNrOfBatches)

	return &Provider{
		typeName: cfg.TypeName,
		settings: mstore.Settings{
			Journal:         cfg.Journal,
			Mode:            cfg.Mode,
			SnapshotAfter:   cfg.SnapshotAfter,
			KeepNrOfBatches: cfg.KeepNrOfBatches,
			JournalTimeout:  cfg.JournalTimeout,
			Faults:          faults,
		},
	}, nil
}

func (p *Provider) ShardStore(shardID membership.ShardID) *mstore.Store {
	return mstore.New(membership.ShardPersistenceID(p.typeName, shardID), p.settings)
}

func (p *Provider) CoordinatorStore() *mstore.Store {
	return mstore.New(membership.CoordinatorPersistenceID(p.typeName), p.settings)
}

// TypeName returns the sharded type the provider creates stores for
func (p *Provider) TypeName() string {
	return p.typeName
}
