package sharding

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Backoff is an exponential delay between restarts: Min doubled per failure,
// capped at Max, plus up to RandomFactor*delay of jitter (still capped at Max).
type Backoff struct {
	Min          time.Duration
	Max          time.Duration
	RandomFactor float64
}

// Delay returns the delay before restart number attempt (starting at 1)
func (b Backoff) Delay(attempt uint) time.Duration {
	if attempt == 0 {
		attempt = 1
	}
	d := b.Min
	for i := uint(1); i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.RandomFactor > 0 {
		d += time.Duration(rand.Float64() * b.RandomFactor * float64(d))
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

func (b Backoff) validate(name string) error {
	if b.Min <= 0 || b.Max < b.Min {
		return fmt.Errorf("%s: invalid backoff %s .. %s", name, b.Min, b.Max)
	}
	if b.RandomFactor < 0 {
		return fmt.Errorf("%s: random factor must not be negative", name)
	}
	return nil
}

// Settings tune the sharding of one entity type
type Settings struct {
	NumberOfShards       uint64
	RetryInterval        time.Duration // region: resend unanswered shard home requests
	BufferSize           int           // region: max messages buffered while shard homes are unknown
	UpdatingStateTimeout time.Duration // max wait for a membership store reply

	EntityRestartBackoff      Backoff
	ShardFailureBackoff       Backoff
	CoordinatorFailureBackoff Backoff
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		NumberOfShards:            100,
		RetryInterval:             2 * time.Second,
		BufferSize:                100_000,
		UpdatingStateTimeout:      5 * time.Second,
		EntityRestartBackoff:      Backoff{Min: 10 * time.Second, Max: 10 * time.Second, RandomFactor: 0.2},
		ShardFailureBackoff:       Backoff{Min: 3 * time.Second, Max: 30 * time.Second, RandomFactor: 0.2},
		CoordinatorFailureBackoff: Backoff{Min: 5 * time.Second, Max: 30 * time.Second, RandomFactor: 0.2},
	}
}

// Validate checks the settings for values that would stall the region
func (s Settings) Validate() error {
	var errs []error
	if s.NumberOfShards == 0 {
		errs = append(errs, errors.New("number of shards must be positive"))
	}
	if s.RetryInterval <= 0 {
		errs = append(errs, errors.New("retry interval must be positive"))
	}
	if s.BufferSize <= 0 {
		errs = append(errs, errors.New("buffer size must be positive"))
	}
	if s.UpdatingStateTimeout <= 0 {
		errs = append(errs, errors.New("updating state timeout must be positive"))
	}
	errs = append(errs,
		s.EntityRestartBackoff.validate("entity restart backoff"),
		s.ShardFailureBackoff.validate("shard failure backoff"),
		s.CoordinatorFailureBackoff.validate("coordinator failure backoff"),
	)
	return errors.Join(errs...)
}
