package sharding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMem/lib/membership/mstore"
	"github.com/avast/retry-go/v4"
)

var (
	// ErrUpdateTimeout ends an incarnation whose store did not answer within the updating state timeout
	ErrUpdateTimeout = errors.New("membership store did not respond in time")
	// ErrStoreStopped ends an incarnation whose store terminated without an error
	ErrStoreStopped = errors.New("membership store stopped")
)

// storeTerminated converts the termination of a store into the error that ends the incarnation
func storeTerminated(st *mstore.Store) error {
	if err := st.Err(); err != nil {
		return fmt.Errorf("membership store %s crashed: %w", st.PersistenceID(), err)
	}
	return fmt.Errorf("%w: %s", ErrStoreStopped, st.PersistenceID())
}

func restartReason(err error) string {
	switch {
	case errors.Is(err, ErrUpdateTimeout):
		return reasonTimeout
	case errors.Is(err, ErrStoreStopped):
		return reasonStop
	case errors.Is(err, mstore.ErrInjectedCrash):
		return reasonCrash
	default:
		return reasonOther
	}
}

// incarnation runs one life of an owner. It returns when the owner must
// restart (non nil error) or when ctx is cancelled (nil).
type incarnation func(ctx context.Context, n uint64) error

// supervise runs incarnations of an owner until ctx is cancelled.
//
// Restarts are unlimited. The delay grows with every consecutive failure and is
// reset after an incarnation that stayed up longer than the backoff ceiling.
func supervise(ctx context.Context, owner string, b Backoff, run incarnation) {
	var n uint64
	var failures uint

	_ = retry.Do(
		func() error {
			n++
			start := time.Now()
			err := run(ctx, n)
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			if err == nil {
				err = errors.New("incarnation returned without error")
			}
			if time.Since(start) > b.Max {
				failures = 0
			}
			failures++
			return err
		},
		retry.Context(ctx),
		retry.UntilSucceeded(),
		retry.LastErrorOnly(true),
		retry.MaxDelay(b.Max),
		retry.DelayType(func(_ uint, _ error, _ *retry.Config) time.Duration {
			return b.Delay(failures)
		}),
		retry.OnRetry(func(_ uint, err error) {
			reason := restartReason(err)
			ownerRestarts(owner, reason).Inc()
			log.Warningf("%s incarnation %d failed (%s), restarting after backoff: %v", owner, n, reason, err)
		}),
	)
}
