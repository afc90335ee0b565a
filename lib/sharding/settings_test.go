package sharding

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second}

	tests := []struct {
		attempt uint
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(int(tt.attempt)), func(t *testing.T) {
			assert.Equal(t, tt.want, b.Delay(tt.attempt))
		})
	}
}

func TestBackoffJitter(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, RandomFactor: 0.5}
	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, b.Delay(10), time.Second)
	}
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.NumberOfShards = 0
	s.ShardFailureBackoff = Backoff{Min: time.Second, Max: time.Millisecond}
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "number of shards")
	assert.Contains(t, err.Error(), "shard failure backoff")
}

func TestHashExtractor(t *testing.T) {
	extract := HashExtractor(10)
	for i := 0; i < 100; i++ {
		id := strconv.Itoa(i)
		shard, err := strconv.Atoi(extract(id))
		require.NoError(t, err)
		assert.True(t, shard >= 0 && shard < 10)
		assert.Equal(t, extract(id), extract(id))
	}
}

func TestSuperviseRestartsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs []uint64
	fourth := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		supervise(ctx, "test", Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond}, func(ctx context.Context, n uint64) error {
			runs = append(runs, n)
			if n < 4 {
				return ErrUpdateTimeout
			}
			close(fourth)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-fourth:
	case <-time.After(2 * time.Second):
		t.Fatal("fourth incarnation did not start")
	}
	assert.Equal(t, uint64(3), ownerRestarts("test", reasonTimeout).Get())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise did not return after cancel")
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, runs)
}

func TestRestartReason(t *testing.T) {
	assert.Equal(t, reasonTimeout, restartReason(ErrUpdateTimeout))
	assert.Equal(t, reasonStop, restartReason(errors.Join(errors.New("x"), ErrStoreStopped)))
	assert.Equal(t, reasonOther, restartReason(errors.New("x")))
}
