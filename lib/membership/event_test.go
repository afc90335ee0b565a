package membership

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomEvents produces a reproducible sequence of Started/Stopped events over a small id space
func randomEvents(r *rand.Rand, n int) []Event {
	events := make([]Event, n)
	for i := range events {
		id := fmt.Sprintf("%d", r.Intn(8))
		if r.Intn(3) == 0 {
			events[i] = Stopped(id)
		} else {
			events[i] = Started(id)
		}
	}
	return events
}

func TestApply(t *testing.T) {
	s := ApplyAll(nil, Started("a"), Started("b"), Started("a"), Stopped("b"), Stopped("c"))
	assert.True(t, s.Equal(NewState("a")), "got %v", s.Sorted())

	s = Apply(s, Replaced(NewState("x", "y")))
	assert.Equal(t, []string{"x", "y"}, s.Sorted())
}

func TestApplyReplacedDoesNotAlias(t *testing.T) {
	src := NewState("a")
	e := Replaced(src)
	src["b"] = struct{}{}

	s := Apply(nil, e)
	s["c"] = struct{}{}

	assert.Equal(t, []string{"a"}, e.State.Sorted())
}

func TestReplayIsIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		events := randomEvents(r, r.Intn(30))
		once := ApplyAll(nil, events...)

		// replaying the same log twice, e.g. after a retried recovery
		twice := ApplyAll(ApplyAll(nil, events...), events...)
		require.True(t, once.Equal(twice), "run %d: %v != %v", i, once.Sorted(), twice.Sorted())

		// duplicated Started records from retried writes
		var dup []Event
		for _, e := range events {
			dup = append(dup, e)
			if e.Kind == KindStarted {
				dup = append(dup, e)
			}
		}
		require.True(t, once.Equal(ApplyAll(nil, dup...)), "run %d: duplicated starts changed the state", i)
	}
}

func TestReplayFromSnapshot(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		events := randomEvents(r, 1+r.Intn(30))
		cursor := r.Intn(len(events) + 1)

		full := ApplyAll(nil, events...)

		snap, err := DecodeState(EncodeState(ApplyAll(nil, events[:cursor]...)))
		require.NoError(t, err)
		recovered := ApplyAll(snap, events[cursor:]...)

		require.True(t, full.Equal(recovered), "run %d cursor %d: %v != %v", i, cursor, full.Sorted(), recovered.Sorted())
	}
}

func TestOrderMatters(t *testing.T) {
	// the log must be replayed in acceptance order, a reordered log differs
	assert.True(t, ApplyAll(nil, Started("a"), Stopped("a")).Equal(NewState()))
	assert.True(t, ApplyAll(nil, Stopped("a"), Started("a")).Equal(NewState("a")))
}
