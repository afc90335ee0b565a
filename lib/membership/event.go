package membership

import "fmt"

// EventKind tags the variants of Event
type EventKind uint8

const (
	KindStarted  EventKind = iota + 1 // an entity or shard was started
	KindStopped                       // an entity was stopped gracefully
	KindReplaced                      // the whole state was replaced (durable-state mode)
)

func (k EventKind) String() string {
	switch k {
	case KindStarted:
		return "Started"
	case KindStopped:
		return "Stopped"
	case KindReplaced:
		return "Replaced"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Event is one membership change. It is immutable once appended.
// ID is set for Started and Stopped, State only for Replaced.
type Event struct {
	Kind  EventKind
	ID    string
	State State
}

// Started creates a Started event
func Started(id string) Event {
	return Event{Kind: KindStarted, ID: id}
}

// Stopped creates a Stopped event
func Stopped(id string) Event {
	return Event{Kind: KindStopped, ID: id}
}

// Replaced creates a Replaced event holding a copy of state
func Replaced(state State) Event {
	return Event{Kind: KindReplaced, State: state.Clone()}
}

func (e Event) String() string {
	if e.Kind == KindReplaced {
		return fmt.Sprintf("Replaced(%d ids)", len(e.State))
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.ID)
}

// Apply folds e into state and returns the result. It is the only place that
// interprets events: commits and recovery both go through it, so the state
// after a commit always equals the state after replaying the same events.
//
// state may be modified in place, callers that need the old state must Clone it first.
func Apply(state State, e Event) State {
	if state == nil {
		state = State{}
	}
	switch e.Kind {
	case KindStarted:
		state[e.ID] = struct{}{}
	case KindStopped:
		delete(state, e.ID)
	case KindReplaced:
		return e.State.Clone()
	}
	return state
}

// ApplyAll folds the events in order
func ApplyAll(state State, events ...Event) State {
	for _, e := range events {
		state = Apply(state, e)
	}
	return state
}
