package membership

import "fmt"

// Mode selects how membership stores persist their state
type Mode string

const (
	// ModeEventSourced appends one event per change and snapshots periodically
	ModeEventSourced Mode = "eventsourced"
	// ModeDurableState appends the full state per change and drops older records
	ModeDurableState Mode = "durable-state"
)

// ParseMode converts a string to a Mode
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeEventSourced, ModeDurableState:
		return m, nil
	default:
		return "", fmt.Errorf("invalid remember entities mode %q (expected one of: eventsourced, durable-state)", s)
	}
}
