package membership

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Binary format
// --------------------------------------------------------------------------
//
// Event:
//	1 byte  kind
//	Started/Stopped: the id bytes (rest of the record)
//	Replaced: an encoded State
//
// State:
//	uvarint count, then per id: uvarint length + id bytes (lexical order)

var errTruncated = errors.New("truncated record")

// EncodeEvent serializes an event into its journal payload
func EncodeEvent(e Event) []byte {
	if e.Kind == KindReplaced {
		return append([]byte{byte(e.Kind)}, EncodeState(e.State)...)
	}
	buf := make([]byte, 1+len(e.ID))
	buf[0] = byte(e.Kind)
	copy(buf[1:], e.ID)
	return buf
}

// DecodeEvent parses a journal payload produced by EncodeEvent
func DecodeEvent(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, fmt.Errorf("empty event: %w", errTruncated)
	}
	kind := EventKind(data[0])
	switch kind {
	case KindStarted, KindStopped:
		return Event{Kind: kind, ID: string(data[1:])}, nil
	case KindReplaced:
		state, err := DecodeState(data[1:])
		if err != nil {
			return Event{}, fmt.Errorf("invalid replaced event: %w", err)
		}
		return Event{Kind: kind, State: state}, nil
	default:
		return Event{}, fmt.Errorf("unknown event kind %d", data[0])
	}
}

// EncodeState serializes a state, used for snapshots and Replaced events.
// The output is deterministic.
func EncodeState(s State) []byte {
	ids := s.Sorted()
	size := binary.MaxVarintLen64
	for _, id := range ids {
		size += binary.MaxVarintLen64 + len(id)
	}
	buf := make([]byte, 0, size)
	buf = binary.AppendUvarint(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = binary.AppendUvarint(buf, uint64(len(id)))
		buf = append(buf, id...)
	}
	return buf
}

// DecodeState parses a state produced by EncodeState
func DecodeState(data []byte) (State, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("invalid member count: %w", errTruncated)
	}
	data = data[n:]

	// every id takes at least one byte, a larger count is corrupt
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("member count %d exceeds record size: %w", count, errTruncated)
	}

	s := make(State, count)
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) < l {
			return nil, fmt.Errorf("member %d: %w", i, errTruncated)
		}
		s[string(data[n:n+int(l)])] = struct{}{}
		data = data[n+int(l):]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after state", len(data))
	}
	return s, nil
}
