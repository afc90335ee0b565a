package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible write operations of the journal state machine.
type CommandType uint8

const (
	CommandTAppend          CommandType = iota // Append an event to a stream.
	CommandTSaveSnapshot                       // Store (or replace) a snapshot.
	CommandTDeleteEvents                       // Delete all events up to Seq.
	CommandTDeleteSnapshots                    // Delete all snapshots up to Seq.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTAppend:
		return "Append"
	case CommandTSaveSnapshot:
		return "SaveSnapshot"
	case CommandTDeleteEvents:
		return "DeleteEvents"
	case CommandTDeleteSnapshots:
		return "DeleteSnapshots"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

const headerSize = 1 + 8 + 4 // Type + Seq + PIDLen

// Command is a single entry in the raft log
type Command struct {
	Type    CommandType
	Seq     uint64
	PID     string
	Payload []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.PID) + len(command.Payload)
}

// Serialize encodes the command, see the package documentation for the format
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], command.Seq)
	binary.BigEndian.PutUint32(result[9:13], uint32(len(command.PID)))
	n := copy(result[headerSize:], command.PID)
	copy(result[headerSize+n:], command.Payload)

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Seq = binary.BigEndian.Uint64(data[1:9])
	pidLen := int(binary.BigEndian.Uint32(data[9:13]))

	if len(data) < headerSize+pidLen {
		return fmt.Errorf("data too short for persistence id of length %d", pidLen)
	}
	command.PID = string(data[headerSize : headerSize+pidLen])

	// the raft log owns data, keep a private copy of the payload
	if rest := data[headerSize+pidLen:]; len(rest) > 0 {
		command.Payload = make([]byte, len(rest))
		copy(command.Payload, rest)
	} else {
		command.Payload = nil
	}

	return nil
}
