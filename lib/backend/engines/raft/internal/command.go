package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible write operations of the state machine.
type CommandType uint8

const (
	CommandTPut         CommandType = iota // Insert or overwrite an entry.
	CommandTPutIfAbsent                    // Insert an entry if no live entry exists.
	CommandTDelete                         // Delete an entry.
	CommandTDrop                           // Delete every entry of a namespace.
	CommandTNextID                         // Advance the sequence of a namespace.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTPut:
		return "Put"
	case CommandTPutIfAbsent:
		return "PutIfAbsent"
	case CommandTDelete:
		return "Delete"
	case CommandTDrop:
		return "Drop"
	case CommandTNextID:
		return "NextID"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ResultCode is carried in sm.Result.Value
type ResultCode uint64

const (
	ResultOK         ResultCode = iota // The command was applied.
	ResultNotCreated                   // PutIfAbsent found a live entry.
	ResultInvalid                      // The command could not be decoded or is unknown.
)

// headerSize is Type + At + TTL + NamespaceLen + KeyLen
const headerSize = 1 + 8 + 8 + 2 + 4

// Command represents a command to be executed by the state machine (a single
// entry in the raft log). At is the proposer's wall clock in unix ms, so every
// replica computes the same expiry deadline.
type Command struct {
	Type      CommandType
	At        uint64
	TTL       uint64 // ms, 0 = never expires
	Namespace string
	Key       string
	Value     []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Namespace) + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the proposer timestamp,
// 8 bytes for the ttl,
// 2 bytes for namespace length,
// 4 bytes for key length (all big endian),
// N bytes namespace, K bytes key,
// the remaining bytes are the value
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], command.At)
	binary.BigEndian.PutUint64(result[9:17], command.TTL)
	binary.BigEndian.PutUint16(result[17:19], uint16(len(command.Namespace)))
	binary.BigEndian.PutUint32(result[19:23], uint32(len(command.Key)))

	off := headerSize
	off += copy(result[off:], command.Namespace)
	off += copy(result[off:], command.Key)
	copy(result[off:], command.Value)

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.At = binary.BigEndian.Uint64(data[1:9])
	command.TTL = binary.BigEndian.Uint64(data[9:17])
	nsLen := int(binary.BigEndian.Uint16(data[17:19]))
	keyLen := int(binary.BigEndian.Uint32(data[19:23]))

	if len(data) < headerSize+nsLen+keyLen {
		return fmt.Errorf("data too short for namespace of length %d and key of length %d", nsLen, keyLen)
	}

	off := headerSize
	command.Namespace = string(data[off : off+nsLen])
	off += nsLen
	command.Key = string(data[off : off+keyLen])
	off += keyLen

	valueLen := len(data) - off
	if valueLen == 0 {
		command.Value = nil
		return nil
	}
	// Reuse existing buffer if possible to reduce allocations
	if cap(command.Value) < valueLen {
		command.Value = make([]byte, valueLen)
	} else {
		command.Value = command.Value[:valueLen]
	}
	copy(command.Value, data[off:])
	return nil
}
