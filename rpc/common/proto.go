package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Namespace string `json:"ns,omitempty"`    // Used for: every backend operation except Info
	Key       string `json:"key,omitempty"`   // Used for: Put, PutIfAbsent, Delete, Get
	TTL       uint64 `json:"ttl,omitempty"`   // Used for: Put, PutIfAbsent (ms, 0 = never expires)
	Value     []byte `json:"value,omitempty"` // Used for: Put, PutIfAbsent (request), Get (response)

	// Response only fields
	Keys   []string `json:"keys,omitempty"`   // Used for: Scan responses
	Number uint64   `json:"number,omitempty"` // Used for: Count, NextID responses
	Ok     bool     `json:"ok,omitempty"`     // Used for: Get, PutIfAbsent responses
	Err    string   `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message
	Code   ErrCode  `json:"code,omitempty"`   // Classifies Err so clients can restore sentinel errors

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info responses (json encoded RemoteInfo)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPutRequest creates a new Put request
func NewPutRequest(ns, key string, value []byte, ttl time.Duration) *Message {
	return &Message{
		MsgType:   MsgTPut,
		Namespace: ns,
		Key:       key,
		Value:     value,
		TTL:       TTLMillis(ttl),
	}
}

// NewPutIfAbsentRequest creates a new PutIfAbsent request
func NewPutIfAbsentRequest(ns, key string, value []byte, ttl time.Duration) *Message {
	return &Message{
		MsgType:   MsgTPutIfAbsent,
		Namespace: ns,
		Key:       key,
		Value:     value,
		TTL:       TTLMillis(ttl),
	}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(ns, key string) *Message {
	return &Message{
		MsgType:   MsgTDelete,
		Namespace: ns,
		Key:       key,
	}
}

// NewDropRequest creates a new DropNamespace request
func NewDropRequest(ns string) *Message {
	return &Message{
		MsgType:   MsgTDrop,
		Namespace: ns,
	}
}

// NewGetRequest creates a new Get request
func NewGetRequest(ns, key string) *Message {
	return &Message{
		MsgType:   MsgTGet,
		Namespace: ns,
		Key:       key,
	}
}

// NewScanRequest creates a new ScanKeys request
func NewScanRequest(ns string) *Message {
	return &Message{
		MsgType:   MsgTScan,
		Namespace: ns,
	}
}

// NewCountRequest creates a new CountEntries request
func NewCountRequest(ns string) *Message {
	return &Message{
		MsgType:   MsgTCount,
		Namespace: ns,
	}
}

// NewNextIDRequest creates a new NextID request
func NewNextIDRequest(ns string) *Message {
	return &Message{
		MsgType:   MsgTNextID,
		Namespace: ns,
	}
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTInfo}
}

// NewResponse creates a response of type t. A non nil err is carried as
// message and code.
func NewResponse(t MessageType, err error) *Message {
	msg := &Message{MsgType: t}
	if err != nil {
		msg.Err = err.Error()
		msg.Code = CodeOf(err)
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code ErrCode, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		Code:    code,
	}
}

// TTLMillis converts ttl to the wire format, rounding sub-millisecond ttls up
// so they still expire
func TTLMillis(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	if ms := uint64(ttl / time.Millisecond); ms > 0 {
		return ms
	}
	return 1
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTPut:
		return "put"
	case MsgTPutIfAbsent:
		return "putIfAbsent"
	case MsgTDelete:
		return "delete"
	case MsgTDrop:
		return "drop"
	case MsgTGet:
		return "get"
	case MsgTScan:
		return "scan"
	case MsgTCount:
		return "count"
	case MsgTNextID:
		return "nextID"
	case MsgTInfo:
		return "info"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for candidate := MsgTUnknown; candidate <= MsgTInfo; candidate++ {
		if candidate.String() == s {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Write operations

	MsgTPut         // Insert or overwrite an entry
	MsgTPutIfAbsent // Insert an entry if the key does not exist
	MsgTDelete      // Delete an entry
	MsgTDrop        // Delete every entry of a namespace

	// Query operations

	MsgTGet    // Get a value by key
	MsgTScan   // List the keys of a namespace
	MsgTCount  // Count the entries of a namespace
	MsgTNextID // Advance the sequence of a namespace

	// Introspection

	MsgTInfo // Capabilities and info of the served backend
)
