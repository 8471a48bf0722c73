package backend

import (
	"context"
	"errors"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// Implementation names a backend engine
type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplBadger Implementation = "badger"
	ImplBolt   Implementation = "bolt"
	ImplS3     Implementation = "s3"
	ImplRaft   Implementation = "raft"
)

// Feature represents backend capabilities as bit flags
type Feature uint64

const (
	FeatureNativeTTL      Feature = 1 << iota // Entries written with a ttl disappear on their own
	FeatureAtomicCreate                       // PutIfAbsent is a single atomic operation
	FeatureBulkDrop                           // DropNamespace is supported
	FeatureRawValues                          // Values may contain arbitrary bytes
	FeatureRestrictedKeys                     // Keys must not contain '/' or '+'
)

func (f Feature) String() string {
	switch f {
	case FeatureNativeTTL:
		return "NativeTTL"
	case FeatureAtomicCreate:
		return "AtomicCreate"
	case FeatureBulkDrop:
		return "BulkDrop"
	case FeatureRawValues:
		return "RawValues"
	case FeatureRestrictedKeys:
		return "RestrictedKeys"
	}

	// combined flags
	var names []string
	for bit := FeatureNativeTTL; bit <= FeatureRestrictedKeys; bit <<= 1 {
		if f&bit != 0 {
			names = append(names, bit.String())
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

// Consistency describes the read-after-write guarantee of a backend
type Consistency uint8

const (
	ConsistencyStrong   Consistency = iota // A read always observes the latest acknowledged write
	ConsistencyEventual                    // A read may observe an older state for a while
)

func (c Consistency) String() string {
	switch c {
	case ConsistencyStrong:
		return "strong"
	case ConsistencyEventual:
		return "eventual"
	default:
		return "unknown"
	}
}

// Capabilities describes what a backend can do natively. Everything a backend
// lacks is emulated by the layers above it.
type Capabilities struct {
	Features Feature
	// BoundedIDSpace is the number of store ids the backend can hold at once.
	// Zero means unbounded.
	BoundedIDSpace uint64
	Consistency    Consistency
}

// Has reports whether all given features are supported.
// Multiple features can be checked at once using bitwise OR (|).
func (c Capabilities) Has(f Feature) bool {
	return c.Features&f == f
}

// Info describes a backend instance
type Info struct {
	Product  Implementation `json:"product"`
	Version  string         `json:"version,omitempty"`
	Location string         `json:"location,omitempty"`
	Metadata any            `json:"metadata,omitempty"`
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrUnsupported is returned by optional operations a backend does not implement
	ErrUnsupported = errors.New("operation not supported by backend")
	// ErrClosed is returned after Close has been called
	ErrClosed = errors.New("backend closed")
	// ErrInvalidNamespace is returned for empty or malformed namespace names
	ErrInvalidNamespace = errors.New("invalid namespace")
)

// ValidNamespace checks the rules every engine enforces for namespace names:
// non-empty and free of '/' and NUL.
func ValidNamespace(ns string) error {
	if ns == "" || strings.ContainsAny(ns, "/\x00") {
		return ErrInvalidNamespace
	}
	return nil
}

// --------------------------------------------------------------------------
// Backend Interface
// --------------------------------------------------------------------------

// Backend is the minimal capability set the store and lock layers need from a
// storage product. Keys are text tokens (already encoded by the caller), values
// are owned byte slices. A ttl of zero means the entry never expires.
//
// Implementations must return copies from Get so callers may modify the result.
type Backend interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// PutIfAbsent writes the entry only if the key does not exist and reports
	// whether it did. Backends without FeatureAtomicCreate implement this as a
	// read followed by a write, callers must confirm with a Get.
	PutIfAbsent(ctx context.Context, ns, key string, value []byte, ttl time.Duration) (created bool, err error)

	// Put inserts or overwrites an entry.
	Put(ctx context.Context, ns, key string, value []byte, ttl time.Duration) (err error)

	// Delete removes an entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, ns, key string) (err error)

	// DropNamespace removes every entry of a namespace. Returns ErrUnsupported
	// if the backend lacks FeatureBulkDrop.
	DropNamespace(ctx context.Context, ns string) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the value of a key and whether it was found.
	Get(ctx context.Context, ns, key string) (value []byte, found bool, err error)

	// ScanKeys returns every key of a namespace in unspecified order.
	ScanKeys(ctx context.Context, ns string) (keys []string, err error)

	// CountEntries returns the number of entries in a namespace.
	CountEntries(ctx context.Context, ns string) (n int, err error)

	// --------------------------------------------------------------------------
	// Introspection
	// --------------------------------------------------------------------------

	// Capabilities describes what the backend supports natively.
	Capabilities() Capabilities

	// Info describes the backend instance.
	Info() Info

	// Close releases all resources.
	Close() (err error)
}

// Sequencer is implemented by backends that can hand out unique increasing
// ids per namespace.
type Sequencer interface {
	NextID(ctx context.Context, ns string) (uint64, error)
}

// NamespaceTTL is implemented by backends whose expiry is configured per
// namespace rather than per key.
type NamespaceTTL interface {
	SetNamespaceTTL(ctx context.Context, ns string, ttl time.Duration) error
	NamespaceTTL(ctx context.Context, ns string) (time.Duration, error)
}

// Reconnector is implemented by backends that talk to a remote process and
// can dial it again, e.g. after the server restarted.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Factory creates a fresh backend, used by tests and the raft state machine.
type Factory func() (Backend, error)
