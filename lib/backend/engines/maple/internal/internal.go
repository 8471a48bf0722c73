package internal

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dps/lib/backend/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Event Types are used to tell a shard's collector about ttl changes
// --------------------------------------------------------------------------

type EventType int

const (
	EventTSchedule EventType = iota // entry was written with a deadline
	EventTCancel                    // entry was deleted or overwritten without a deadline
)

func (e EventType) String() string {
	switch e {
	case EventTSchedule:
		return "Schedule"
	case EventTCancel:
		return "Cancel"
	default:
		return "Unknown"
	}
}

type Event struct {
	Type     EventType
	Key      util.UintKey
	DeleteAt uint64
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Key: %d, DeleteAt: %d}", e.Type, e.Key, e.DeleteAt)
}

// --------------------------------------------------------------------------
// Entry Type (namespaced key-value pair with metadata)
// --------------------------------------------------------------------------

// Entry stores a namespaced key-value pair. The namespace and key are kept so
// that namespaces can be scanned, the map itself is addressed by their hash.
type Entry struct {
	Namespace string
	Key       string
	Value     []byte
	DeleteAt  uint64 // unix ms after which the entry is gone (0 = never)
	Index     uint64 // write index (unix ms) of the last write
}

// Expired reports whether the entry is logically gone at time now (unix ms)
func (e Entry) Expired(now uint64) bool {
	return e.DeleteAt != 0 && now >= e.DeleteAt
}

// Is reports whether the entry belongs to ns/key. A mismatch means a hash
// collision and the entry must be treated as absent for that key.
func (e Entry) Is(ns, key string) bool {
	return e.Namespace == ns && e.Key == key
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// eventQueueSize bounds the per shard event queue. When it is full, the
// collector falls back to sweeping the whole shard.
const eventQueueSize = 1 << 12

// Shard represents a partition of the database
type Shard struct {
	Data      *xsync.MapOf[util.UintKey, Entry]
	Deadlines *util.DeadlineHeap // owned by the shard's collector goroutine
	Events    *xsync.MPMCQueueOf[Event]
	Overflow  atomic.Bool // set when an event was dropped, forces a full sweep
}

// NewShard creates a new shard with the provided hash function
func NewShard(hasher func(util.UintKey, uint64) uint64) *Shard {
	return &Shard{
		Data:      xsync.NewMapOfWithHasher[util.UintKey, Entry](hasher),
		Deadlines: util.NewDeadlineHeap(),
		Events:    xsync.NewMPMCQueueOf[Event](eventQueueSize),
	}
}

// Notify hands an event to the shard's collector without blocking
func (s *Shard) Notify(e Event) {
	if !s.Events.TryEnqueue(e) {
		s.Overflow.Store(true)
	}
}

// GetShard returns the appropriate shard for a given key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(key) >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
