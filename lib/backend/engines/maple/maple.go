package maple

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/maple/internal"
	"github.com/ValentinKolb/dps/lib/backend/util"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("maple")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum          = "MAPLEDB\x00"          // File format identifier
	mapleVersion      = 4                      // Snapshot format version
	defaultGCInterval = 100 * time.Millisecond // Default interval between GC runs
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// MapleDB is a sharded in-memory backend with native per-key TTL and atomic
// create. Entries are addressed by the hash of namespace and key.
type MapleDB struct {
	numShards int
	seed      uint64
	shards    []*internal.Shard
	clock     clock.Clock
	idSpace   uint64

	// highest write index (unix ms) seen, used as a lower bound for "now" so
	// replicas applying proposer timestamps agree on expiry
	currIndex atomic.Uint64

	gcInterval time.Duration
	gcStop     chan struct{}
	gcDone     sync.WaitGroup
	closed     atomic.Bool
}

// DBOptions configures the MapleDB behavior during initialization
type DBOptions struct {
	NumShards  int           // Number of shards (0 = runtime.NumCPU)
	GCInterval time.Duration // Time between GC runs (0 = default)
	IDSpace    uint64        // Bounded store id space to advertise (0 = unbounded)
	Clock      clock.Clock   // Time source (nil = clock.Real)
}

// DefaultOptions returns the default MapleDB options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
		Clock:      clock.Real{},
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) *MapleDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}
	gcInterval := opts.GCInterval
	if gcInterval <= 0 {
		gcInterval = defaultGCInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	hasher := createIdentityHasher()
	shards := make([]*internal.Shard, numShards)
	for i := range shards {
		shards[i] = internal.NewShard(hasher)
	}

	newDB := &MapleDB{
		numShards:  numShards,
		seed:       util.GenerateSeed(),
		shards:     shards,
		clock:      clk,
		idSpace:    opts.IDSpace,
		gcInterval: gcInterval,
		gcStop:     make(chan struct{}),
	}

	newDB.startGC()
	return newDB
}

// --------------------------------------------------------------------------
// Hash Helper Functions
// --------------------------------------------------------------------------

// hashKey addresses an entry. The seed differs per instance, hashes are never
// persisted.
func (maple *MapleDB) hashKey(ns, key string) util.UintKey {
	return util.HashParts(maple.seed, ns, key)
}

// createIdentityHasher creates a hash function that combines a key with a seed
func createIdentityHasher() func(util.UintKey, uint64) uint64 {
	return func(key util.UintKey, mapSeed uint64) uint64 {
		return uint64(key) ^ mapSeed
	}
}

// now returns the current time in unix ms, never lower than the highest
// write index applied so far.
func (maple *MapleDB) now() uint64 {
	wall := uint64(maple.clock.Now().UnixMilli())
	if idx := maple.currIndex.Load(); idx > wall {
		return idx
	}
	return wall
}

func (maple *MapleDB) check(ctx context.Context, ns string) error {
	if maple.closed.Load() {
		return backend.ErrClosed
	}
	if err := backend.ValidNamespace(ns); err != nil {
		return err
	}
	return ctx.Err()
}

// --------------------------------------------------------------------------
// Backend Interface Methods - Write Operations
// --------------------------------------------------------------------------

// PutIfAbsent writes the entry only if no live entry exists for the key.
//
// Thread-safety: atomic per key.
func (maple *MapleDB) PutIfAbsent(ctx context.Context, ns, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := maple.check(ctx, ns); err != nil {
		return false, err
	}
	return maple.Apply(ns, key, value, maple.now(), ttlToMillis(ttl), true), nil
}

// Put inserts or overwrites an entry.
//
// Thread-safety: atomic per key.
func (maple *MapleDB) Put(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error {
	if err := maple.check(ctx, ns); err != nil {
		return err
	}
	maple.Apply(ns, key, value, maple.now(), ttlToMillis(ttl), false)
	return nil
}

// Delete removes an entry.
//
// Thread-safety: atomic per key.
func (maple *MapleDB) Delete(ctx context.Context, ns, key string) error {
	if err := maple.check(ctx, ns); err != nil {
		return err
	}
	maple.ApplyDelete(ns, key)
	return nil
}

// DropNamespace removes every entry of ns.
//
// Thread-safety: entries written to ns concurrently with the drop may survive it.
func (maple *MapleDB) DropNamespace(ctx context.Context, ns string) error {
	if err := maple.check(ctx, ns); err != nil {
		return err
	}
	maple.ApplyDrop(ns)
	return nil
}

// Apply writes an entry using an explicit write index (unix ms) and a
// relative deletion time in ms (0 = never). If onlyIfAbsent is set, a live
// entry is left untouched. It reports whether the entry was written.
//
// The replicated backend calls this with the proposer's timestamp so every
// replica computes the same deadline.
func (maple *MapleDB) Apply(ns, key string, value []byte, writeIdx, deleteIn uint64, onlyIfAbsent bool) bool {
	maple.SetWriteIdx(writeIdx)

	intKey := maple.hashKey(ns, key)
	shard := internal.GetShard(intKey, maple.shards)

	// Copy value to prevent memory corruption
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	var deleteAt uint64
	if deleteIn > 0 {
		deleteAt = writeIdx + deleteIn
	}

	written := false
	hadDeadline := false
	shard.Data.Compute(intKey, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		live := loaded && old.Is(ns, key) && !old.Expired(maple.now())
		if onlyIfAbsent && live {
			return old, false
		}
		hadDeadline = loaded && old.DeleteAt != 0
		written = true
		return internal.Entry{
			Namespace: ns,
			Key:       key,
			Value:     valueCopy,
			DeleteAt:  deleteAt,
			Index:     writeIdx,
		}, false
	})

	switch {
	case written && deleteAt != 0:
		shard.Notify(internal.Event{Type: internal.EventTSchedule, Key: intKey, DeleteAt: deleteAt})
	case written && hadDeadline:
		shard.Notify(internal.Event{Type: internal.EventTCancel, Key: intKey})
	}
	return written
}

// ApplyDelete removes an entry immediately
func (maple *MapleDB) ApplyDelete(ns, key string) {
	intKey := maple.hashKey(ns, key)
	shard := internal.GetShard(intKey, maple.shards)

	hadDeadline := false
	shard.Data.Compute(intKey, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded || !old.Is(ns, key) {
			// nothing to delete, keep a colliding entry untouched
			return old, !loaded
		}
		hadDeadline = old.DeleteAt != 0
		return old, true
	})
	if hadDeadline {
		shard.Notify(internal.Event{Type: internal.EventTCancel, Key: intKey})
	}
}

// ApplyDrop removes every entry of ns
func (maple *MapleDB) ApplyDrop(ns string) {
	for _, shard := range maple.shards {
		shard.Data.Range(func(key util.UintKey, entry internal.Entry) bool {
			if entry.Namespace == ns {
				shard.Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
					return e, !loaded || e.Namespace == ns
				})
			}
			return true
		})
	}
}

// --------------------------------------------------------------------------
// Backend Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a copy of the value for a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *MapleDB) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if err := maple.check(ctx, ns); err != nil {
		return nil, false, err
	}

	intKey := maple.hashKey(ns, key)
	shard := internal.GetShard(intKey, maple.shards)

	e, loaded := shard.Data.Load(intKey)
	if !loaded || !e.Is(ns, key) || e.Expired(maple.now()) {
		return nil, false, nil
	}

	data := make([]byte, len(e.Value))
	copy(data, e.Value)
	return data, true, nil
}

// ScanKeys returns the keys of all live entries of ns.
//
// Thread-safety: the result is a weakly consistent view, concurrent writes
// may or may not be included.
func (maple *MapleDB) ScanKeys(ctx context.Context, ns string) ([]string, error) {
	if err := maple.check(ctx, ns); err != nil {
		return nil, err
	}
	var keys []string
	maple.rangeNamespace(ns, func(e internal.Entry) {
		keys = append(keys, e.Key)
	})
	return keys, nil
}

// CountEntries returns the number of live entries of ns
func (maple *MapleDB) CountEntries(ctx context.Context, ns string) (int, error) {
	if err := maple.check(ctx, ns); err != nil {
		return 0, err
	}
	n := 0
	maple.rangeNamespace(ns, func(internal.Entry) { n++ })
	return n, nil
}

// rangeNamespace calls fn for every live entry of ns
func (maple *MapleDB) rangeNamespace(ns string, fn func(e internal.Entry)) {
	now := maple.now()
	for _, shard := range maple.shards {
		shard.Data.Range(func(_ util.UintKey, e internal.Entry) bool {
			if e.Namespace == ns && !e.Expired(now) {
				fn(e)
			}
			return true
		})
	}
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// startGC starts one collector goroutine per shard
func (maple *MapleDB) startGC() {
	maple.gcDone.Add(len(maple.shards))
	for _, shard := range maple.shards {
		go maple.collect(shard)
	}
}

// collect is the garbage collection loop of a single shard. It is the only
// goroutine touching shard.Deadlines.
func (maple *MapleDB) collect(shard *internal.Shard) {
	defer maple.gcDone.Done()

	ticker := time.NewTicker(maple.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-maple.gcStop:
			return
		case <-ticker.C:
		}

		// drain pending events
		for {
			event, ok := shard.Events.TryDequeue()
			if !ok {
				break
			}
			switch event.Type {
			case internal.EventTSchedule:
				shard.Deadlines.Schedule(event.Key, int64(event.DeleteAt))
			case internal.EventTCancel:
				shard.Deadlines.Cancel(event.Key)
			default:
				log.Errorf("unknown gc event %s", event)
			}
		}

		now := maple.now()

		// events were dropped, rebuild the heap from the shard itself
		if shard.Overflow.CompareAndSwap(true, false) {
			shard.Data.Range(func(key util.UintKey, e internal.Entry) bool {
				if e.DeleteAt != 0 {
					shard.Deadlines.Schedule(key, int64(e.DeleteAt))
				}
				return true
			})
		}

		for _, key := range shard.Deadlines.PopDue(int64(now)) {
			shard.Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
				if !loaded {
					return e, true
				}
				// the entry may have been rewritten with a later deadline, its
				// schedule event is still queued in that case
				return e, e.Expired(now)
			})
		}
	}
}

// --------------------------------------------------------------------------
// Backend Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// Capabilities reports native TTL, atomic create and bulk drop
func (maple *MapleDB) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Features: backend.FeatureNativeTTL |
			backend.FeatureAtomicCreate |
			backend.FeatureBulkDrop |
			backend.FeatureRawValues,
		BoundedIDSpace: maple.idSpace,
		Consistency:    backend.ConsistencyStrong,
	}
}

// Info returns entry counts per namespace
func (maple *MapleDB) Info() backend.Info {
	now := maple.now()
	namespaces := make(map[string]int)
	total := 0
	for _, shard := range maple.shards {
		shard.Data.Range(func(_ util.UintKey, e internal.Entry) bool {
			if !e.Expired(now) {
				namespaces[e.Namespace]++
				total++
			}
			return true
		})
	}

	return backend.Info{
		Product:  backend.ImplMaple,
		Version:  "4",
		Location: "memory",
		Metadata: &struct {
			CurrentWriteIndex uint64         `json:"current_write_index"`
			ShardCount        int            `json:"shard_count"`
			Entries           int            `json:"entries"`
			Namespaces        map[string]int `json:"namespaces"`
		}{
			CurrentWriteIndex: maple.currIndex.Load(),
			ShardCount:        len(maple.shards),
			Entries:           total,
			Namespaces:        namespaces,
		},
	}
}

// Close stops the garbage collector. It is safe to call Close more than once.
func (maple *MapleDB) Close() error {
	if maple.closed.CompareAndSwap(false, true) {
		close(maple.gcStop)
		maple.gcDone.Wait()
	}
	return nil
}

// --------------------------------------------------------------------------
// Index and Timestamp Management
// --------------------------------------------------------------------------

// SetWriteIdx raises the write index to newIdx if it is greater than the
// current one.
//
// Thread-safety: uses compare-and-swap so the index only ever increases.
func (maple *MapleDB) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current write index
func (maple *MapleDB) WriteIdx() uint64 {
	return maple.currIndex.Load()
}

// ttlToMillis converts a ttl to ms, rounding sub-millisecond ttls up so they
// still expire.
func ttlToMillis(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	ms := uint64(ttl / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

// TTLToMillis is exported for callers building Apply arguments
func TTLToMillis(ttl time.Duration) uint64 {
	return ttlToMillis(ttl)
}

var _ backend.Backend = (*MapleDB)(nil)
