package badger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("badger")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	nsSeparator   = "\x00"       // Separates namespace and key, namespaces never contain NUL
	seqPrefix     = "\x00seq\x00" // Prefix of sequence counters, never a valid namespace
	seqBandwidth  = 64           // Number of ids leased from a sequence at once
	badgerVersion = "v4"
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// DB is a backend.Backend on top of a badger key-value store.
type DB struct {
	db       *badger.DB
	location string

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence
}

// Options configures the badger engine
type Options struct {
	Dir        string // Data directory, ignored if InMemory is set
	InMemory   bool   // Keep everything in memory
	SyncWrites bool   // fsync every write
}

// Open opens (or creates) a badger database
func Open(opts Options) (*DB, error) {
	var bopts badger.Options
	location := opts.Dir
	if opts.InMemory || opts.Dir == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
		location = "memory"
	} else {
		bopts = badger.DefaultOptions(opts.Dir).WithSyncWrites(opts.SyncWrites)
	}
	bopts = bopts.WithLogger(log)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", location, err)
	}
	log.Infof("opened badger database (%s)", location)

	return &DB{
		db:       db,
		location: location,
		seqs:     make(map[string]*badger.Sequence),
	}, nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func prefix(ns string) []byte {
	return []byte(ns + nsSeparator)
}

func fullKey(ns, key string) []byte {
	return []byte(ns + nsSeparator + key)
}

// entry builds a badger entry. The expiry is rounded up to the next full
// second since badger stores expiry in unix seconds, a lease is never
// shortened by rounding.
func entry(ns, key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry(fullKey(ns, key), value)
	if ttl > 0 {
		deadline := time.Now().Add(ttl)
		e.ExpiresAt = uint64(math.Ceil(float64(deadline.UnixNano()) / float64(time.Second)))
	}
	return e
}

func (b *DB) check(ctx context.Context, ns string) error {
	if b.db.IsClosed() {
		return backend.ErrClosed
	}
	if err := backend.ValidNamespace(ns); err != nil {
		return err
	}
	return ctx.Err()
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// PutIfAbsent writes the entry inside a transaction that first checks for the
// key. A concurrent writer of the same key makes the commit fail with a
// conflict, which is reported as "not created".
//
// Thread-safety: atomic, badger detects read-write conflicts.
func (b *DB) PutIfAbsent(ctx context.Context, ns, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := b.check(ctx, ns); err != nil {
		return false, err
	}

	created := false
	err := b.db.Update(func(tx *badger.Txn) error {
		_, err := tx.Get(fullKey(ns, key))
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := tx.SetEntry(entry(ns, key, value, ttl)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger put-if-absent %s/%s: %w", ns, key, err)
	}
	return created, nil
}

// Put inserts or overwrites an entry
func (b *DB) Put(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error {
	if err := b.check(ctx, ns); err != nil {
		return err
	}
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.SetEntry(entry(ns, key, value, ttl))
	})
	if err != nil {
		return fmt.Errorf("badger put %s/%s: %w", ns, key, err)
	}
	return nil
}

// Delete removes an entry
func (b *DB) Delete(ctx context.Context, ns, key string) error {
	if err := b.check(ctx, ns); err != nil {
		return err
	}
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.Delete(fullKey(ns, key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s/%s: %w", ns, key, err)
	}
	return nil
}

// DropNamespace removes every entry of ns using badger's prefix drop.
//
// Thread-safety: badger blocks writes while the prefix is dropped.
func (b *DB) DropNamespace(ctx context.Context, ns string) error {
	if err := b.check(ctx, ns); err != nil {
		return err
	}
	if err := b.db.DropPrefix(prefix(ns)); err != nil {
		return fmt.Errorf("badger drop %s: %w", ns, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

// Get returns a copy of the value of a key
func (b *DB) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if err := b.check(ctx, ns); err != nil {
		return nil, false, err
	}

	var value []byte
	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(fullKey(ns, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get %s/%s: %w", ns, key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// ScanKeys returns all keys of ns. Expired entries are skipped by badger.
func (b *DB) ScanKeys(ctx context.Context, ns string) ([]string, error) {
	if err := b.check(ctx, ns); err != nil {
		return nil, err
	}
	var keys []string
	err := b.iterate(ctx, ns, func(key []byte) {
		keys = append(keys, string(key))
	})
	return keys, err
}

// CountEntries counts the entries of ns
func (b *DB) CountEntries(ctx context.Context, ns string) (int, error) {
	if err := b.check(ctx, ns); err != nil {
		return 0, err
	}
	n := 0
	err := b.iterate(ctx, ns, func([]byte) { n++ })
	return n, err
}

// iterate calls fn with the (namespace-stripped) key of every entry of ns
func (b *DB) iterate(ctx context.Context, ns string, fn func(key []byte)) error {
	p := prefix(ns)
	err := b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p

		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(it.Item().KeyCopy(nil)[len(p):])
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger scan %s: %w", ns, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Sequencer
// --------------------------------------------------------------------------

// NextID returns the next id of the namespace's sequence, starting at 1.
//
// Thread-safety: sequences are shared per namespace and safe for concurrent use.
func (b *DB) NextID(ctx context.Context, ns string) (uint64, error) {
	if err := b.check(ctx, ns); err != nil {
		return 0, err
	}

	b.seqMu.Lock()
	seq, ok := b.seqs[ns]
	if !ok {
		var err error
		seq, err = b.db.GetSequence([]byte(seqPrefix+ns), seqBandwidth)
		if err != nil {
			b.seqMu.Unlock()
			return 0, fmt.Errorf("badger sequence %s: %w", ns, err)
		}
		b.seqs[ns] = seq
	}
	b.seqMu.Unlock()

	next, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("badger sequence %s: %w", ns, err)
	}
	// badger sequences start at 0, ids start at 1
	return next + 1, nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Capabilities reports native ttl, atomic create and bulk drop
func (b *DB) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Features: backend.FeatureNativeTTL |
			backend.FeatureAtomicCreate |
			backend.FeatureBulkDrop |
			backend.FeatureRawValues,
		Consistency: backend.ConsistencyStrong,
	}
}

// Info reports the on-disk size of the LSM tree and value log
func (b *DB) Info() backend.Info {
	lsm, vlog := b.db.Size()
	return backend.Info{
		Product:  backend.ImplBadger,
		Version:  badgerVersion,
		Location: b.location,
		Metadata: &struct {
			LSMSize  int64 `json:"lsm_size"`
			VLogSize int64 `json:"vlog_size"`
		}{lsm, vlog},
	}
}

// Close releases all sequences and closes the database. It is safe to call
// Close more than once.
func (b *DB) Close() error {
	if b.db.IsClosed() {
		return nil
	}

	b.seqMu.Lock()
	for ns, seq := range b.seqs {
		if err := seq.Release(); err != nil {
			log.Warningf("failed to release sequence %s: %v", ns, err)
		}
	}
	b.seqs = make(map[string]*badger.Sequence)
	b.seqMu.Unlock()

	return b.db.Close()
}
