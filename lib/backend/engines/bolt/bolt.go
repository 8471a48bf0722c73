package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/lni/dragonboat/v4/logger"
	bolt "go.etcd.io/bbolt"
)

var log = logger.GetLogger("bolt")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	keyPrefix   = 'k'            // bbolt rejects empty keys, every key is stored behind this byte
	seqBucket   = "\x00sequences" // Parent bucket of the per-namespace sequences
	openTimeout = time.Second    // Time to wait for the file lock
	fileMode    = 0600
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// DB is a backend.Backend on top of a bbolt file. Every namespace is a
// top-level bucket.
type DB struct {
	db     *bolt.DB
	path   string
	closed atomic.Bool
}

// Open opens (or creates) the bbolt file at path
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	log.Infof("opened bolt database %s", path)
	return &DB{db: db, path: path}, nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func storedKey(key string) []byte {
	k := make([]byte, 0, len(key)+1)
	k = append(k, keyPrefix)
	return append(k, key...)
}

func (b *DB) check(ctx context.Context, ns string) error {
	if b.closed.Load() {
		return backend.ErrClosed
	}
	if err := backend.ValidNamespace(ns); err != nil {
		return err
	}
	return ctx.Err()
}

// lookup returns the value stored for key. found distinguishes a missing key
// from an empty value, which bbolt's Bucket.Get cannot.
func lookup(bucket *bolt.Bucket, key []byte) (value []byte, found bool) {
	if bucket == nil {
		return nil, false
	}
	k, v := bucket.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) || v == nil && bucket.Bucket(k) != nil {
		return nil, false
	}
	return v, true
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// PutIfAbsent writes the entry if the key does not exist. The ttl is ignored.
//
// Thread-safety: atomic, bbolt serializes all write transactions.
func (b *DB) PutIfAbsent(ctx context.Context, ns, key string, value []byte, _ time.Duration) (bool, error) {
	if err := b.check(ctx, ns); err != nil {
		return false, err
	}
	created := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		k := storedKey(key)
		if _, found := lookup(bucket, k); found {
			return nil
		}
		created = true
		return bucket.Put(k, value)
	})
	if err != nil {
		return false, fmt.Errorf("bolt put-if-absent %s: %w", ns, err)
	}
	return created, nil
}

// Put inserts or overwrites an entry. The ttl is ignored.
func (b *DB) Put(ctx context.Context, ns, key string, value []byte, _ time.Duration) error {
	if err := b.check(ctx, ns); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return bucket.Put(storedKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("bolt put %s: %w", ns, err)
	}
	return nil
}

// Delete removes an entry
func (b *DB) Delete(ctx context.Context, ns, key string) error {
	if err := b.check(ctx, ns); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		return bucket.Delete(storedKey(key))
	})
	if err != nil {
		return fmt.Errorf("bolt delete %s: %w", ns, err)
	}
	return nil
}

// DropNamespace deletes the namespace bucket
func (b *DB) DropNamespace(ctx context.Context, ns string) error {
	if err := b.check(ctx, ns); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(ns))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("bolt drop %s: %w", ns, err)
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
	var (
		val   []byte
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		var v []byte
		v, found = lookup(tx.Bucket([]byte(ns)), storedKey(key))
		if found {
			// bbolt memory is only valid inside the transaction
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bolt get %s: %w", ns, err)
	}
	return val, found, nil
}

// ScanKeys returns all keys of ns in byte order
func (b *DB) ScanKeys(ctx context.Context, ns string) ([]string, error) {
	if err := b.check(ctx, ns); err != nil {
		return nil, err
	}
	var keys []string
	err := b.forEach(ctx, ns, func(k []byte) {
		keys = append(keys, string(k[1:]))
	})
	return keys, err
}

// CountEntries counts the entries of ns
func (b *DB) CountEntries(ctx context.Context, ns string) (int, error) {
	if err := b.check(ctx, ns); err != nil {
		return 0, err
	}
	n := 0
	err := b.forEach(ctx, ns, func([]byte) { n++ })
	return n, err
}

func (b *DB) forEach(ctx context.Context, ns string, fn func(k []byte)) error {
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(k) > 0 && k[0] == keyPrefix {
				fn(k)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("bolt scan %s: %w", ns, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Sequencer
// --------------------------------------------------------------------------

// NextID returns the next id of the namespace's sequence, starting at 1.
// Sequences live outside the namespace bucket and survive DropNamespace.
func (b *DB) NextID(ctx context.Context, ns string) (uint64, error) {
	if err := b.check(ctx, ns); err != nil {
		return 0, err
	}
	var id uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		parent, err := tx.CreateBucketIfNotExists([]byte(seqBucket))
		if err != nil {
			return err
		}
		seq, err := parent.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		id, err = seq.NextSequence()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("bolt sequence %s: %w", ns, err)
	}
	return id, nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Capabilities reports atomic create and bulk drop, bbolt has no expiry
func (b *DB) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Features: backend.FeatureAtomicCreate |
			backend.FeatureBulkDrop |
			backend.FeatureRawValues,
		Consistency: backend.ConsistencyStrong,
	}
}

// Info reports the file path and the number of namespaces
func (b *DB) Info() backend.Info {
	buckets := 0
	var size int64
	if !b.closed.Load() {
		_ = b.db.View(func(tx *bolt.Tx) error {
			size = tx.Size()
			return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
				if string(name) != seqBucket {
					buckets++
				}
				return nil
			})
		})
	}
	return backend.Info{
		Product:  backend.ImplBolt,
		Version:  "v1",
		Location: b.path,
		Metadata: &struct {
			Namespaces int   `json:"namespaces"`
			FileSize   int64 `json:"file_size"`
		}{buckets, size},
	}
}

// Close closes the bbolt file. It is safe to call Close more than once.
func (b *DB) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}
