package store

import (
	"context"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ISession is the interface implemented by Session. All operations return a
// *Error on failure, use errors.Is with the Err* sentinels or KindOf to tell
// failures apart.
type ISession interface {
	// --------------------------------------------------------------------------
	// Catalog
	// --------------------------------------------------------------------------

	// CreateStore creates a store and returns its id. Fails with KindStoreExists
	// (carrying the existing id) if the name is taken.
	CreateStore(ctx context.Context, name, keyTag, valueTag string) (id uint64, err error)
	// CreateOrGetStore returns the id of an existing store or creates it.
	CreateOrGetStore(ctx context.Context, name, keyTag, valueTag string) (id uint64, err error)
	// FindStore returns the id of a store by name.
	FindStore(ctx context.Context, name string) (id uint64, err error)
	// RemoveStore deletes a store with all of its contents.
	RemoveStore(ctx context.Context, id uint64) (err error)
	// ReadStoreInformation returns name, tags and item count of a store.
	ReadStoreInformation(ctx context.Context, id uint64) (info StoreInfo, err error)
	// ListStores returns every store of the catalog.
	ListStores(ctx context.Context) (stores []StoreInfo, err error)
	GetStoreName(ctx context.Context, id uint64) (name string, err error)
	GetKeyTypeTag(ctx context.Context, id uint64) (tag string, err error)
	GetValueTypeTag(ctx context.Context, id uint64) (tag string, err error)

	// --------------------------------------------------------------------------
	// CRUD
	// --------------------------------------------------------------------------

	// Put inserts or overwrites a key without checking that the store exists.
	Put(ctx context.Context, id uint64, key, value []byte) (err error)
	// PutSafe checks the store and writes under the store lock.
	PutSafe(ctx context.Context, id uint64, key, value []byte) (err error)
	// Get returns the value of a key, KindNotFound if it is missing.
	Get(ctx context.Context, id uint64, key []byte) (value []byte, err error)
	GetSafe(ctx context.Context, id uint64, key []byte) (value []byte, err error)
	Has(ctx context.Context, id uint64, key []byte) (found bool, err error)
	HasSafe(ctx context.Context, id uint64, key []byte) (found bool, err error)
	// Remove deletes a key under the store lock.
	Remove(ctx context.Context, id uint64, key []byte) (err error)
	RemoveSafe(ctx context.Context, id uint64, key []byte) (err error)
	// Clear deletes every data entry, the metadata stays.
	Clear(ctx context.Context, id uint64) (err error)
	// Size returns the number of data entries.
	Size(ctx context.Context, id uint64) (n int, err error)

	// --------------------------------------------------------------------------
	// TTL
	// --------------------------------------------------------------------------

	PutTTL(ctx context.Context, key, value []byte, ttl time.Duration) (err error)
	GetTTL(ctx context.Context, key []byte) (value []byte, err error)
	HasTTL(ctx context.Context, key []byte) (found bool, err error)
	RemoveTTL(ctx context.Context, key []byte) (err error)

	// --------------------------------------------------------------------------
	// Iteration
	// --------------------------------------------------------------------------

	NewIterator(ctx context.Context, id uint64) (it *Iterator, err error)
	// GetNext returns ok == false once the iterator is exhausted or belongs
	// to another store.
	GetNext(ctx context.Context, id uint64, it *Iterator) (key, value []byte, ok bool, err error)
	DeleteIterator(id uint64, it *Iterator) (err error)

	// --------------------------------------------------------------------------
	// Locks
	// --------------------------------------------------------------------------

	AcquireGeneralLock(ctx context.Context, name string, lease, maxWait time.Duration) (err error)
	ReleaseGeneralLock(ctx context.Context, name string) (err error)
	CreateOrGetLock(ctx context.Context, name string) (id uint64, err error)
	AcquireLock(ctx context.Context, id uint64, lease, maxWait time.Duration) (err error)
	ReleaseLock(ctx context.Context, id uint64) (err error)
	RemoveLock(ctx context.Context, id uint64) (err error)
	GetPidForLock(ctx context.Context, name string) (pid int, err error)
	ReadLockInformation(ctx context.Context, id uint64) (info LockInfo, err error)
	ListLocks(ctx context.Context) (locks []LockInfo, err error)

	// --------------------------------------------------------------------------
	// Introspection
	// --------------------------------------------------------------------------

	GetNoSqlDbProductName() string
	GetDetailsAboutThisMachine(ctx context.Context) (details MachineDetails, err error)
	RunDataStoreCommand(ctx context.Context, cmd string) (reply string, err error)
	IsConnected(ctx context.Context) bool
	Capabilities() backend.Capabilities

	Close() error
}

var _ ISession = (*Session)(nil)
