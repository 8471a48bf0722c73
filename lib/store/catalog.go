package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/util"
)

// maxSlotAttempts bounds the linear search for a free hashed store id
const maxSlotAttempts = 64

// StoreInfo describes a store as recorded in its metadata
type StoreInfo struct {
	ID        uint64
	Name      string
	KeyTag    string
	ValueTag  string
	ItemCount int // Number of data entries, metadata excluded
}

// --------------------------------------------------------------------------
// Create / Find / Remove
// --------------------------------------------------------------------------

// CreateStore creates a store named name and returns its id. If the name is
// taken the error has kind KindStoreExists and carries the existing id (see
// ExistingStoreID).
//
// Thread-safety: creators of the same name are serialized by a general
// purpose lock on the name, so at most one of them succeeds.
func (s *Session) CreateStore(ctx context.Context, name, keyTag, valueTag string) (uint64, error) {
	const op = "createStore"
	countOp(op)

	encName := s.codec.EncodeString(name)
	lockKey := generalLockKey(encName)
	if err := s.lock(ctx, op, 0, lockKey); err != nil {
		return 0, err
	}
	defer s.unlock(ctx, lockKey)

	existing, err := s.findStore(ctx, op, encName)
	if err == nil {
		return 0, &Error{
			Kind:       KindStoreExists,
			Op:         op,
			ExistingID: existing,
			Msg:        fmt.Sprintf("store %q already exists with id %d", name, existing),
		}
	}
	if KindOf(err) != KindNotFound {
		return 0, err
	}

	id, err := s.allocateID(ctx, op, encName)
	if err != nil {
		return 0, err
	}

	if err := s.backend.Put(ctx, CatalogNamespace, storeNameKey(encName), formatID(id), 0); err != nil {
		return 0, s.rollbackCreate(ctx, id, encName, newError(KindWrite, op, id, err, "write catalog row"))
	}
	values := [metadataCount]string{encName, s.codec.EncodeString(keyTag), s.codec.EncodeString(valueTag)}
	for i, key := range metadataKeys {
		if err := s.backend.Put(ctx, StoreNamespace(id), key, []byte(values[i]), 0); err != nil {
			return 0, s.rollbackCreate(ctx, id, encName, newError(KindWrite, op, id, err, "write metadata %s", key))
		}
	}

	log.Debugf("created store %q with id %d", name, id)
	return id, nil
}

// rollbackCreate undoes every write of a failed CreateStore. Failures are
// logged, cause is returned unchanged.
func (s *Session) rollbackCreate(ctx context.Context, id uint64, encName string, cause error) error {
	bg := context.WithoutCancel(ctx)
	log.Warningf("rolling back creation of store %d: %v", id, cause)

	if err := s.backend.Delete(bg, CatalogNamespace, storeNameKey(encName)); err != nil {
		log.Errorf("rollback of store %d: delete catalog row: %v", id, err)
	}
	for _, key := range metadataKeys {
		if err := s.backend.Delete(bg, StoreNamespace(id), key); err != nil {
			log.Errorf("rollback of store %d: delete metadata %s: %v", id, key, err)
		}
	}
	s.freeID(bg, id)
	return cause
}

// CreateOrGetStore returns the id of the store named name, creating it if needed
func (s *Session) CreateOrGetStore(ctx context.Context, name, keyTag, valueTag string) (uint64, error) {
	id, err := s.CreateStore(ctx, name, keyTag, valueTag)
	if existing, ok := ExistingStoreID(err); ok {
		return existing, nil
	}
	return id, err
}

// FindStore returns the id of the store named name or a KindNotFound error
func (s *Session) FindStore(ctx context.Context, name string) (uint64, error) {
	const op = "findStore"
	countOp(op)
	return s.findStore(ctx, op, s.codec.EncodeString(name))
}

func (s *Session) findStore(ctx context.Context, op, encName string) (uint64, error) {
	raw, found, err := s.backend.Get(ctx, CatalogNamespace, storeNameKey(encName))
	if err != nil {
		return 0, newError(KindRead, op, 0, err, "read catalog row")
	}
	if !found {
		return 0, newError(KindNotFound, op, 0, nil, "no store with encoded name %s", encName)
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, newError(KindCorruptStore, op, 0, err, "catalog row of %s holds %q", encName, raw)
	}
	return id, nil
}

// RemoveStore deletes the store and all of its contents and frees its id
func (s *Session) RemoveStore(ctx context.Context, id uint64) error {
	const op = "removeStore"
	countOp(op)

	lockKey := storeLockKey(id)
	if err := s.lock(ctx, op, id, lockKey); err != nil {
		return err
	}
	defer s.unlock(ctx, lockKey)

	meta, err := s.readMetadata(ctx, op, id)
	if err != nil {
		// a store missing a tag can still be removed as long as its name is known
		if KindOf(err) != KindCorruptStore || meta[0] == "" {
			return err
		}
		log.Warningf("removing corrupt store %d: %v", id, err)
	}

	if err := s.dropStoreNamespace(ctx, op, id); err != nil {
		return err
	}

	// only delete the catalog row if it still points to this store
	raw, found, err := s.backend.Get(ctx, CatalogNamespace, storeNameKey(meta[0]))
	if err != nil {
		return newError(KindRead, op, id, err, "read catalog row")
	}
	if found {
		if current, perr := parseID(raw); perr == nil && current != id {
			log.Warningf("catalog row of store %d points to store %d, keeping it", id, current)
		} else if err := s.backend.Delete(ctx, CatalogNamespace, storeNameKey(meta[0])); err != nil {
			return newError(KindDelete, op, id, err, "delete catalog row")
		}
	}

	s.freeID(ctx, id)
	log.Debugf("removed store %d", id)
	return nil
}

// dropStoreNamespace removes every entry of the store, metadata included
func (s *Session) dropStoreNamespace(ctx context.Context, op string, id uint64) error {
	ns := StoreNamespace(id)
	if s.caps.Has(backend.FeatureBulkDrop) {
		if err := s.backend.DropNamespace(ctx, ns); err != nil {
			return newError(KindDelete, op, id, err, "drop namespace")
		}
		return nil
	}

	keys, err := s.backend.ScanKeys(ctx, ns)
	if err != nil {
		return newError(KindRead, op, id, err, "scan namespace")
	}
	err = s.forEach(keys, func(key string) error {
		return s.backend.Delete(ctx, ns, key)
	})
	if err != nil {
		return newError(KindDelete, op, id, err, "delete entries")
	}
	return nil
}

// --------------------------------------------------------------------------
// Store Information
// --------------------------------------------------------------------------

// readMetadata returns the encoded name, key tag and value tag of a store.
// All three missing means there is no such store. Some missing means the
// store is corrupt, the entries that were found are returned anyway.
func (s *Session) readMetadata(ctx context.Context, op string, id uint64) ([metadataCount]string, error) {
	var meta [metadataCount]string
	missing := 0
	ns := StoreNamespace(id)
	for i, key := range metadataKeys {
		raw, found, err := s.backend.Get(ctx, ns, key)
		if err != nil {
			return meta, newError(KindRead, op, id, err, "read metadata %s", key)
		}
		if !found {
			missing++
			continue
		}
		meta[i] = string(raw)
	}
	switch {
	case missing == metadataCount:
		return meta, newError(KindInvalidStoreID, op, id, nil, "no such store")
	case missing > 0:
		return meta, newError(KindCorruptStore, op, id, nil, "%d of %d metadata entries are missing", missing, metadataCount)
	}
	return meta, nil
}

// requireStore fails with KindInvalidStoreID unless the store's name entry exists
func (s *Session) requireStore(ctx context.Context, op string, id uint64) error {
	_, found, err := s.backend.Get(ctx, StoreNamespace(id), metaStoreName)
	if err != nil {
		return newError(KindRead, op, id, err, "read metadata %s", metaStoreName)
	}
	if !found {
		return newError(KindInvalidStoreID, op, id, nil, "no such store")
	}
	return nil
}

// ReadStoreInformation returns name, tags and item count of a store. A store
// with missing metadata, or with fewer entries than metadata, is reported as
// KindCorruptStore and left untouched.
func (s *Session) ReadStoreInformation(ctx context.Context, id uint64) (StoreInfo, error) {
	const op = "readStoreInformation"
	countOp(op)

	meta, err := s.readMetadata(ctx, op, id)
	if err != nil {
		return StoreInfo{}, err
	}
	n, err := s.backend.CountEntries(ctx, StoreNamespace(id))
	if err != nil {
		return StoreInfo{}, newError(KindRead, op, id, err, "count entries")
	}
	if n < metadataCount {
		return StoreInfo{}, newError(KindCorruptStore, op, id, nil, "namespace holds %d entries, fewer than its metadata", n)
	}

	var decoded [metadataCount]string
	for i, token := range meta {
		if decoded[i], err = s.codec.DecodeString(token); err != nil {
			return StoreInfo{}, newError(KindCorruptStore, op, id, err, "metadata %s", metadataKeys[i])
		}
	}
	return StoreInfo{
		ID:        id,
		Name:      decoded[0],
		KeyTag:    decoded[1],
		ValueTag:  decoded[2],
		ItemCount: n - metadataCount,
	}, nil
}

// GetStoreName returns the name of a store
func (s *Session) GetStoreName(ctx context.Context, id uint64) (string, error) {
	return s.metadataField(ctx, "getStoreName", id, 0)
}

// GetKeyTypeTag returns the key type tag a store was created with
func (s *Session) GetKeyTypeTag(ctx context.Context, id uint64) (string, error) {
	return s.metadataField(ctx, "getKeyTypeTag", id, 1)
}

// GetValueTypeTag returns the value type tag a store was created with
func (s *Session) GetValueTypeTag(ctx context.Context, id uint64) (string, error) {
	return s.metadataField(ctx, "getValueTypeTag", id, 2)
}

func (s *Session) metadataField(ctx context.Context, op string, id uint64, field int) (string, error) {
	countOp(op)
	meta, err := s.readMetadata(ctx, op, id)
	if err != nil {
		return "", err
	}
	value, err := s.codec.DecodeString(meta[field])
	if err != nil {
		return "", newError(KindCorruptStore, op, id, err, "metadata %s", metadataKeys[field])
	}
	return value, nil
}

// ListStores returns every store in the catalog ordered by id. Stores whose
// metadata can not be read are listed with id and name only.
func (s *Session) ListStores(ctx context.Context) ([]StoreInfo, error) {
	const op = "listStores"
	countOp(op)

	keys, err := s.backend.ScanKeys(ctx, CatalogNamespace)
	if err != nil {
		return nil, newError(KindRead, op, 0, err, "scan catalog")
	}
	var names []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefixStoreName) {
			names = append(names, key)
		}
	}

	var (
		mu     sync.Mutex
		stores = make([]StoreInfo, 0, len(names))
	)
	err = s.forEach(names, func(key string) error {
		encName := strings.TrimPrefix(key, prefixStoreName)
		id, err := s.findStore(ctx, op, encName)
		if err != nil {
			if KindOf(err) == KindNotFound {
				// removed while listing
				return nil
			}
			return err
		}
		info, err := s.ReadStoreInformation(ctx, id)
		if err != nil {
			log.Warningf("listing store %d: %v", id, err)
			name, _ := s.codec.DecodeString(encName)
			info = StoreInfo{ID: id, Name: name}
		}
		mu.Lock()
		stores = append(stores, info)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, passOrWrap(KindRead, op, 0, err, "list stores")
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].ID < stores[j].ID })
	return stores, nil
}

// --------------------------------------------------------------------------
// Id Allocation
// --------------------------------------------------------------------------

// allocateID picks an id for a new store. Bounded backends hand out the lowest
// free slot, sequencing backends their next id, everything else gets the hash
// of the encoded name with linear probing. Slots and hashed ids are claimed in
// the tracker namespace and freed again on removal.
func (s *Session) allocateID(ctx context.Context, op, encName string) (uint64, error) {
	if space := s.caps.BoundedIDSpace; space > 0 {
		for id := uint64(1); id <= space; id++ {
			ok, err := s.claimID(ctx, id, encName)
			if err != nil {
				return 0, newError(KindAllocation, op, id, err, "claim slot")
			}
			if ok {
				return id, nil
			}
		}
		return 0, newError(KindAllocation, op, 0, nil, "all %d store ids are in use", space)
	}

	if seq, ok := s.backend.(backend.Sequencer); ok {
		id, err := seq.NextID(ctx, TrackerNamespace)
		if err != nil {
			return 0, newError(KindAllocation, op, 0, err, "next id")
		}
		return id, nil
	}

	start := util.StableID(encName)
	for i := uint64(0); i < maxSlotAttempts; i++ {
		id := start + i
		if id == 0 || id>>63 != 0 {
			// wrapped around the positive id range
			id = i + 1
		}
		ok, err := s.claimID(ctx, id, encName)
		if err != nil {
			return 0, newError(KindAllocation, op, id, err, "claim id")
		}
		if ok {
			return id, nil
		}
		log.Debugf("store id %d is taken, probing", id)
	}
	return 0, newError(KindAllocation, op, 0, nil, "no free id after %d attempts", maxSlotAttempts)
}

// claimID records encName as the owner of id in the tracker namespace. On
// backends without atomic create the claim is confirmed by reading it back.
func (s *Session) claimID(ctx context.Context, id uint64, encName string) (bool, error) {
	key := strconv.FormatUint(id, 10)
	created, err := s.backend.PutIfAbsent(ctx, TrackerNamespace, key, []byte(encName), 0)
	if err != nil || !created {
		return false, err
	}
	if s.caps.Has(backend.FeatureAtomicCreate) {
		return true, nil
	}
	owner, found, err := s.backend.Get(ctx, TrackerNamespace, key)
	if err != nil {
		return false, err
	}
	return found && string(owner) == encName, nil
}

// freeID removes the tracker entry of id. Ids of sequencing backends have no
// entry, deleting it is a no-op.
func (s *Session) freeID(ctx context.Context, id uint64) {
	if err := s.backend.Delete(ctx, TrackerNamespace, strconv.FormatUint(id, 10)); err != nil {
		log.Warningf("failed to free store id %d: %v", id, err)
	}
}
