package store

import (
	"context"

	"github.com/ValentinKolb/dps/lib/backend"
)

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or overwrites a key. It does not check that the store exists,
// use PutSafe for that.
func (s *Session) Put(ctx context.Context, id uint64, key, value []byte) error {
	const op = "put"
	countOp(op)
	return s.put(ctx, op, id, key, value)
}

// PutSafe checks that the store exists and writes the key under the store lock
func (s *Session) PutSafe(ctx context.Context, id uint64, key, value []byte) error {
	const op = "putSafe"
	countOp(op)

	if err := s.requireStore(ctx, op, id); err != nil {
		return err
	}
	lockKey := storeLockKey(id)
	if err := s.lock(ctx, op, id, lockKey); err != nil {
		return err
	}
	defer s.unlock(ctx, lockKey)
	return s.put(ctx, op, id, key, value)
}

func (s *Session) put(ctx context.Context, op string, id uint64, key, value []byte) error {
	enc := s.dataKey(key)
	if err := s.backend.Put(ctx, StoreNamespace(id), enc, s.encodeValue(value), 0); err != nil {
		return newError(KindWrite, op, id, err, "put %q", key)
	}
	return nil
}

// Remove deletes a key under the store lock. Removing a missing key succeeds.
func (s *Session) Remove(ctx context.Context, id uint64, key []byte) error {
	const op = "remove"
	countOp(op)
	return s.remove(ctx, op, id, key)
}

// RemoveSafe is Remove after checking that the store exists
func (s *Session) RemoveSafe(ctx context.Context, id uint64, key []byte) error {
	const op = "removeSafe"
	countOp(op)
	if err := s.requireStore(ctx, op, id); err != nil {
		return err
	}
	return s.remove(ctx, op, id, key)
}

func (s *Session) remove(ctx context.Context, op string, id uint64, key []byte) error {
	enc := s.dataKey(key)
	lockKey := storeLockKey(id)
	if err := s.lock(ctx, op, id, lockKey); err != nil {
		return err
	}
	defer s.unlock(ctx, lockKey)

	if err := s.backend.Delete(ctx, StoreNamespace(id), enc); err != nil {
		return newError(KindDelete, op, id, err, "delete %q", key)
	}
	return nil
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

// Get returns the value of a key or a KindNotFound error
func (s *Session) Get(ctx context.Context, id uint64, key []byte) ([]byte, error) {
	const op = "get"
	countOp(op)
	return s.get(ctx, op, id, key)
}

// GetSafe is Get after checking that the store exists
func (s *Session) GetSafe(ctx context.Context, id uint64, key []byte) ([]byte, error) {
	const op = "getSafe"
	countOp(op)
	if err := s.requireStore(ctx, op, id); err != nil {
		return nil, err
	}
	return s.get(ctx, op, id, key)
}

func (s *Session) get(ctx context.Context, op string, id uint64, key []byte) ([]byte, error) {
	enc := s.dataKey(key)
	value, found, err := s.readValue(ctx, op, id, enc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, newError(KindNotFound, op, id, nil, "key %q", key)
	}
	return value, nil
}

// readValue reads and decodes the value stored under the encoded key enc.
// Values above Config.MaxValueSize fail with KindAllocation.
func (s *Session) readValue(ctx context.Context, op string, id uint64, enc string) ([]byte, bool, error) {
	raw, found, err := s.backend.Get(ctx, StoreNamespace(id), enc)
	if err != nil {
		return nil, false, newError(KindRead, op, id, err, "get %s", enc)
	}
	if !found {
		return nil, false, nil
	}
	value, err := s.decodeValue(raw)
	if err != nil {
		return nil, false, newError(KindRead, op, id, err, "decode value of %s", enc)
	}
	if max := s.cfg.MaxValueSize; max > 0 && len(value) > max {
		return nil, false, newError(KindAllocation, op, id, nil, "value of %s has %d bytes, limit is %d", enc, len(value), max)
	}
	return value, true, nil
}

// Has reports whether a key exists
func (s *Session) Has(ctx context.Context, id uint64, key []byte) (bool, error) {
	const op = "has"
	countOp(op)
	return s.has(ctx, op, id, key)
}

// HasSafe is Has after checking that the store exists
func (s *Session) HasSafe(ctx context.Context, id uint64, key []byte) (bool, error) {
	const op = "hasSafe"
	countOp(op)
	if err := s.requireStore(ctx, op, id); err != nil {
		return false, err
	}
	return s.has(ctx, op, id, key)
}

func (s *Session) has(ctx context.Context, op string, id uint64, key []byte) (bool, error) {
	enc := s.dataKey(key)
	_, found, err := s.backend.Get(ctx, StoreNamespace(id), enc)
	if err != nil {
		return false, newError(KindRead, op, id, err, "has %q", key)
	}
	return found, nil
}

// Size returns the number of data entries of a store
func (s *Session) Size(ctx context.Context, id uint64) (int, error) {
	countOp("size")
	info, err := s.ReadStoreInformation(ctx, id)
	if err != nil {
		return 0, err
	}
	return info.ItemCount, nil
}

// --------------------------------------------------------------------------
// Clear
// --------------------------------------------------------------------------

// Clear removes every data entry of a store under the store lock. Afterwards
// the store holds exactly its three metadata entries.
func (s *Session) Clear(ctx context.Context, id uint64) error {
	const op = "clear"
	countOp(op)

	lockKey := storeLockKey(id)
	if err := s.lock(ctx, op, id, lockKey); err != nil {
		return err
	}
	defer s.unlock(ctx, lockKey)

	meta, err := s.readMetadata(ctx, op, id)
	if err != nil {
		return err
	}

	switch s.clearStrategy() {
	case ClearDropRecreate:
		return s.clearDropRecreate(ctx, op, id, meta)
	default:
		return s.clearScanDelete(ctx, op, id, meta)
	}
}

// clearStrategy resolves ClearAuto and falls back to scan-delete on backends
// without bulk drop
func (s *Session) clearStrategy() ClearStrategy {
	bulk := s.caps.Has(backend.FeatureBulkDrop)
	switch s.cfg.ClearStrategy {
	case ClearDropRecreate:
		if bulk {
			return ClearDropRecreate
		}
		log.Debugf("backend has no bulk drop, clearing by scan-delete")
		return ClearScanDelete
	case ClearScanDelete:
		return ClearScanDelete
	default:
		if bulk && s.caps.Consistency == backend.ConsistencyStrong {
			return ClearDropRecreate
		}
		return ClearScanDelete
	}
}

func (s *Session) clearScanDelete(ctx context.Context, op string, id uint64, meta [metadataCount]string) error {
	ns := StoreNamespace(id)
	keys, err := s.backend.ScanKeys(ctx, ns)
	if err != nil {
		return newError(KindRead, op, id, err, "scan namespace")
	}
	data := keys[:0]
	for _, key := range keys {
		if !isMetadataKey(key) {
			data = append(data, key)
		}
	}
	err = s.forEach(data, func(key string) error {
		return s.backend.Delete(ctx, ns, key)
	})
	if err != nil {
		return newError(KindDelete, op, id, err, "delete entries")
	}
	return s.ensureMetadata(ctx, op, id, meta, 1)
}

func (s *Session) clearDropRecreate(ctx context.Context, op string, id uint64, meta [metadataCount]string) error {
	if err := s.backend.DropNamespace(ctx, StoreNamespace(id)); err != nil {
		return newError(KindDelete, op, id, err, "drop namespace")
	}
	rounds := 1
	if s.caps.Consistency == backend.ConsistencyEventual {
		rounds = s.cfg.MetadataRetries
	}
	return s.ensureMetadata(ctx, op, id, meta, rounds)
}

// ensureMetadata writes every missing metadata entry and reads them back, for
// at most rounds rounds. More than one round is only needed on eventually
// consistent backends, where a write may not be visible right away.
func (s *Session) ensureMetadata(ctx context.Context, op string, id uint64, meta [metadataCount]string, rounds int) error {
	ns := StoreNamespace(id)
	for round := 1; round <= rounds; round++ {
		missing := 0
		for i, key := range metadataKeys {
			_, found, err := s.backend.Get(ctx, ns, key)
			if err != nil {
				return newError(KindRead, op, id, err, "read metadata %s", key)
			}
			if found {
				continue
			}
			missing++
			if err := s.backend.Put(ctx, ns, key, []byte(meta[i]), 0); err != nil {
				return newError(KindWrite, op, id, err, "write metadata %s", key)
			}
		}
		if missing == 0 {
			return nil
		}
		if round > 1 {
			log.Warningf("store %d: %d metadata entries not visible after round %d of %d", id, missing, round-1, rounds)
		}
	}
	if rounds == 1 {
		// strongly consistent backends see their own writes
		return nil
	}
	return newError(KindWrite, op, id, nil, "metadata still missing after %d rounds", rounds)
}
