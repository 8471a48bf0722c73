package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/util"
)

const (
	removeLockLease = 5 * time.Second
	removeLockWait  = 3 * time.Second
)

// --------------------------------------------------------------------------
// General Purpose Locks
// --------------------------------------------------------------------------

// AcquireGeneralLock takes the general purpose lock called name. Zero lease
// or maxWait select the configured defaults. Store creation uses the same
// lock space, holding the lock of a store's name blocks its creation.
func (s *Session) AcquireGeneralLock(ctx context.Context, name string, lease, maxWait time.Duration) error {
	const op = "acquireGeneralLock"
	countOp(op)
	lease, maxWait = s.leaseOrDefault(lease, maxWait)
	return s.lockFor(ctx, op, 0, generalLockKey(s.codec.EncodeString(name)), lease, maxWait)
}

// ReleaseGeneralLock releases the general purpose lock called name, whoever holds it
func (s *Session) ReleaseGeneralLock(ctx context.Context, name string) error {
	const op = "releaseGeneralLock"
	countOp(op)
	if err := s.locks.Release(ctx, generalLockKey(s.codec.EncodeString(name))); err != nil {
		return newError(KindDelete, op, 0, err, "release lock %q", name)
	}
	return nil
}

func (s *Session) leaseOrDefault(lease, maxWait time.Duration) (time.Duration, time.Duration) {
	if lease <= 0 {
		lease = s.cfg.LockLease
	}
	if maxWait <= 0 {
		maxWait = s.cfg.LockWait
	}
	return lease, maxWait
}

// --------------------------------------------------------------------------
// User Defined Locks
// --------------------------------------------------------------------------

// CreateOrGetLock returns the id of the lock called name, creating it if it
// does not exist yet. Lock ids are derived from the name and move to the
// next free slot on collision.
func (s *Session) CreateOrGetLock(ctx context.Context, name string) (uint64, error) {
	const op = "createOrGetLock"
	countOp(op)

	encName := s.codec.EncodeString(name)
	if id, found, err := s.lookupLock(ctx, op, encName); err != nil || found {
		return id, err
	}

	lockKey := generalLockKey(encName)
	if err := s.lock(ctx, op, 0, lockKey); err != nil {
		return 0, err
	}
	defer s.unlock(ctx, lockKey)

	// created by someone else while we waited
	if id, found, err := s.lookupLock(ctx, op, encName); err != nil || found {
		return id, err
	}

	id, err := s.claimLockID(ctx, op, encName)
	if err != nil {
		return 0, err
	}
	if err := s.backend.Put(ctx, CatalogNamespace, lockNameKey(encName), formatID(id), 0); err != nil {
		if derr := s.backend.Delete(context.WithoutCancel(ctx), CatalogNamespace, lockInfoKey(id)); derr != nil {
			log.Errorf("rollback of lock %d: delete lock info: %v", id, derr)
		}
		return 0, newError(KindWrite, op, 0, err, "write lock name row")
	}

	log.Debugf("created lock %q with id %d", name, id)
	return id, nil
}

// claimLockID reserves a lock id by creating its info row
func (s *Session) claimLockID(ctx context.Context, op, encName string) (uint64, error) {
	start := util.StableID(prefixLockName + encName)
	free := encodeLockInfo(0, time.Time{}, 0, encName)

	for i := uint64(0); i < maxSlotAttempts; i++ {
		id := start + i
		if id == 0 || id>>63 != 0 {
			id = i + 1
		}
		created, err := s.backend.PutIfAbsent(ctx, CatalogNamespace, lockInfoKey(id), free, 0)
		if err != nil {
			return 0, newError(KindWrite, op, 0, err, "create lock info %d", id)
		}
		if created && s.caps.Has(backend.FeatureAtomicCreate) {
			return id, nil
		}

		// emulated create or taken: the row tells whose id it is
		raw, found, err := s.backend.Get(ctx, CatalogNamespace, lockInfoKey(id))
		if err != nil {
			return 0, newError(KindRead, op, 0, err, "read lock info %d", id)
		}
		if found {
			if _, _, _, owner, err := decodeLockInfo(raw); err == nil && owner == encName {
				return id, nil
			}
		}
		log.Debugf("lock id %d is taken, probing", id)
	}
	return 0, newError(KindAllocation, op, 0, nil, "no free lock id after %d attempts", maxSlotAttempts)
}

func (s *Session) lookupLock(ctx context.Context, op, encName string) (uint64, bool, error) {
	raw, found, err := s.backend.Get(ctx, CatalogNamespace, lockNameKey(encName))
	if err != nil {
		return 0, false, newError(KindRead, op, 0, err, "read lock name row")
	}
	if !found {
		return 0, false, nil
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, false, newError(KindRead, op, 0, err, "lock name row holds %q", raw)
	}
	return id, true, nil
}

// readLockInfo returns the info of lock id and its encoded name
func (s *Session) readLockInfo(ctx context.Context, op string, id uint64) (LockInfo, string, error) {
	raw, found, err := s.backend.Get(ctx, CatalogNamespace, lockInfoKey(id))
	if err != nil {
		return LockInfo{}, "", newError(KindRead, op, 0, err, "read lock info %d", id)
	}
	if !found {
		return LockInfo{}, "", newError(KindNotFound, op, 0, nil, "no lock with id %d", id)
	}
	usage, expires, pid, encName, err := decodeLockInfo(raw)
	if err != nil {
		return LockInfo{}, "", newError(KindRead, op, 0, err, "lock %d", id)
	}
	name, err := s.codec.DecodeString(encName)
	if err != nil {
		return LockInfo{}, "", newError(KindRead, op, 0, err, "lock %d name", id)
	}
	return LockInfo{ID: id, Name: name, UsageCount: usage, ExpiresAt: expires, PID: pid}, encName, nil
}

// AcquireLock takes user defined lock id. On success the lock info records
// this process as the holder until the lease ends.
func (s *Session) AcquireLock(ctx context.Context, id uint64, lease, maxWait time.Duration) error {
	const op = "acquireLock"
	countOp(op)

	_, encName, err := s.readLockInfo(ctx, op, id)
	if err != nil {
		return err
	}
	lease, maxWait = s.leaseOrDefault(lease, maxWait)
	if err := s.lockFor(ctx, op, 0, userLockKey(id), lease, maxWait); err != nil {
		return err
	}

	info := encodeLockInfo(1, s.clock.Now().Add(lease), s.cfg.Identity.PID, encName)
	if err := s.backend.Put(ctx, CatalogNamespace, lockInfoKey(id), info, 0); err != nil {
		s.unlock(ctx, userLockKey(id))
		return newError(KindWrite, op, 0, err, "update lock info %d", id)
	}
	return nil
}

// ReleaseLock releases user defined lock id and marks it free. Releasing is
// advisory, it does not check who holds the lock.
func (s *Session) ReleaseLock(ctx context.Context, id uint64) error {
	const op = "releaseLock"
	countOp(op)

	_, encName, err := s.readLockInfo(ctx, op, id)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, CatalogNamespace, lockInfoKey(id), encodeLockInfo(0, time.Time{}, 0, encName), 0); err != nil {
		return newError(KindWrite, op, 0, err, "update lock info %d", id)
	}
	if err := s.locks.Release(ctx, userLockKey(id)); err != nil {
		return newError(KindDelete, op, 0, err, "release lock %d", id)
	}
	return nil
}

// RemoveLock deletes user defined lock id. It waits for the lock like
// AcquireLock (with a short fixed lease) so a held lock is not removed.
func (s *Session) RemoveLock(ctx context.Context, id uint64) error {
	const op = "removeLock"
	countOp(op)

	lockKey := userLockKey(id)
	if err := s.lockFor(ctx, op, 0, lockKey, removeLockLease, removeLockWait); err != nil {
		return err
	}
	defer s.unlock(ctx, lockKey)

	_, encName, err := s.readLockInfo(ctx, op, id)
	if err != nil {
		return err
	}

	if current, found, err := s.lookupLock(ctx, op, encName); err != nil {
		return err
	} else if found && current == id {
		if err := s.backend.Delete(ctx, CatalogNamespace, lockNameKey(encName)); err != nil {
			return newError(KindDelete, op, 0, err, "delete lock name row")
		}
	}
	if err := s.backend.Delete(ctx, CatalogNamespace, lockInfoKey(id)); err != nil {
		return newError(KindDelete, op, 0, err, "delete lock info %d", id)
	}
	log.Debugf("removed lock %d", id)
	return nil
}

// GetPidForLock returns the process holding the lock called name, 0 if it is free
func (s *Session) GetPidForLock(ctx context.Context, name string) (int, error) {
	const op = "getPidForLock"
	countOp(op)

	id, found, err := s.lookupLock(ctx, op, s.codec.EncodeString(name))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, newError(KindNotFound, op, 0, nil, "no lock named %q", name)
	}
	info, _, err := s.readLockInfo(ctx, op, id)
	if err != nil {
		return 0, err
	}
	if !info.Held(s.clock.Now()) {
		return 0, nil
	}
	return info.PID, nil
}

// ReadLockInformation returns the recorded state of lock id
func (s *Session) ReadLockInformation(ctx context.Context, id uint64) (LockInfo, error) {
	const op = "readLockInformation"
	countOp(op)
	info, _, err := s.readLockInfo(ctx, op, id)
	return info, err
}

// ListLocks returns every user defined lock ordered by id
func (s *Session) ListLocks(ctx context.Context) ([]LockInfo, error) {
	const op = "listLocks"
	countOp(op)

	keys, err := s.backend.ScanKeys(ctx, CatalogNamespace)
	if err != nil {
		return nil, newError(KindRead, op, 0, err, "scan catalog")
	}

	var (
		mu    sync.Mutex
		locks []LockInfo
	)
	var infoKeys []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefixLockInfo) {
			infoKeys = append(infoKeys, key)
		}
	}
	err = s.forEach(infoKeys, func(key string) error {
		id, err := parseID([]byte(strings.TrimPrefix(key, prefixLockInfo)))
		if err != nil {
			log.Warningf("skipping lock info row %s: %v", key, err)
			return nil
		}
		info, _, err := s.readLockInfo(ctx, op, id)
		if KindOf(err) == KindNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		locks = append(locks, info)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, passOrWrap(KindRead, op, 0, err, "list locks")
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].ID < locks[j].ID })
	return locks, nil
}
