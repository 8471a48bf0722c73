package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Namespaces
// --------------------------------------------------------------------------

const (
	CatalogNamespace   = "dps_and_dl_guid"         // Store names, lock names and lock info
	LockNamespace      = "dps_lock"                // Lock records of all lock classes
	TTLNamespace       = "dps_ttl_kv_global_store" // Items written with PutTTL
	TrackerNamespace   = "dps_store_id_tracker"    // Claimed store ids on id allocating backends
	storeNamespaceBase = "dps_store_"
)

// StoreNamespace returns the namespace holding the contents of store id
func StoreNamespace(id uint64) string {
	return storeNamespaceBase + strconv.FormatUint(id, 10)
}

// --------------------------------------------------------------------------
// Key Prefixes
// --------------------------------------------------------------------------

// Single character type prefixes in front of catalog and lock keys
const (
	prefixStoreName      = "0"   // catalog: enc(name) -> store id
	prefixStoreLock      = "4"   // locks: store id
	prefixLockName       = "5"   // catalog: enc(lock name) -> lock id
	prefixLockInfo       = "6"   // catalog: lock id -> lock info
	prefixUserLock       = "7"   // locks: lock id
	prefixGeneralLock    = "501" // locks: enc(name)
	ttlReconcileLockName = prefixGeneralLock + TTLNamespace
)

// Metadata keys inside every store namespace
const (
	metaStoreName = "dps_name_of_this_store"
	metaKeyType   = "dps_spl_type_name_of_key"
	metaValueType = "dps_spl_type_name_of_value"
	metadataCount = 3
)

var metadataKeys = [metadataCount]string{metaStoreName, metaKeyType, metaValueType}

// escapeSuffix is appended to a data key token that collides with a metadata
// key. Neither base64 alphabet contains it.
const escapeSuffix = "."

func isMetadataKey(key string) bool {
	return key == metaStoreName || key == metaKeyType || key == metaValueType
}

func storeNameKey(encName string) string { return prefixStoreName + encName }
func lockNameKey(encName string) string  { return prefixLockName + encName }
func lockInfoKey(id uint64) string       { return prefixLockInfo + strconv.FormatUint(id, 10) }
func storeLockKey(id uint64) string      { return prefixStoreLock + strconv.FormatUint(id, 10) }
func userLockKey(id uint64) string       { return prefixUserLock + strconv.FormatUint(id, 10) }
func generalLockKey(encName string) string {
	return prefixGeneralLock + encName
}

func formatID(id uint64) []byte {
	return []byte(strconv.FormatUint(id, 10))
}

func parseID(raw []byte) (uint64, error) {
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("id 0 is reserved")
	}
	return id, nil
}

// --------------------------------------------------------------------------
// Lock Info
// --------------------------------------------------------------------------

const lockInfoSeparator = "_"

// LockInfo describes a user defined lock
type LockInfo struct {
	ID         uint64
	Name       string
	UsageCount uint64    // 1 while held, 0 when free
	ExpiresAt  time.Time // Zero when free
	PID        int       // Process holding the lock, 0 when free
}

// Held reports whether the lock was taken and its lease has not ended at now
func (l LockInfo) Held(now time.Time) bool {
	return l.UsageCount > 0 && now.Before(l.ExpiresAt)
}

// encodeLockInfo renders "usage_expiryMs_pid_encName"
func encodeLockInfo(usage uint64, expires time.Time, pid int, encName string) []byte {
	var expiryMs int64
	if !expires.IsZero() {
		expiryMs = expires.UnixMilli()
	}
	return []byte(strconv.FormatUint(usage, 10) + lockInfoSeparator +
		strconv.FormatInt(expiryMs, 10) + lockInfoSeparator +
		strconv.Itoa(pid) + lockInfoSeparator +
		encName)
}

// decodeLockInfo parses a lock info value. The encoded name is returned as
// is, it may itself contain the separator when the URL safe alphabet is used.
func decodeLockInfo(raw []byte) (usage uint64, expires time.Time, pid int, encName string, err error) {
	parts := strings.SplitN(string(raw), lockInfoSeparator, 4)
	if len(parts) != 4 {
		return 0, time.Time{}, 0, "", fmt.Errorf("lock info %q has %d fields, expected 4", raw, len(parts))
	}
	if usage, err = strconv.ParseUint(parts[0], 10, 64); err != nil {
		return 0, time.Time{}, 0, "", fmt.Errorf("lock info usage: %w", err)
	}
	expiryMs, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, 0, "", fmt.Errorf("lock info expiry: %w", err)
	}
	if expiryMs > 0 {
		expires = time.UnixMilli(expiryMs)
	}
	if pid, err = strconv.Atoi(parts[2]); err != nil {
		return 0, time.Time{}, 0, "", fmt.Errorf("lock info pid: %w", err)
	}
	return usage, expires, pid, parts[3], nil
}
