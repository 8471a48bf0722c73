package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for in-process hash distribution.
// Values derived from it must never be persisted or shared between processes.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is the hashed form of a key used to address shard maps
type UintKey uint64

// HashString hashes s with FNV-1a, mixing in seed
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return UintKey(hash)
}

// HashParts hashes the concatenation of parts with a zero byte between them.
// It avoids building the joined string for composite keys like namespace+key.
func HashParts(seed uint64, parts ...string) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i, p := range parts {
		if i > 0 {
			hash *= prime64 // separator (xor with 0 is a no-op)
		}
		for j := 0; j < len(p); j++ {
			hash ^= uint64(p[j])
			hash *= prime64
		}
	}
	return UintKey(hash)
}

// StableID derives a positive identifier from s that is identical in every
// process. The top bit is cleared so the id also fits signed 64 bit columns,
// and zero is never returned.
func StableID(s string) uint64 {
	id := uint64(HashString(s, 0)) &^ (1 << 63)
	if id == 0 {
		return 1
	}
	return id
}
