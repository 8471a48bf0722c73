package store

import (
	"context"
	"sort"

	"github.com/rs/xid"
)

// IteratorState is the lifecycle position of an Iterator
type IteratorState uint8

const (
	IteratorFresh     IteratorState = iota // No snapshot taken yet
	IteratorPaging                         // Snapshot taken, keys left
	IteratorExhausted                      // Every key was returned
)

func (s IteratorState) String() string {
	switch s {
	case IteratorFresh:
		return "fresh"
	case IteratorPaging:
		return "paging"
	case IteratorExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Iterator walks the data entries of one store. The key set is snapshotted on
// the first call to GetNext, values are read one at a time. Keys deleted
// after the snapshot are skipped, keys added after it are not returned.
type Iterator struct {
	storeID uint64
	handle  xid.ID
	state   IteratorState
	keys    []string // encoded keys in ascending order
	cursor  int
}

// StoreID returns the store the iterator belongs to
func (it *Iterator) StoreID() uint64 { return it.storeID }

// State returns the current state
func (it *Iterator) State() IteratorState { return it.state }

// Handle returns the unique handle of the iterator
func (it *Iterator) Handle() string { return it.handle.String() }

// NewIterator returns a fresh iterator over store id
func (s *Session) NewIterator(ctx context.Context, id uint64) (*Iterator, error) {
	const op = "newIterator"
	countOp(op)
	if err := s.requireStore(ctx, op, id); err != nil {
		return nil, err
	}
	it := &Iterator{storeID: id, handle: xid.New(), state: IteratorFresh}
	log.Debugf("iterator %s created for store %d", it.handle, id)
	return it, nil
}

// GetNext returns the next key and value. ok is false once the iterator is
// exhausted or when it belongs to a different store than id.
func (s *Session) GetNext(ctx context.Context, id uint64, it *Iterator) (key, value []byte, ok bool, err error) {
	const op = "getNext"
	if it == nil || it.storeID != id || it.state == IteratorExhausted {
		return nil, nil, false, nil
	}

	ns := StoreNamespace(id)
	if it.state == IteratorFresh {
		all, err := s.backend.ScanKeys(ctx, ns)
		if err != nil {
			return nil, nil, false, newError(KindRead, op, id, err, "snapshot keys")
		}
		keys := make([]string, 0, len(all))
		for _, k := range all {
			if !isMetadataKey(k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		it.keys = keys
		it.state = IteratorPaging
		log.Debugf("iterator %s took a snapshot of %d keys", it.handle, len(keys))
	}

	for it.cursor < len(it.keys) {
		enc := it.keys[it.cursor]
		it.cursor++

		k, err := s.userKey(enc)
		if err != nil {
			log.Warningf("iterator %s: skipping undecodable key %s: %v", it.handle, enc, err)
			continue
		}
		v, found, err := s.readValue(ctx, op, id, enc)
		if err != nil {
			if KindOf(err) == KindRead {
				it.cursor--
			}
			return nil, nil, false, err
		}
		if !found {
			continue
		}
		if it.cursor == len(it.keys) {
			s.exhaust(it)
		}
		return k, v, true, nil
	}

	s.exhaust(it)
	return nil, nil, false, nil
}

func (s *Session) exhaust(it *Iterator) {
	it.state = IteratorExhausted
	it.keys = nil
}

// DeleteIterator discards an iterator. It fails with KindIteratorMismatch if
// the iterator belongs to another store.
func (s *Session) DeleteIterator(id uint64, it *Iterator) error {
	const op = "deleteIterator"
	if it == nil {
		return nil
	}
	if it.storeID != id {
		return newError(KindIteratorMismatch, op, id, nil, "iterator %s belongs to store %d", it.handle, it.storeID)
	}
	s.exhaust(it)
	return nil
}
