package util

import "container/heap"

// DeadlineHeap is a min-heap of keys ordered by a deadline (unix milliseconds)
// with O(1) lookup by key. Scheduling a key that is already present moves it.
//
// Thread-safety: not thread-safe. Each maple shard owns one heap and only its
// collector goroutine touches it.
type DeadlineHeap struct {
	entries []*deadline
	byKey   map[UintKey]*deadline
}

type deadline struct {
	key   UintKey
	at    int64
	index int
}

// NewDeadlineHeap returns an empty heap
func NewDeadlineHeap() *DeadlineHeap {
	return &DeadlineHeap{byKey: make(map[UintKey]*deadline)}
}

// heap.Interface, operating on the entries slice

func (h *DeadlineHeap) Len() int           { return len(h.entries) }
func (h *DeadlineHeap) Less(i, j int) bool { return h.entries[i].at < h.entries[j].at }
func (h *DeadlineHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *DeadlineHeap) Push(x any) {
	d := x.(*deadline)
	d.index = len(h.entries)
	h.entries = append(h.entries, d)
	h.byKey[d.key] = d
}

func (h *DeadlineHeap) Pop() any {
	n := len(h.entries)
	d := h.entries[n-1]
	h.entries[n-1] = nil
	h.entries = h.entries[:n-1]
	d.index = -1
	delete(h.byKey, d.key)
	return d
}

// Schedule sets the deadline of key to at, adding the key if needed
func (h *DeadlineHeap) Schedule(key UintKey, at int64) {
	if d, ok := h.byKey[key]; ok {
		d.at = at
		heap.Fix(h, d.index)
		return
	}
	heap.Push(h, &deadline{key: key, at: at})
}

// Cancel removes key from the heap and reports whether it was scheduled
func (h *DeadlineHeap) Cancel(key UintKey) bool {
	d, ok := h.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(h, d.index)
	return true
}

// Deadline returns the scheduled deadline of key
func (h *DeadlineHeap) Deadline(key UintKey) (int64, bool) {
	d, ok := h.byKey[key]
	if !ok {
		return 0, false
	}
	return d.at, true
}

// Peek returns the key with the earliest deadline without removing it
func (h *DeadlineHeap) Peek() (UintKey, int64, bool) {
	if len(h.entries) == 0 {
		return 0, 0, false
	}
	return h.entries[0].key, h.entries[0].at, true
}

// PopDue removes and returns every key whose deadline is <= now, earliest first
func (h *DeadlineHeap) PopDue(now int64) []UintKey {
	var due []UintKey
	for len(h.entries) > 0 && h.entries[0].at <= now {
		due = append(due, heap.Pop(h).(*deadline).key)
	}
	return due
}
