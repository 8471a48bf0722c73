package util

import (
	"math/rand"
	"sort"
	"testing"
)

func TestDeadlineHeapOrdering(t *testing.T) {
	h := NewDeadlineHeap()
	h.Schedule(1, 300)
	h.Schedule(2, 100)
	h.Schedule(3, 200)

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}

	key, at, ok := h.Peek()
	if !ok || key != 2 || at != 100 {
		t.Errorf("Peek() = (%d, %d, %v), want (2, 100, true)", key, at, ok)
	}

	due := h.PopDue(200)
	if len(due) != 2 || due[0] != 2 || due[1] != 3 {
		t.Errorf("PopDue(200) = %v, want [2 3]", due)
	}
	if h.Len() != 1 {
		t.Errorf("Len() after PopDue = %d, want 1", h.Len())
	}
}

func TestDeadlineHeapReschedule(t *testing.T) {
	h := NewDeadlineHeap()
	h.Schedule(1, 100)
	h.Schedule(2, 200)
	h.Schedule(1, 300)

	if h.Len() != 2 {
		t.Fatalf("rescheduling must not add a duplicate, Len() = %d", h.Len())
	}
	if at, ok := h.Deadline(1); !ok || at != 300 {
		t.Errorf("Deadline(1) = (%d, %v), want (300, true)", at, ok)
	}
	if key, _, _ := h.Peek(); key != 2 {
		t.Errorf("Peek() key = %d, want 2", key)
	}
}

func TestDeadlineHeapCancel(t *testing.T) {
	h := NewDeadlineHeap()
	h.Schedule(1, 100)
	h.Schedule(2, 50)

	if !h.Cancel(2) {
		t.Errorf("Cancel(2) should report true")
	}
	if h.Cancel(2) {
		t.Errorf("second Cancel(2) should report false")
	}
	if _, ok := h.Deadline(2); ok {
		t.Errorf("cancelled key must not have a deadline")
	}
	if due := h.PopDue(1000); len(due) != 1 || due[0] != 1 {
		t.Errorf("PopDue = %v, want [1]", due)
	}
	if _, _, ok := h.Peek(); ok {
		t.Errorf("heap should be empty")
	}
}

func TestDeadlineHeapRandomized(t *testing.T) {
	h := NewDeadlineHeap()
	r := rand.New(rand.NewSource(42))
	want := make(map[UintKey]int64)

	for i := 0; i < 1000; i++ {
		key := UintKey(r.Intn(200))
		at := r.Int63n(10_000)
		h.Schedule(key, at)
		want[key] = at
		if r.Intn(10) == 0 {
			h.Cancel(key)
			delete(want, key)
		}
	}

	if h.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", h.Len(), len(want))
	}

	due := h.PopDue(10_000)
	if len(due) != len(want) {
		t.Fatalf("PopDue returned %d keys, want %d", len(due), len(want))
	}
	deadlines := make([]int64, len(due))
	for i, k := range due {
		deadlines[i] = want[k]
	}
	if !sort.SliceIsSorted(deadlines, func(i, j int) bool { return deadlines[i] < deadlines[j] }) {
		t.Errorf("keys were not popped in deadline order")
	}
}

func TestHashing(t *testing.T) {
	if HashString("abc", 1) == HashString("abc", 2) {
		t.Errorf("different seeds should give different hashes")
	}
	if HashParts(0, "ns", "key") == HashParts(0, "nsk", "ey") {
		t.Errorf("HashParts must separate its parts")
	}
	if StableID("orders") != StableID("orders") {
		t.Errorf("StableID must be deterministic")
	}
	if id := StableID("orders"); id == 0 || id>>63 != 0 {
		t.Errorf("StableID out of range: %d", id)
	}
}
