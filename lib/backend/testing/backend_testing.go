package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
)

// Harness describes how to run the conformance suite against one engine
type Harness struct {
	// New creates a fresh, empty backend. Cleanup should be registered on t.
	New func(t testing.TB) backend.Backend
	// Advance moves the backend's clock forward. If nil, TTL tests sleep.
	Advance func(d time.Duration)
}

// RunBackendTests runs the conformance suite for a backend implementation.
func RunBackendTests(t *testing.T, name string, h Harness) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, h.New(t))
		})

		t.Run("PutIfAbsent", func(t *testing.T) {
			testPutIfAbsent(t, h.New(t))
		})

		t.Run("ConcurrentPutIfAbsent", func(t *testing.T) {
			testConcurrentPutIfAbsent(t, h.New(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, h.New(t))
		})

		t.Run("NamespaceIsolation", func(t *testing.T) {
			testNamespaceIsolation(t, h.New(t))
		})

		t.Run("ScanAndCount", func(t *testing.T) {
			testScanAndCount(t, h.New(t))
		})

		t.Run("DropNamespace", func(t *testing.T) {
			testDropNamespace(t, h.New(t))
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, h.New(t), h.Advance)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, h.New(t))
		})

		t.Run("Sequencer", func(t *testing.T) {
			testSequencer(t, h.New(t))
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, h.New(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireFeature skips the test if the backend lacks the feature
func requireFeature(t testing.TB, b backend.Backend, feature backend.Feature) {
	if !b.Capabilities().Has(feature) {
		t.Skipf("backend does not support %s", feature)
	}
}

func mustPut(t testing.TB, b backend.Backend, ns, key string, value []byte) {
	t.Helper()
	if err := b.Put(context.Background(), ns, key, value, 0); err != nil {
		t.Fatalf("Put(%s, %s) failed: %v", ns, key, err)
	}
}

func mustGet(t testing.TB, b backend.Backend, ns, key string) ([]byte, bool) {
	t.Helper()
	v, ok, err := b.Get(context.Background(), ns, key)
	if err != nil {
		t.Fatalf("Get(%s, %s) failed: %v", ns, key, err)
	}
	return v, ok
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, b backend.Backend) {
	defer b.Close()

	ns := "put_get"
	testKey := "dGVzdC1rZXk="
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	mustPut(t, b, ns, testKey, testValue1)

	result, exists := mustGet(t, b, ns, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Put", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	mustPut(t, b, ns, testKey, testValue2)

	result, exists = mustGet(t, b, ns, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after overwrite", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = mustGet(t, b, ns, "bm9uZXhpc3RlbnQ="); exists {
		t.Errorf("Expected nonexistent key to return found=false")
	}

	retrieved, _ := mustGet(t, b, ns, testKey)
	retrieved[0] = 'X'
	original, _ := mustGet(t, b, ns, testKey)
	if bytes.Equal(retrieved, original) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	if b.Capabilities().Has(backend.FeatureRawValues) {
		binary := []byte{0, 1, 2, 0xff, '\n', ' ', 0}
		mustPut(t, b, ns, "YmluYXJ5", binary)
		if got, _ := mustGet(t, b, ns, "YmluYXJ5"); !bytes.Equal(got, binary) {
			t.Errorf("raw value round trip failed: got %v, want %v", got, binary)
		}
	}
}

func testPutIfAbsent(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	ns := "put_if_absent"
	created, err := b.PutIfAbsent(ctx, ns, "lock", []byte("owner-1"), 0)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if !created {
		t.Errorf("Expected first PutIfAbsent to create the key")
	}

	created, err = b.PutIfAbsent(ctx, ns, "lock", []byte("owner-2"), 0)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if created {
		t.Errorf("Expected second PutIfAbsent to report an existing key")
	}

	if v, _ := mustGet(t, b, ns, "lock"); !bytes.Equal(v, []byte("owner-1")) {
		t.Errorf("PutIfAbsent must not overwrite, got %s", v)
	}

	if err := b.Delete(ctx, ns, "lock"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	created, err = b.PutIfAbsent(ctx, ns, "lock", []byte("owner-3"), 0)
	if err != nil || !created {
		t.Errorf("Expected PutIfAbsent after Delete to create the key (created=%v, err=%v)", created, err)
	}
}

func testConcurrentPutIfAbsent(t *testing.T, b backend.Backend) {
	defer b.Close()
	requireFeature(t, b, backend.FeatureAtomicCreate)

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			created, err := b.PutIfAbsent(context.Background(), "race", "key", []byte(fmt.Sprintf("owner-%d", i)), 0)
			if err != nil {
				t.Errorf("PutIfAbsent failed: %v", err)
				return
			}
			if created {
				winners.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if n := winners.Load(); n != 1 {
		t.Errorf("Expected exactly one winner, got %d", n)
	}
}

func testDelete(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	ns := "delete"
	mustPut(t, b, ns, "a2V5", []byte("value"))

	if err := b.Delete(ctx, ns, "a2V5"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, exists := mustGet(t, b, ns, "a2V5"); exists {
		t.Errorf("Expected key to be gone after Delete")
	}
	if err := b.Delete(ctx, ns, "a2V5"); err != nil {
		t.Errorf("Deleting a missing key must not fail, got %v", err)
	}
	if err := b.Delete(ctx, "never_written", "a2V5"); err != nil {
		t.Errorf("Deleting from an unknown namespace must not fail, got %v", err)
	}
}

func testNamespaceIsolation(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	mustPut(t, b, "ns_a", "shared", []byte("a"))
	mustPut(t, b, "ns_b", "shared", []byte("b"))
	mustPut(t, b, "ns_ab", "x", []byte("ab"))

	if v, _ := mustGet(t, b, "ns_a", "shared"); string(v) != "a" {
		t.Errorf("ns_a value = %s, want a", v)
	}
	if v, _ := mustGet(t, b, "ns_b", "shared"); string(v) != "b" {
		t.Errorf("ns_b value = %s, want b", v)
	}

	n, err := b.CountEntries(ctx, "ns_a")
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountEntries(ns_a) = %d, want 1 (prefix namespaces must not leak)", n)
	}

	if err := b.Delete(ctx, "ns_a", "shared"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, exists := mustGet(t, b, "ns_b", "shared"); !exists {
		t.Errorf("Delete in ns_a must not touch ns_b")
	}
}

func testScanAndCount(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	ns := "scan"
	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%03d", i)
		want = append(want, key)
		mustPut(t, b, ns, key, []byte(key))
	}
	mustPut(t, b, "scan_other", "key-999", []byte("other"))

	keys, err := b.ScanKeys(ctx, ns)
	if err != nil {
		t.Fatalf("ScanKeys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != len(want) {
		t.Fatalf("ScanKeys returned %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("ScanKeys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	n, err := b.CountEntries(ctx, ns)
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if n != len(want) {
		t.Errorf("CountEntries = %d, want %d", n, len(want))
	}

	empty, err := b.ScanKeys(ctx, "scan_empty")
	if err != nil {
		t.Fatalf("ScanKeys on empty namespace failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no keys in an empty namespace, got %v", empty)
	}
}

func testDropNamespace(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	if !b.Capabilities().Has(backend.FeatureBulkDrop) {
		if err := b.DropNamespace(ctx, "drop"); !errors.Is(err, backend.ErrUnsupported) {
			t.Errorf("DropNamespace without FeatureBulkDrop should return ErrUnsupported, got %v", err)
		}
		return
	}

	for i := 0; i < 20; i++ {
		mustPut(t, b, "drop", fmt.Sprintf("k%d", i), []byte("v"))
	}
	mustPut(t, b, "drop_keep", "k0", []byte("v"))

	if err := b.DropNamespace(ctx, "drop"); err != nil {
		t.Fatalf("DropNamespace failed: %v", err)
	}
	if n, _ := b.CountEntries(ctx, "drop"); n != 0 {
		t.Errorf("Expected dropped namespace to be empty, got %d entries", n)
	}
	if _, exists := mustGet(t, b, "drop_keep", "k0"); !exists {
		t.Errorf("DropNamespace must not touch other namespaces")
	}

	// the namespace is usable again
	mustPut(t, b, "drop", "k0", []byte("again"))
	if v, _ := mustGet(t, b, "drop", "k0"); string(v) != "again" {
		t.Errorf("Expected namespace to be writable after drop, got %s", v)
	}
}

func testKeyExpiry(t *testing.T, b backend.Backend, advance func(time.Duration)) {
	defer b.Close()
	requireFeature(t, b, backend.FeatureNativeTTL)
	ctx := context.Background()

	ns := "ttl"
	if err := b.Put(ctx, ns, "short", []byte("v"), time.Second); err != nil {
		t.Fatalf("Put with ttl failed: %v", err)
	}
	mustPut(t, b, ns, "forever", []byte("v"))
	if created, err := b.PutIfAbsent(ctx, ns, "lease", []byte("v"), time.Second); err != nil || !created {
		t.Fatalf("PutIfAbsent with ttl failed: created=%v err=%v", created, err)
	}

	if _, exists := mustGet(t, b, ns, "short"); !exists {
		t.Errorf("Key should exist before its ttl elapsed")
	}

	if advance != nil {
		advance(2 * time.Second)
	} else {
		time.Sleep(2100 * time.Millisecond)
	}

	if _, exists := mustGet(t, b, ns, "short"); exists {
		t.Errorf("Key should be gone after its ttl elapsed")
	}
	if _, exists := mustGet(t, b, ns, "forever"); !exists {
		t.Errorf("Key without ttl should still exist")
	}

	// an expired key is free for PutIfAbsent again
	created, err := b.PutIfAbsent(ctx, ns, "lease", []byte("next"), 0)
	if err != nil || !created {
		t.Errorf("Expected PutIfAbsent on an expired key to succeed (created=%v, err=%v)", created, err)
	}

	keys, err := b.ScanKeys(ctx, ns)
	if err != nil {
		t.Fatalf("ScanKeys failed: %v", err)
	}
	for _, k := range keys {
		if k == "short" {
			t.Errorf("ScanKeys must not return expired keys")
		}
	}
}

func testEdgeCases(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	ns := "edge"

	// empty value
	mustPut(t, b, ns, "ZW1wdHk=", []byte{})
	v, exists := mustGet(t, b, ns, "ZW1wdHk=")
	if !exists {
		t.Errorf("Expected key with empty value to exist")
	}
	if len(v) != 0 {
		t.Errorf("Expected empty value, got %v", v)
	}

	// base64 alphabet characters in keys
	keys := []string{"A-_z", "x==", "dps_name_of_this_store"}
	if !b.Capabilities().Has(backend.FeatureRestrictedKeys) {
		keys = append(keys, "a+b=", "a/b/c")
	}
	for _, k := range keys {
		mustPut(t, b, ns, k, []byte(k))
		if got, ok := mustGet(t, b, ns, k); !ok || string(got) != k {
			t.Errorf("key %q did not round trip: ok=%v value=%s", k, ok, got)
		}
	}

	// large value
	large := bytes.Repeat([]byte("0123456789"), 10_000)
	mustPut(t, b, ns, "bGFyZ2U=", large)
	if got, _ := mustGet(t, b, ns, "bGFyZ2U="); !bytes.Equal(got, large) {
		t.Errorf("large value did not round trip (len %d, want %d)", len(got), len(large))
	}

	// invalid namespaces
	if err := b.Put(ctx, "", "k", []byte("v"), 0); !errors.Is(err, backend.ErrInvalidNamespace) {
		t.Errorf("Expected ErrInvalidNamespace for an empty namespace, got %v", err)
	}
	if err := b.Put(ctx, "a/b", "k", []byte("v"), 0); !errors.Is(err, backend.ErrInvalidNamespace) {
		t.Errorf("Expected ErrInvalidNamespace for a namespace with '/', got %v", err)
	}

	// cancelled context
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := b.Put(cctx, ns, "Y2FuY2Vs", []byte("v"), 0); err == nil {
		t.Errorf("Expected Put with a cancelled context to fail")
	}
}

func testSequencer(t *testing.T, b backend.Backend) {
	defer b.Close()
	seq, ok := b.(backend.Sequencer)
	if !ok {
		t.Skip("backend is not a Sequencer")
	}
	ctx := context.Background()

	seen := make(map[uint64]bool)
	var last uint64
	for i := 0; i < 100; i++ {
		id, err := seq.NextID(ctx, "seq")
		if err != nil {
			t.Fatalf("NextID failed: %v", err)
		}
		if id == 0 {
			t.Errorf("NextID must never return 0")
		}
		if seen[id] {
			t.Errorf("NextID returned duplicate %d", id)
		}
		if id <= last {
			t.Errorf("NextID must increase, got %d after %d", id, last)
		}
		seen[id] = true
		last = id
	}
}

func testRealisticUsage(t *testing.T, b backend.Backend) {
	defer b.Close()
	ctx := context.Background()

	const (
		workers = 8
		perWork = 50
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ns := fmt.Sprintf("realistic_%d", w%2)
			for i := 0; i < perWork; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				if err := b.Put(ctx, ns, key, []byte(key), 0); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
				v, ok, err := b.Get(ctx, ns, key)
				if err != nil || !ok || string(v) != key {
					t.Errorf("Get(%s) = (%s, %v, %v)", key, v, ok, err)
					return
				}
				if i%5 == 0 {
					if err := b.Delete(ctx, ns, key); err != nil {
						t.Errorf("Delete failed: %v", err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, ns := range []string{"realistic_0", "realistic_1"} {
		n, err := b.CountEntries(ctx, ns)
		if err != nil {
			t.Fatalf("CountEntries failed: %v", err)
		}
		total += n
	}
	if want := workers * (perWork - perWork/5); total != want {
		t.Errorf("Expected %d remaining entries, got %d", want, total)
	}
}
