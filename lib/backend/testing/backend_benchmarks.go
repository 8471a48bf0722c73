package testing

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
)

const benchNamespace = "bench"

// RunBackendBenchmarks runs all benchmarks for a backend implementation
func RunBackendBenchmarks(b *testing.B, name string, h Harness) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, h.New(b))
		})

		b.Run("PutExisting", func(b *testing.B) {
			benchmarkPutExisting(b, h.New(b))
		})

		b.Run("PutLargeValue", func(b *testing.B) {
			benchmarkPutLargeValue(b, h.New(b))
		})

		b.Run("PutWithTTL", func(b *testing.B) {
			benchmarkPutWithTTL(b, h.New(b))
		})

		b.Run("PutIfAbsent", func(b *testing.B) {
			benchmarkPutIfAbsent(b, h.New(b))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, h.New(b))
		})

		b.Run("Get(miss)", func(b *testing.B) {
			benchmarkGetMiss(b, h.New(b))
		})

		b.Run("Delete", func(b *testing.B) {
			benchmarkDelete(b, h.New(b))
		})

		b.Run("ScanKeys", func(b *testing.B) {
			benchmarkScanKeys(b, h.New(b))
		})

		b.Run("CountEntries", func(b *testing.B) {
			benchmarkCountEntries(b, h.New(b))
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, h.New(b))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// populate writes n entries named test-key-<i> and returns their keys
func populate(b *testing.B, db backend.Backend, n int) []string {
	b.Helper()
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		mustPut(b, db, benchNamespace, keys[i], []byte(fmt.Sprintf("test-value-%d", i)))
	}
	return keys
}

// reportErrors fails the benchmark if any operation returned an error
func reportErrors(b *testing.B, failures *atomic.Int64) {
	if n := failures.Load(); n > 0 {
		b.Errorf("%d operations failed", n)
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkPut(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	var next, failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := next.Add(1)
			if err := db.Put(ctx, benchNamespace, fmt.Sprintf("test-key-%d", i), []byte(fmt.Sprintf("test-value-%d", i)), 0); err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}

func benchmarkPutExisting(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	keys := populate(b, db, 1000)
	var next, failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := next.Add(1)
			if err := db.Put(ctx, benchNamespace, keys[int(i)%len(keys)], []byte(fmt.Sprintf("test-value-%d", i)), 0); err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}

func benchmarkPutLargeValue(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	largeValue := make([]byte, 256*1024)
	var next, failures atomic.Int64

	b.SetBytes(int64(len(largeValue)))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			// a bounded key set keeps the memory of in-memory engines in check
			key := fmt.Sprintf("test-large-key-%d", next.Add(1)%64)
			if err := db.Put(ctx, benchNamespace, key, largeValue, 0); err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}

func benchmarkPutWithTTL(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	requireFeature(b, db, backend.FeatureNativeTTL)
	ctx := context.Background()
	var next, failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := next.Add(1)
			ttl := time.Duration(1+i%60) * time.Minute
			if err := db.Put(ctx, benchNamespace, fmt.Sprintf("test-expiry-key-%d", i), []byte("v"), ttl); err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}

// benchmarkPutIfAbsent lets every second attempt hit an existing key, the
// pattern of contended lock acquisition
func benchmarkPutIfAbsent(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	var next, failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := next.Add(1)
			if _, err := db.PutIfAbsent(ctx, benchNamespace, fmt.Sprintf("test-lock-%d", i/2), []byte("owner"), 0); err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}

func benchmarkGet(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	keys := populate(b, db, 1000)
	var next, failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, _, err := db.Get(ctx, benchNamespace, keys[int(next.Add(1))%len(keys)]); err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}

func benchmarkGetMiss(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	var failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, _, err := db.Get(ctx, benchNamespace, "test-key"); err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}

func benchmarkDelete(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	keys := populate(b, db, min(b.N, 10000))
	var next, failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := db.Delete(ctx, benchNamespace, keys[int(next.Add(1)-1)%len(keys)]); err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}

// benchmarkScanKeys scans a namespace of 100 entries, the size of a small store
func benchmarkScanKeys(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	populate(b, db, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		keys, err := db.ScanKeys(ctx, benchNamespace)
		if err != nil {
			b.Fatalf("ScanKeys failed: %v", err)
		}
		if len(keys) != 100 {
			b.Fatalf("ScanKeys returned %d keys, expected 100", len(keys))
		}
	}
}

func benchmarkCountEntries(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	populate(b, db, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.CountEntries(ctx, benchNamespace); err != nil {
			b.Fatalf("CountEntries failed: %v", err)
		}
	}
}

// benchmarkMixedUsage runs 60% Get, 25% Put, 10% PutIfAbsent and 5% Delete
func benchmarkMixedUsage(b *testing.B, db backend.Backend) {
	b.Cleanup(func() { db.Close() })
	ctx := context.Background()
	keys := populate(b, db, 1000)
	var failures atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			key := keys[rnd.Intn(len(keys))]
			var err error
			switch p := rnd.Intn(100); {
			case p < 60:
				_, _, err = db.Get(ctx, benchNamespace, key)
			case p < 85:
				err = db.Put(ctx, benchNamespace, key, []byte("mixed-value"), 0)
			case p < 95:
				_, err = db.PutIfAbsent(ctx, benchNamespace, key, []byte("mixed-value"), 0)
			default:
				err = db.Delete(ctx, benchNamespace, key)
			}
			if err != nil {
				failures.Add(1)
			}
		}
	})
	reportErrors(b, &failures)
}
