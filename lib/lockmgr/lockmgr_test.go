package lockmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/maple"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ns = "dps_lock"

// plainKV hides native ttl and atomic create of the wrapped backend, like an
// object store would
type plainKV struct {
	backend.Backend
}

func (p plainKV) PutIfAbsent(ctx context.Context, ns, key string, value []byte, _ time.Duration) (bool, error) {
	_, found, err := p.Backend.Get(ctx, ns, key)
	if err != nil || found {
		return false, err
	}
	return true, p.Backend.Put(ctx, ns, key, value, 0)
}

func (p plainKV) Put(ctx context.Context, ns, key string, value []byte, _ time.Duration) error {
	return p.Backend.Put(ctx, ns, key, value, 0)
}

func (p plainKV) Capabilities() backend.Capabilities {
	return backend.Capabilities{Features: backend.FeatureRawValues, Consistency: backend.ConsistencyStrong}
}

func newMaple(t *testing.T, clk clock.Clock) *maple.MapleDB {
	t.Helper()
	db := maple.NewMapleDB(&maple.DBOptions{Clock: clk})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{Signature: "42-abc-def-123", AcquiredAt: 1000, ExpiresAt: 6000}
	parsed, err := ParseRecord(rec.Encode())
	require.NoError(t, err)
	assert.Equal(t, rec, parsed)
	assert.Equal(t, 42, parsed.Holder())
	assert.False(t, parsed.Expired(5999))
	assert.True(t, parsed.Expired(6000))
}

func TestParseRecordRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "sig", "sig|1", "|1|2", "sig|x|2", "sig|1|y", "a|1|2|3"} {
		_, err := ParseRecord([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedRecord, "input %q", raw)
	}
}

func TestSignaturesAreUnique(t *testing.T) {
	id := NewIdentity()
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		sig := id.signature(now)
		require.False(t, seen[sig], "duplicate signature %s", sig)
		seen[sig] = true
	}
}

func TestAcquireAndRelease(t *testing.T) {
	for name, wrap := range map[string]func(backend.Backend) backend.Backend{
		"native":   func(b backend.Backend) backend.Backend { return b },
		"emulated": func(b backend.Backend) backend.Backend { return plainKV{b} },
	} {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewManual(time.Now())
			b := wrap(newMaple(t, clk))
			ctx := context.Background()

			a := New(b, Options{Namespace: ns, Clock: clk})
			other := New(b, Options{Namespace: ns, Clock: clk})

			lease, err := a.Acquire(ctx, "4_1", time.Minute, time.Second)
			require.NoError(t, err)
			assert.Equal(t, 1, lease.Attempts)

			_, err = other.Acquire(ctx, "4_1", time.Minute, time.Second)
			assert.ErrorIs(t, err, ErrTimeout)

			rec, found, err := other.Inspect(ctx, "4_1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, lease.Record.Signature, rec.Signature)

			released, err := other.ReleaseLease(ctx, Lease{Key: "4_1", Record: Record{Signature: "not-mine"}})
			require.NoError(t, err)
			assert.False(t, released, "a foreign lease must not release the lock")

			released, err = a.ReleaseLease(ctx, lease)
			require.NoError(t, err)
			assert.True(t, released)

			_, err = other.Acquire(ctx, "4_1", time.Minute, time.Second)
			require.NoError(t, err)
		})
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	for name, wrap := range map[string]func(backend.Backend) backend.Backend{
		"native":   func(b backend.Backend) backend.Backend { return b },
		"emulated": func(b backend.Backend) backend.Backend { return plainKV{b} },
	} {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewManual(time.Now())
			b := wrap(newMaple(t, clk))
			ctx := context.Background()

			crashed := New(b, Options{Namespace: ns, Clock: clk})
			_, err := crashed.Acquire(ctx, "7_9", 2*time.Second, 0)
			require.NoError(t, err)

			// the holder never releases, the waiter's backoff moves the clock past the lease
			next := New(b, Options{Namespace: ns, Clock: clk})
			lease, err := next.Acquire(ctx, "7_9", time.Minute, 10*time.Second)
			require.NoError(t, err)
			assert.Greater(t, lease.Attempts, 1)
			if name == "emulated" {
				assert.True(t, lease.Stolen)
			}
		})
	}
}

func TestMalformedRecordIsReclaimed(t *testing.T) {
	clk := clock.NewManual(time.Now())
	b := plainKV{newMaple(t, clk)}
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, ns, "broken", []byte("garbage"), 0))

	lease, err := New(b, Options{Namespace: ns, Clock: clk}).Acquire(ctx, "broken", time.Minute, 0)
	require.NoError(t, err)
	assert.True(t, lease.Stolen)
}

func TestAcquireHonoursDeadlineAndAttempts(t *testing.T) {
	clk := clock.NewManual(time.Now())
	b := newMaple(t, clk)
	ctx := context.Background()

	_, err := New(b, Options{Namespace: ns, Clock: clk}).Acquire(ctx, "k", time.Hour, 0)
	require.NoError(t, err)

	start := clk.Now()
	_, err = New(b, Options{Namespace: ns, Clock: clk}).Acquire(ctx, "k", time.Hour, 3*time.Second)
	require.ErrorIs(t, err, ErrTimeout)
	waited := clk.Now().Sub(start)
	assert.GreaterOrEqual(t, waited, 3*time.Second)
	assert.Less(t, waited, 4*time.Second, "the wait must stop at the deadline")

	_, err = New(b, Options{Namespace: ns, Clock: clk, MaxAttempts: 3}).Acquire(ctx, "k", time.Hour, time.Hour)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestAcquireStopsOnCancelledContext(t *testing.T) {
	b := newMaple(t, clock.Real{})
	mgr := New(b, Options{Namespace: ns})
	_, err := mgr.Acquire(context.Background(), "k", time.Hour, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = mgr.Acquire(ctx, "k", time.Hour, time.Hour)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMutualExclusion(t *testing.T) {
	b := newMaple(t, clock.Real{})
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
		total   atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr := New(b, Options{
				Namespace: ns,
				Backoff:   Backoff{Initial: 100 * time.Microsecond, Max: 2 * time.Millisecond, Multiplier: 2, Jitter: 0.5},
			})
			for j := 0; j < 5; j++ {
				lease, err := mgr.Acquire(ctx, "shared", time.Minute, 10*time.Second)
				if err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				n := holders.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(200 * time.Microsecond)
				holders.Add(-1)
				total.Add(1)
				if err := mgr.Release(ctx, lease.Key); err != nil {
					t.Errorf("release failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load(), "two holders at once")
	assert.Equal(t, int32(workers*5), total.Load())
}
