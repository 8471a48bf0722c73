package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTTLScenario(t *testing.T) {
	forEachFixture(t, func(t *testing.T, s *Session, clk *clock.Manual, f fixture) {
		if f.wallClockTTL {
			t.Skip("expiry follows the wall clock")
		}
		ctx := context.Background()
		key, value := []byte("session:9"), []byte(`{"user":9}`)

		require.NoError(t, s.PutTTL(ctx, key, value, 2*time.Second))

		clk.Advance(time.Second)
		got, err := s.GetTTL(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, got)
		ok, err := s.HasTTL(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)

		clk.Advance(2 * time.Second)
		_, err = s.GetTTL(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
		ok, err = s.HasTTL(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTTLBasics(t *testing.T) {
	forEachFixture(t, func(t *testing.T, s *Session, clk *clock.Manual, _ fixture) {
		ctx := context.Background()

		// zero means (practically) forever
		require.NoError(t, s.PutTTL(ctx, []byte("forever"), []byte("v"), 0))
		clk.Advance(365 * 24 * time.Hour)
		got, err := s.GetTTL(ctx, []byte("forever"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		require.NoError(t, s.PutTTL(ctx, []byte("gone"), []byte("v"), time.Hour))
		require.NoError(t, s.RemoveTTL(ctx, []byte("gone")))
		_, err = s.GetTTL(ctx, []byte("gone"))
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, s.RemoveTTL(ctx, []byte("gone")))

		require.NoError(t, s.PutTTL(ctx, []byte("bin"), []byte{0x00, 0xff}, time.Hour))
		got, err = s.GetTTL(ctx, []byte("bin"))
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0xff}, got)
	})
}

func TestExpiredEnvelopeIsDeletedOnRead(t *testing.T) {
	clk := clock.NewManual(time.Now())
	s := newSession(t, plainKV{openMaple(t, clk, 0)}, Config{Clock: clk})
	ctx := context.Background()

	require.NoError(t, s.PutTTL(ctx, []byte("k"), []byte("v"), time.Second))
	clk.Advance(2 * time.Second)

	_, err := s.GetTTL(ctx, []byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
	n, err := s.backend.CountEntries(ctx, TTLNamespace)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReapExpired(t *testing.T) {
	clk := clock.NewManual(time.Now())
	s := newSession(t, plainKV{openMaple(t, clk, 0)}, Config{Clock: clk})
	ctx := context.Background()

	require.NoError(t, s.PutTTL(ctx, []byte("short-1"), []byte("v"), time.Second))
	require.NoError(t, s.PutTTL(ctx, []byte("short-2"), []byte("v"), time.Second))
	require.NoError(t, s.PutTTL(ctx, []byte("long"), []byte("v"), time.Hour))
	clk.Advance(2 * time.Second)

	n, err := s.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := s.backend.CountEntries(ctx, TTLNamespace)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestReaperLifecycle(t *testing.T) {
	native, _ := newMapleSession(t)
	assert.False(t, native.StartReaper(context.Background()), "native ttl needs no reaper")

	clk := clock.NewManual(time.Now())
	s := newSession(t, plainKV{openMaple(t, clk, 0)}, Config{Clock: clk, ReapInterval: 5 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, s.PutTTL(ctx, []byte("k"), []byte("v"), time.Second))
	clk.Advance(2 * time.Second)

	require.True(t, s.StartReaper(ctx))
	assert.False(t, s.StartReaper(ctx), "only one reaper per session")

	assert.Eventually(t, func() bool {
		n, err := s.backend.CountEntries(ctx, TTLNamespace)
		return err == nil && n == 0
	}, 2*time.Second, 5*time.Millisecond)

	s.StopReaper()
	s.StopReaper()
	assert.True(t, s.StartReaper(ctx), "a stopped reaper can be started again")
}

// namespaceTTLKV expires per namespace instead of per key
type namespaceTTLKV struct {
	plainKV
	mu   sync.Mutex
	ttls map[string]time.Duration
	sets int
}

func (n *namespaceTTLKV) SetNamespaceTTL(_ context.Context, ns string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ttls[ns] = ttl
	n.sets++
	return nil
}

func (n *namespaceTTLKV) NamespaceTTL(_ context.Context, ns string) (time.Duration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ttls[ns], nil
}

func (n *namespaceTTLKV) Capabilities() backend.Capabilities {
	caps := n.plainKV.Capabilities()
	caps.Features |= backend.FeatureRawValues
	return caps
}

func TestNamespaceTTLIsReconciled(t *testing.T) {
	ctx := context.Background()
	b := &namespaceTTLKV{plainKV: plainKV{openMaple(t, clock.Real{}, 0)}, ttls: map[string]time.Duration{}}
	s := newSession(t, b, Config{})

	require.NoError(t, s.PutTTL(ctx, []byte("a"), []byte("1"), 2*time.Second))
	require.NoError(t, s.PutTTL(ctx, []byte("b"), []byte("2"), 2*time.Second))
	assert.Equal(t, 1, b.sets, "an unchanged ttl is not written again")
	assert.Equal(t, 2*time.Second, b.ttls[TTLNamespace])

	require.NoError(t, s.PutTTL(ctx, []byte("c"), []byte("3"), 0))
	assert.Equal(t, 2, b.sets)
	assert.Equal(t, ForeverTTL, b.ttls[TTLNamespace])

	// no envelope, the backend expires whole namespaces
	raw, found, err := b.Get(ctx, TTLNamespace, s.codec.EncodeString("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), raw)

	// the reconciliation lock is released
	_, held, err := s.locks.Inspect(ctx, ttlReconcileLockName)
	require.NoError(t, err)
	assert.False(t, held)
}
