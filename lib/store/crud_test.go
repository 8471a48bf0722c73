package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRUD(t *testing.T) {
	forEachFixture(t, func(t *testing.T, s *Session, _ *clock.Manual, _ fixture) {
		ctx := context.Background()
		id, err := s.CreateStore(ctx, "crud", "string", "bytes")
		require.NoError(t, err)

		tests := []struct {
			name  string
			key   []byte
			value []byte
		}{
			{"simple", []byte("k"), []byte("v")},
			{"empty value", []byte("empty"), []byte{}},
			{"binary key", []byte{0x00, 0xff, '/', '+'}, []byte("bin")},
			{"binary value", []byte("bv"), []byte{0x00, 0x01, 0xfe}},
			{"empty key", []byte{}, []byte("no key")},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				require.NoError(t, s.Put(ctx, id, tt.key, tt.value))
				// idempotent
				require.NoError(t, s.Put(ctx, id, tt.key, tt.value))

				got, err := s.Get(ctx, id, tt.key)
				require.NoError(t, err)
				assert.Equal(t, tt.value, got)

				ok, err := s.Has(ctx, id, tt.key)
				require.NoError(t, err)
				assert.True(t, ok)

				require.NoError(t, s.Remove(ctx, id, tt.key))
				require.NoError(t, s.Remove(ctx, id, tt.key), "removing a missing key succeeds")

				_, err = s.Get(ctx, id, tt.key)
				assert.ErrorIs(t, err, ErrNotFound)
				ok, err = s.Has(ctx, id, tt.key)
				require.NoError(t, err)
				assert.False(t, ok)
			})
		}
	})
}

func TestGetReturnsOwnedCopy(t *testing.T) {
	s, _ := newMapleSession(t)
	ctx := context.Background()
	id, err := s.CreateStore(ctx, "owned", "k", "v")
	require.NoError(t, err)

	value := []byte("original")
	require.NoError(t, s.Put(ctx, id, []byte("k"), value))
	value[0] = 'X'

	got, err := s.Get(ctx, id, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
	got[0] = 'Y'

	again, err := s.Get(ctx, id, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestSafeVariantsCheckTheStore(t *testing.T) {
	s, _ := newMapleSession(t)
	ctx := context.Background()
	const missing = 4242

	assert.ErrorIs(t, s.PutSafe(ctx, missing, []byte("k"), []byte("v")), ErrInvalidStoreID)
	_, err := s.GetSafe(ctx, missing, []byte("k"))
	assert.ErrorIs(t, err, ErrInvalidStoreID)
	_, err = s.HasSafe(ctx, missing, []byte("k"))
	assert.ErrorIs(t, err, ErrInvalidStoreID)
	assert.ErrorIs(t, s.RemoveSafe(ctx, missing, []byte("k")), ErrInvalidStoreID)

	// the fast path does not look
	require.NoError(t, s.Put(ctx, missing, []byte("k"), []byte("v")))

	id, err := s.CreateStore(ctx, "safe", "k", "v")
	require.NoError(t, err)
	require.NoError(t, s.PutSafe(ctx, id, []byte("k"), []byte("v")))
	got, err := s.GetSafe(ctx, id, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	ok, err := s.HasSafe(ctx, id, []byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.RemoveSafe(ctx, id, []byte("k")))

	// the store lock is released after every operation
	_, found, err := s.locks.Inspect(ctx, storeLockKey(id))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMaxValueSize(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, openMaple(t, clock.Real{}, 0), Config{MaxValueSize: 4})
	id, err := s.CreateStore(ctx, "small", "k", "v")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, id, []byte("ok"), []byte("1234")))
	require.NoError(t, s.Put(ctx, id, []byte("big"), []byte("12345")))

	_, err = s.Get(ctx, id, []byte("ok"))
	require.NoError(t, err)
	_, err = s.Get(ctx, id, []byte("big"))
	assert.ErrorIs(t, err, ErrAllocation)

	// iteration reads through the same path, "big" sorts before "ok"
	it, err := s.NewIterator(ctx, id)
	require.NoError(t, err)
	_, _, ok, err := s.GetNext(ctx, id, it)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.False(t, ok)

	key, value, ok, err := s.GetNext(ctx, id, it)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ok"), key)
	assert.Equal(t, []byte("1234"), value)
}

func TestClearStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy ClearStrategy
		wrap     func(backend.Backend) backend.Backend
		want     ClearStrategy
	}{
		{"auto on strong bulk drop", ClearAuto, nil, ClearDropRecreate},
		{"auto without bulk drop", ClearAuto, func(b backend.Backend) backend.Backend { return plainKV{b} }, ClearScanDelete},
		{"auto on eventual", ClearAuto, func(b backend.Backend) backend.Backend { return &laggyKV{Backend: b} }, ClearScanDelete},
		{"forced scan", ClearScanDelete, nil, ClearScanDelete},
		{"forced drop", ClearDropRecreate, nil, ClearDropRecreate},
		{"drop falls back", ClearDropRecreate, func(b backend.Backend) backend.Backend { return plainKV{b} }, ClearScanDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			var b backend.Backend = openMaple(t, clock.Real{}, 0)
			if tt.wrap != nil {
				b = tt.wrap(b)
			}
			s := newSession(t, b, Config{ClearStrategy: tt.strategy})
			assert.Equal(t, tt.want, s.clearStrategy())

			id, err := s.CreateStore(ctx, "clear", "string", "int")
			require.NoError(t, err)
			for i := 0; i < 20; i++ {
				require.NoError(t, s.Put(ctx, id, []byte(fmt.Sprint(i)), []byte("v")))
			}
			require.NoError(t, s.Clear(ctx, id))

			info, err := s.ReadStoreInformation(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, StoreInfo{ID: id, Name: "clear", KeyTag: "string", ValueTag: "int"}, info)
		})
	}
}

func TestDropRecreateRetriesOnEventualBackends(t *testing.T) {
	ctx := context.Background()

	t.Run("converges", func(t *testing.T) {
		b := &laggyKV{Backend: openMaple(t, clock.Real{}, 0)}
		s := newSession(t, b, Config{ClearStrategy: ClearDropRecreate, MetadataRetries: 5})
		id, err := s.CreateStore(ctx, "laggy", "k", "v")
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, id, []byte("x"), []byte("y")))

		b.lag = 3
		require.NoError(t, s.Clear(ctx, id))

		info, err := s.ReadStoreInformation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, info.ItemCount)
	})

	t.Run("gives up", func(t *testing.T) {
		b := &laggyKV{Backend: openMaple(t, clock.Real{}, 0)}
		s := newSession(t, b, Config{ClearStrategy: ClearDropRecreate, MetadataRetries: 2})
		id, err := s.CreateStore(ctx, "laggy", "k", "v")
		require.NoError(t, err)

		b.lag = 1000
		assert.ErrorIs(t, s.Clear(ctx, id), ErrWrite)
	})
}

// laggyKV is an eventually consistent backend. After a namespace drop the
// next lag metadata reads return "not found".
type laggyKV struct {
	backend.Backend
	lag       int64
	hideReads atomic.Int64
}

func (l *laggyKV) DropNamespace(ctx context.Context, ns string) error {
	l.hideReads.Store(l.lag)
	return l.Backend.DropNamespace(ctx, ns)
}

func (l *laggyKV) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if isMetadataKey(key) && l.hideReads.Add(-1) >= 0 {
		return nil, false, nil
	}
	return l.Backend.Get(ctx, ns, key)
}

func (l *laggyKV) Capabilities() backend.Capabilities {
	caps := l.Backend.Capabilities()
	caps.Consistency = backend.ConsistencyEventual
	return caps
}
