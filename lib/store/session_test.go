package store

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/badger"
	"github.com/ValentinKolb/dps/lib/backend/engines/bolt"
	"github.com/ValentinKolb/dps/lib/backend/engines/maple"
	"github.com/ValentinKolb/dps/lib/backend/engines/s3"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/ValentinKolb/dps/lib/codec"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Backend Wrappers
// --------------------------------------------------------------------------

// plainKV hides every optional feature of the wrapped backend: no native ttl,
// no atomic create, no bulk drop and text only values
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

func (p plainKV) DropNamespace(context.Context, string) error {
	return backend.ErrUnsupported
}

func (p plainKV) Capabilities() backend.Capabilities {
	return backend.Capabilities{Consistency: backend.ConsistencyStrong}
}

// restrictedKV advertises restricted keys on top of the wrapped backend
type restrictedKV struct {
	backend.Backend
}

func (r restrictedKV) Capabilities() backend.Capabilities {
	caps := r.Backend.Capabilities()
	caps.Features |= backend.FeatureRestrictedKeys
	return caps
}

// --------------------------------------------------------------------------
// Fixtures
// --------------------------------------------------------------------------

type fixture struct {
	name string
	open func(t *testing.T, clk clock.Clock) backend.Backend
	// expiry of native ttl follows the wall clock instead of clk
	wallClockTTL bool
}

func fakeS3Config(t *testing.T) s3.Config {
	t.Helper()
	mem := s3mem.New()
	server := httptest.NewServer(gofakes3.New(mem).Server())
	t.Cleanup(server.Close)

	require.NoError(t, mem.CreateBucket("dps-store-test"))
	return s3.Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		Region:    "us-east-1",
		Bucket:    "dps-store-test",
		AccessKey: "test",
		SecretKey: "test",
		Insecure:  true,
	}
}

func openMaple(t *testing.T, clk clock.Clock, idSpace uint64) *maple.MapleDB {
	t.Helper()
	return maple.NewMapleDB(&maple.DBOptions{Clock: clk, IDSpace: idSpace})
}

var fixtures = []fixture{
	{
		name: "maple",
		open: func(t *testing.T, clk clock.Clock) backend.Backend { return openMaple(t, clk, 0) },
	},
	{
		name: "maple-bounded",
		open: func(t *testing.T, clk clock.Clock) backend.Backend { return openMaple(t, clk, 16) },
	},
	{
		name: "emulated",
		open: func(t *testing.T, clk clock.Clock) backend.Backend { return plainKV{openMaple(t, clk, 0)} },
	},
	{
		name: "badger",
		open: func(t *testing.T, _ clock.Clock) backend.Backend {
			db, err := badger.Open(badger.Options{InMemory: true})
			require.NoError(t, err)
			return db
		},
		wallClockTTL: true,
	},
	{
		name: "bolt",
		open: func(t *testing.T, _ clock.Clock) backend.Backend {
			db, err := bolt.Open(filepath.Join(t.TempDir(), "dps.db"))
			require.NoError(t, err)
			return db
		},
	},
	{
		name: "s3",
		open: func(t *testing.T, _ clock.Clock) backend.Backend {
			store, err := s3.Open(context.Background(), fakeS3Config(t))
			require.NoError(t, err)
			return store
		},
	},
}

// forEachFixture runs fn once per backend with a fresh session on a manual clock
func forEachFixture(t *testing.T, fn func(t *testing.T, s *Session, clk *clock.Manual, f fixture)) {
	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			clk := clock.NewManual(time.Now())
			s := newSession(t, f.open(t, clk), Config{Clock: clk})
			fn(t, s, clk, f)
		})
	}
}

func newSession(t *testing.T, b backend.Backend, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), b, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newPeer opens another session on a backend owned by someone else, it
// releases its pool but leaves the backend open
func newPeer(t *testing.T, b backend.Backend, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), b, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.StopReaper()
		s.pool.Release()
	})
	return s
}

func newMapleSession(t *testing.T) (*Session, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Now())
	return newSession(t, openMaple(t, clk, 0), Config{Clock: clk}), clk
}

// --------------------------------------------------------------------------
// Session Tests
// --------------------------------------------------------------------------

func TestNewSessionRequiresReachableBackend(t *testing.T) {
	ctx := context.Background()

	_, err := NewSession(ctx, nil, Config{})
	assert.ErrorIs(t, err, ErrInitialization)

	db := openMaple(t, clock.Real{}, 0)
	require.NoError(t, db.Close())
	_, err = NewSession(ctx, db, Config{})
	assert.ErrorIs(t, err, ErrInitialization)
	assert.ErrorIs(t, err, backend.ErrClosed)
}

func TestSessionDefaultsAndClose(t *testing.T) {
	s, _ := newMapleSession(t)
	cfg := s.Config()

	assert.Equal(t, 5*time.Second, cfg.LockLease)
	assert.Equal(t, 3*time.Second, cfg.LockWait)
	assert.Equal(t, 10_000, cfg.MaxAttempts)
	assert.Equal(t, 10, cfg.MetadataRetries)
	assert.Positive(t, cfg.Workers)
	assert.NotEmpty(t, cfg.Identity.Session)
	assert.Equal(t, LockNamespace, s.locks.Namespace())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close must be idempotent")
	assert.False(t, s.IsConnected(context.Background()))
}

func TestRestrictedKeysUseURLSafeAlphabet(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, restrictedKV{openMaple(t, clock.Real{}, 0)}, Config{})
	assert.Equal(t, codec.URLSafe, s.codec)

	id, err := s.CreateStore(ctx, "binary", "bytes", "bytes")
	require.NoError(t, err)

	key := []byte{0xfb, 0xff}
	require.NoError(t, s.Put(ctx, id, key, []byte("v")))
	keys, err := s.backend.ScanKeys(ctx, StoreNamespace(id))
	require.NoError(t, err)
	assert.Contains(t, keys, "-_8=")

	got, err := s.Get(ctx, id, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

}

func TestKeyCollidingWithMetadataToken(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, restrictedKV{openMaple(t, clock.Real{}, 0)}, Config{})
	id, err := s.CreateStore(ctx, "collide", "bytes", "string")
	require.NoError(t, err)

	// the only data key whose url safe token equals a metadata key
	colliding, err := base64.URLEncoding.DecodeString(metaKeyType)
	require.NoError(t, err)
	require.Len(t, colliding, 18)

	require.NoError(t, s.Put(ctx, id, colliding, []byte("v")))
	got, err := s.Get(ctx, id, colliding)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	keyType, err := s.GetKeyTypeTag(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "bytes", keyType, "metadata must stay untouched")

	keys, err := s.backend.ScanKeys(ctx, StoreNamespace(id))
	require.NoError(t, err)
	assert.Contains(t, keys, metaKeyType+escapeSuffix)

	size, err := s.Size(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	it, err := s.NewIterator(ctx, id)
	require.NoError(t, err)
	k, v, ok, err := s.GetNext(ctx, id, it)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, colliding, k)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, s.Clear(ctx, id))
	has, err := s.Has(ctx, id, colliding)
	require.NoError(t, err)
	assert.False(t, has)
	keyType, err = s.GetKeyTypeTag(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "bytes", keyType)
}

func TestValuesAreEncodedOnTextBackends(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, plainKV{openMaple(t, clock.Real{}, 0)}, Config{})

	id, err := s.CreateStore(ctx, "text", "string", "bytes")
	require.NoError(t, err)

	value := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, s.Put(ctx, id, []byte("k"), value))

	raw, found, err := s.backend.Get(ctx, StoreNamespace(id), codec.Standard.EncodeString("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, codec.Standard.Encode(value), string(raw))

	got, err := s.Get(ctx, id, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, value, got)
}
