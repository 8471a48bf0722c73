package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/maple"
	backendtesting "github.com/ValentinKolb/dps/lib/backend/testing"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/ValentinKolb/dps/lib/store"
	"github.com/ValentinKolb/dps/rpc/common"
	"github.com/ValentinKolb/dps/rpc/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// startServer serves b as shard 1 and returns a client config pointing at it
func startServer(t testing.TB, transport, serializer string, b backend.Backend) common.ClientConfig {
	t.Helper()

	endpoint := "127.0.0.1:0"
	if transport == "unix" {
		// t.TempDir paths of nested tests can exceed the socket path limit
		dir, err := os.MkdirTemp("", "dps")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })
		endpoint = filepath.Join(dir, "rpc.sock")
	}

	cfg := common.DefaultServerConfig(endpoint)
	cfg.Transport = transport
	cfg.Serializer = serializer

	srv, err := server.NewFromConfig(cfg)
	require.NoError(t, err)
	srv.Register(1, b)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		srv.Close()
		b.Close()
	})

	clientCfg := common.DefaultClientConfig(srv.Addr().String())
	clientCfg.Transport = transport
	clientCfg.Serializer = serializer
	return clientCfg
}

func connect(t testing.TB, cfg common.ClientConfig) backend.Backend {
	t.Helper()
	b, err := NewRPCBackend(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// --------------------------------------------------------------------------
// Conformance
// --------------------------------------------------------------------------

func TestRemoteBackendConformance(t *testing.T) {
	for _, transport := range common.Transports {
		for _, serializer := range common.Serializers {
			clk := clock.NewManual(time.Now())
			backendtesting.RunBackendTests(t, fmt.Sprintf("%s/%s", transport, serializer), backendtesting.Harness{
				New: func(t testing.TB) backend.Backend {
					cfg := startServer(t, transport, serializer, maple.NewMapleDB(&maple.DBOptions{Clock: clk}))
					b, err := NewRPCBackend(context.Background(), cfg)
					require.NoError(t, err)
					return b
				},
				Advance: func(d time.Duration) { clk.Advance(d) },
			})
		}
	}
}

func BenchmarkRemoteBackend(b *testing.B) {
	for _, transport := range common.Transports {
		backendtesting.RunBackendBenchmarks(b, transport, backendtesting.Harness{
			New: func(t testing.TB) backend.Backend {
				return connect(t, startServer(t, transport, "binary", maple.NewMapleDB(nil)))
			},
		})
	}
}

// --------------------------------------------------------------------------
// Remote specifics
// --------------------------------------------------------------------------

func TestRemoteCapabilities(t *testing.T) {
	served := maple.NewMapleDB(&maple.DBOptions{IDSpace: 128})
	b := connect(t, startServer(t, "tcp", "binary", served))

	assert.Equal(t, served.Capabilities(), b.Capabilities())
	_, isSeq := b.(backend.Sequencer)
	_, servedSeq := any(served).(backend.Sequencer)
	assert.Equal(t, servedSeq, isSeq)

	info := b.Info()
	assert.Equal(t, backend.ImplMaple, info.Product)
	assert.Contains(t, info.Location, "via tcp://")
}

// plainBackend hides optional interfaces such as backend.Sequencer
type plainBackend struct {
	backend.Backend
}

func TestRemoteWithoutSequencer(t *testing.T) {
	b := connect(t, startServer(t, "tcp", "binary", plainBackend{maple.NewMapleDB(nil)}))

	_, isSeq := b.(backend.Sequencer)
	assert.False(t, isSeq)
}

func TestRemoteErrors(t *testing.T) {
	cfg := startServer(t, "tcp", "binary", maple.NewMapleDB(nil))
	ctx := context.Background()

	t.Run("InvalidNamespace", func(t *testing.T) {
		b := connect(t, cfg)
		err := b.Put(ctx, "a/b", "k", []byte("v"), 0)
		assert.ErrorIs(t, err, backend.ErrInvalidNamespace)
	})

	t.Run("UnknownShard", func(t *testing.T) {
		other := cfg
		other.ShardID = 42
		_, err := NewRPCBackend(ctx, other)
		assert.ErrorIs(t, err, common.ErrUnknownShard)
	})

	t.Run("Closed", func(t *testing.T) {
		b, err := NewRPCBackend(ctx, cfg)
		require.NoError(t, err)
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		_, _, err = b.Get(ctx, "ns", "k")
		assert.ErrorIs(t, err, backend.ErrClosed)
	})

	t.Run("Canceled", func(t *testing.T) {
		b := connect(t, cfg)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := b.Get(cctx, "ns", "k")
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("Unreachable", func(t *testing.T) {
		bad := common.DefaultClientConfig(filepath.Join(t.TempDir(), "missing.sock"))
		bad.Transport = "unix"
		_, err := NewRPCBackend(ctx, bad)
		assert.Error(t, err)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		bad := cfg
		bad.Serializer = "xml"
		_, err := NewRPCBackend(ctx, bad)
		assert.Error(t, err)
	})
}

func TestRemoteConcurrentClients(t *testing.T) {
	cfg := startServer(t, "tcp", "binary", maple.NewMapleDB(nil))
	cfg.ConnectionsPerEndpoint = 4
	b := connect(t, cfg)
	ctx := context.Background()

	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func(i int) {
			key := fmt.Sprintf("key-%d", i)
			if err := b.Put(ctx, "load", key, []byte(key), 0); err != nil {
				errs <- err
				return
			}
			v, ok, err := b.Get(ctx, "load", key)
			if err == nil && (!ok || string(v) != key) {
				err = fmt.Errorf("%s: got %q (found=%v)", key, v, ok)
			}
			errs <- err
		}(i)
	}
	for i := 0; i < 50; i++ {
		assert.NoError(t, <-errs)
	}

	n, err := b.CountEntries(ctx, "load")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

// --------------------------------------------------------------------------
// Session over rpc
// --------------------------------------------------------------------------

func TestSessionOverRemote(t *testing.T) {
	ctx := context.Background()
	b := connect(t, startServer(t, "unix", "binary", maple.NewMapleDB(nil)))

	s, err := store.NewSession(ctx, b, store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	id, err := s.CreateStore(ctx, "remote", "string", "bytes")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, id, []byte("k"), []byte("v")))
	v, err := s.Get(ctx, id, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	size, err := s.Size(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	lockID, err := s.CreateOrGetLock(ctx, "remote-lock")
	require.NoError(t, err)
	require.NoError(t, s.AcquireLock(ctx, lockID, time.Second, time.Second))
	require.NoError(t, s.ReleaseLock(ctx, lockID))

	require.NoError(t, s.RemoveStore(ctx, id))
	_, err = s.FindStore(ctx, "remote")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionReconnectAfterServerRestart(t *testing.T) {
	ctx := context.Background()
	served := maple.NewMapleDB(nil)
	t.Cleanup(func() { served.Close() })

	dir, err := os.MkdirTemp("", "dps")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	srvCfg := common.DefaultServerConfig(filepath.Join(dir, "rpc.sock"))
	srvCfg.Transport = "unix"
	serve := func() *server.RPCServer {
		srv, err := server.NewFromConfig(srvCfg)
		require.NoError(t, err)
		srv.Register(1, served)
		require.NoError(t, srv.Start())
		t.Cleanup(func() { srv.Close() })
		return srv
	}
	srv := serve()

	cfg := common.DefaultClientConfig(srv.Addr().String())
	cfg.Transport = "unix"
	cfg.RetryCount = 1
	b, err := NewRPCBackend(ctx, cfg)
	require.NoError(t, err)
	s, err := store.NewSession(ctx, b, store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	id, err := s.CreateStore(ctx, "restart", "string", "string")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, id, []byte("k"), []byte("v")))

	// server down: dialing fails
	require.NoError(t, srv.Close())
	err = s.Reconnect(ctx)
	assert.ErrorIs(t, err, store.ErrInitialization)

	// server back on the same socket
	serve()
	require.NoError(t, s.Reconnect(ctx))
	assert.True(t, s.IsConnected(ctx))

	got, err := s.Get(ctx, id, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// a second reconnect on a healthy connection is harmless
	require.NoError(t, s.Reconnect(ctx))
	require.NoError(t, s.Put(ctx, id, []byte("k2"), []byte("v2")))
}

func TestReconnectAfterClose(t *testing.T) {
	b, err := NewRPCBackend(context.Background(), startServer(t, "tcp", "binary", maple.NewMapleDB(nil)))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	r, ok := b.(backend.Reconnector)
	require.True(t, ok)
	assert.ErrorIs(t, r.Reconnect(context.Background()), backend.ErrClosed)
}

func TestReconnectDetectsChangedBackend(t *testing.T) {
	ctx := context.Background()
	served := maple.NewMapleDB(nil)
	t.Cleanup(func() { served.Close() })

	srvCfg := common.DefaultServerConfig("127.0.0.1:0")
	srv, err := server.NewFromConfig(srvCfg)
	require.NoError(t, err)
	srv.Register(1, served)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })

	b := connect(t, common.DefaultClientConfig(srv.Addr().String()))

	// the same shard now serves a backend with other capabilities
	srv.Register(1, restricted{served})
	err = b.(backend.Reconnector).Reconnect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different capabilities")
}

// restricted advertises restricted keys on top of the wrapped backend
type restricted struct {
	backend.Backend
}

func (r restricted) Capabilities() backend.Capabilities {
	caps := r.Backend.Capabilities()
	caps.Features |= backend.FeatureRestrictedKeys
	return caps
}
