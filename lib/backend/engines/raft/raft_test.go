package raft

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	backendtesting "github.com/ValentinKolb/dps/lib/backend/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func startSingleNode(t testing.TB) *Store {
	t.Helper()
	cfg := DefaultConfig(t.TempDir(), freeAddr(t))
	cfg.RTTMillisecond = 10

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := Start(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRaftBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node host")
	}
	// one node host for the whole suite, every sub test uses its own namespaces
	store := startSingleNode(t)
	run := 0
	backendtesting.RunBackendTests(t, "Raft", backendtesting.Harness{
		New: func(t testing.TB) backend.Backend {
			run++
			return &namespaced{Store: store, prefix: fmt.Sprintf("r%d_", run)}
		},
	})
}

func BenchmarkRaftBackend(b *testing.B) {
	store := startSingleNode(b)
	run := 0
	backendtesting.RunBackendBenchmarks(b, "Raft", backendtesting.Harness{
		New: func(t testing.TB) backend.Backend {
			run++
			return &namespaced{Store: store, prefix: fmt.Sprintf("b%d_", run)}
		},
	})
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig("/tmp/dps", "127.0.0.1:1")
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.ReplicaID = 2
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.DataDir = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Timeout = 0
	assert.Error(t, bad.Validate())

	nh := cfg.ToNodeHostConfig()
	assert.Equal(t, "127.0.0.1:1", nh.RaftAddress)
	assert.Equal(t, uint64(1), cfg.ToDragonboatConfig().ShardID)
}

// namespaced isolates sub tests sharing one shard and ignores Close
type namespaced struct {
	*Store
	prefix string
}

func (n *namespaced) ns(ns string) string {
	if backend.ValidNamespace(ns) != nil {
		return ns
	}
	return n.prefix + ns
}

func (n *namespaced) PutIfAbsent(ctx context.Context, ns, key string, value []byte, ttl time.Duration) (bool, error) {
	return n.Store.PutIfAbsent(ctx, n.ns(ns), key, value, ttl)
}

func (n *namespaced) Put(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error {
	return n.Store.Put(ctx, n.ns(ns), key, value, ttl)
}

func (n *namespaced) Delete(ctx context.Context, ns, key string) error {
	return n.Store.Delete(ctx, n.ns(ns), key)
}

func (n *namespaced) DropNamespace(ctx context.Context, ns string) error {
	return n.Store.DropNamespace(ctx, n.ns(ns))
}

func (n *namespaced) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	return n.Store.Get(ctx, n.ns(ns), key)
}

func (n *namespaced) ScanKeys(ctx context.Context, ns string) ([]string, error) {
	return n.Store.ScanKeys(ctx, n.ns(ns))
}

func (n *namespaced) CountEntries(ctx context.Context, ns string) (int, error) {
	return n.Store.CountEntries(ctx, n.ns(ns))
}

func (n *namespaced) NextID(ctx context.Context, ns string) (uint64, error) {
	return n.Store.NextID(ctx, n.ns(ns))
}

func (n *namespaced) Close() error { return nil }
