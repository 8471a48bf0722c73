package common

import (
	"bytes"
	"context"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/badger"
	"github.com/ValentinKolb/dps/lib/backend/engines/s3"
	rpccommon "github.com/ValentinKolb/dps/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{"debug", logger.DEBUG},
		{"INFO", logger.INFO},
		{"warn", logger.WARNING},
		{"warning", logger.WARNING},
		{"error", logger.ERROR},
		{"none", logger.CRITICAL},
		{"off", logger.CRITICAL},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
	assert.Error(t, InitLoggers("loud"))
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &dpsLogger{name: "store", level: logger.INFO, logger: log.New(&buf, "", 0)}

	l.Debugf("hidden %d", 1)
	l.Infof("session %s ready", "abc")
	l.Warningf("careful")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO  | store           | session abc ready")
	assert.Contains(t, out, "WARN  | store           | careful")

	buf.Reset()
	l.SetLevel(logger.DEBUG)
	l.Debugf("visible")
	assert.True(t, strings.HasPrefix(buf.String(), "DEBUG | store"))
}

func TestBackendConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   BackendConfig
		valid bool
	}{
		{"maple", BackendConfig{Kind: "maple"}, true},
		{"badger in memory", BackendConfig{Kind: "badger", Badger: badger.Options{InMemory: true}}, true},
		{"badger without dir", BackendConfig{Kind: "badger"}, false},
		{"bolt without path", BackendConfig{Kind: "bolt"}, false},
		{"bolt", BackendConfig{Kind: "bolt", Bolt: BoltConfig{Path: "/tmp/x.db"}}, true},
		{"s3 without bucket", BackendConfig{Kind: "s3", S3: s3.Config{Endpoint: "localhost:9000"}}, false},
		{"remote", BackendConfig{Kind: KindRemote, Remote: rpccommon.DefaultClientConfig("localhost:5000")}, true},
		{"remote without endpoints", BackendConfig{Kind: KindRemote, Remote: rpccommon.DefaultClientConfig()}, false},
		{"unknown", BackendConfig{Kind: "floppy"}, false},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.valid {
			assert.NoError(t, err, tt.name)
		} else {
			assert.Error(t, err, tt.name)
		}
	}
}

func TestBackendConfigString(t *testing.T) {
	out := BackendConfig{Kind: "maple", Maple: MapleConfig{Shards: 4}}.String()
	assert.Contains(t, out, "BACKEND")
	assert.Contains(t, out, "unbounded")

	out = BackendConfig{Kind: KindRemote, Remote: rpccommon.DefaultClientConfig("a:1", "b:2")}.String()
	assert.Contains(t, out, "CLIENT CONFIGURATION")
	assert.Contains(t, out, "b:2")
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  BackendConfig
		want backend.Implementation
	}{
		{BackendConfig{Kind: "maple", Maple: MapleConfig{Shards: 2, IDSpace: 64}}, backend.ImplMaple},
		{BackendConfig{Kind: "badger", Badger: badger.Options{InMemory: true}}, backend.ImplBadger},
		{BackendConfig{Kind: "bolt", Bolt: BoltConfig{Path: filepath.Join(t.TempDir(), "dps.db")}}, backend.ImplBolt},
	}
	for _, tt := range tests {
		b, err := OpenBackend(ctx, tt.cfg)
		require.NoError(t, err, tt.cfg.Kind)
		assert.Equal(t, tt.want, b.Info().Product)

		require.NoError(t, b.Put(ctx, "ns", "k", []byte("v"), 0))
		v, found, err := b.Get(ctx, "ns", "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v"), v)
		require.NoError(t, b.Close())
	}

	b, err := OpenBackend(ctx, BackendConfig{Kind: "maple", Maple: MapleConfig{IDSpace: 64}})
	require.NoError(t, err)
	assert.Equal(t, uint64(64), b.Capabilities().BoundedIDSpace)
	b.Close()

	b, err = OpenBackend(ctx, BackendConfig{Kind: "bolt"})
	assert.Error(t, err)
	assert.Nil(t, b)
}
