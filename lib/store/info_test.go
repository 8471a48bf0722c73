package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntrospection(t *testing.T) {
	s, _ := newMapleSession(t)
	ctx := context.Background()

	assert.Equal(t, string(backend.ImplMaple), s.GetNoSqlDbProductName())
	assert.Equal(t, backend.ImplMaple, s.BackendInfo().Product)
	assert.True(t, s.IsConnected(ctx))
	assert.True(t, s.Capabilities().Has(backend.FeatureNativeTTL))

	details, err := s.GetDetailsAboutThisMachine(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, details.Name)
	assert.NotEmpty(t, details.OSVersion)
	assert.NotEmpty(t, details.CPUArch)

	_, err = s.RunDataStoreCommand(ctx, "FLUSHALL")
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.ErrorIs(t, err, backend.ErrUnsupported)
}

// redialKV counts Reconnect calls and fails them while down is set
type redialKV struct {
	backend.Backend
	calls int
	down  bool
}

func (r *redialKV) Reconnect(context.Context) error {
	r.calls++
	if r.down {
		return errors.New("connection refused")
	}
	return nil
}

func TestReconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("without connection", func(t *testing.T) {
		s, _ := newMapleSession(t)
		require.NoError(t, s.Reconnect(ctx))

		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.Reconnect(ctx), ErrInitialization)
	})

	t.Run("networked", func(t *testing.T) {
		kv := &redialKV{Backend: openMaple(t, clock.Real{}, 0)}
		s := newSession(t, kv, Config{})

		require.NoError(t, s.Reconnect(ctx))
		assert.Equal(t, 1, kv.calls)

		kv.down = true
		err := s.Reconnect(ctx)
		assert.ErrorIs(t, err, ErrInitialization)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, 2, kv.calls)
	})
}
