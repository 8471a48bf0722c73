package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDefinedLockLifecycle(t *testing.T) {
	forEachFixture(t, func(t *testing.T, s *Session, clk *clock.Manual, f fixture) {
		ctx := context.Background()

		id, err := s.CreateOrGetLock(ctx, "printer")
		require.NoError(t, err)
		again, err := s.CreateOrGetLock(ctx, "printer")
		require.NoError(t, err)
		assert.Equal(t, id, again)

		info, err := s.ReadLockInformation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, LockInfo{ID: id, Name: "printer"}, info)

		pid, err := s.GetPidForLock(ctx, "printer")
		require.NoError(t, err)
		assert.Zero(t, pid, "a fresh lock is free")

		require.NoError(t, s.AcquireLock(ctx, id, time.Minute, time.Second))
		info, err = s.ReadLockInformation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), info.UsageCount)
		assert.Equal(t, os.Getpid(), info.PID)
		assert.True(t, info.Held(clk.Now()))

		pid, err = s.GetPidForLock(ctx, "printer")
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)

		require.NoError(t, s.ReleaseLock(ctx, id))
		info, err = s.ReadLockInformation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, LockInfo{ID: id, Name: "printer"}, info)

		locks, err := s.ListLocks(ctx)
		require.NoError(t, err)
		require.Len(t, locks, 1)
		assert.Equal(t, "printer", locks[0].Name)

		require.NoError(t, s.RemoveLock(ctx, id))
		_, err = s.ReadLockInformation(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetPidForLock(ctx, "printer")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.AcquireLock(ctx, id, time.Minute, time.Second), ErrNotFound)

		locks, err = s.ListLocks(ctx)
		require.NoError(t, err)
		assert.Empty(t, locks)
	})
}

func TestUserDefinedLockExcludesOtherSessions(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Now())
	b := openMaple(t, clk, 0)
	first := newSession(t, b, Config{Clock: clk})
	second := newPeer(t, b, Config{Clock: clk})

	id, err := first.CreateOrGetLock(ctx, "batch")
	require.NoError(t, err)
	other, err := second.CreateOrGetLock(ctx, "batch")
	require.NoError(t, err)
	require.Equal(t, id, other)

	require.NoError(t, first.AcquireLock(ctx, id, time.Minute, 0))
	err = second.AcquireLock(ctx, id, time.Minute, 500*time.Millisecond)
	require.ErrorIs(t, err, ErrLockAcquisition)

	// a held lock can not be removed either
	assert.ErrorIs(t, second.RemoveLock(ctx, id), ErrLockAcquisition)

	require.NoError(t, first.ReleaseLock(ctx, id))
	require.NoError(t, second.AcquireLock(ctx, id, time.Minute, 0))
}

func TestUserDefinedLockLeaseExpires(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"maple", "emulated"} {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewManual(time.Now())
			b := fixtureByName(t, name).open(t, clk)
			crashed := newSession(t, b, Config{Clock: clk})
			waiter := newPeer(t, b, Config{Clock: clk})

			id, err := crashed.CreateOrGetLock(ctx, "job")
			require.NoError(t, err)
			require.NoError(t, crashed.AcquireLock(ctx, id, 2*time.Second, 0))

			// the waiter's backoff moves the clock past the lease
			require.NoError(t, waiter.AcquireLock(ctx, id, time.Minute, 10*time.Second))

			info, err := waiter.ReadLockInformation(ctx, id)
			require.NoError(t, err)
			assert.True(t, info.Held(clk.Now()))
		})
	}
}

func TestUserDefinedLockSubSecondLease(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(1_700_000_000, 100_000_000))
	s := newSession(t, openMaple(t, clk, 0), Config{Clock: clk})

	id, err := s.CreateOrGetLock(ctx, "short")
	require.NoError(t, err)
	require.NoError(t, s.AcquireLock(ctx, id, 500*time.Millisecond, 0))

	pid, err := s.GetPidForLock(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid, "the lease ends at .6s, not at the full second")

	clk.Advance(600 * time.Millisecond)
	pid, err = s.GetPidForLock(ctx, "short")
	require.NoError(t, err)
	assert.Zero(t, pid)
}

func TestGeneralLocks(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Now())
	b := openMaple(t, clk, 0)
	a := newSession(t, b, Config{Clock: clk})
	other := newPeer(t, b, Config{Clock: clk})

	require.NoError(t, a.AcquireGeneralLock(ctx, "rebuild-index", time.Minute, 0))
	err := other.AcquireGeneralLock(ctx, "rebuild-index", time.Minute, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrLockAcquisition)
	assert.Equal(t, KindLockAcquisition, KindOf(err))

	// different names do not interfere
	require.NoError(t, other.AcquireGeneralLock(ctx, "compact", time.Minute, 0))

	require.NoError(t, a.ReleaseGeneralLock(ctx, "rebuild-index"))
	require.NoError(t, other.AcquireGeneralLock(ctx, "rebuild-index", 0, 0))
}

func TestLockWaitStopsOnCancelledContext(t *testing.T) {
	b := openMaple(t, clock.Real{}, 0)
	a := newSession(t, b, Config{})
	other := newPeer(t, b, Config{})

	require.NoError(t, a.AcquireGeneralLock(context.Background(), "busy", time.Hour, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := other.AcquireGeneralLock(ctx, "busy", time.Hour, time.Hour)
	require.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockInfoEncoding(t *testing.T) {
	expires := time.UnixMilli(1_700_000_000_100)
	tests := []struct {
		name    string
		usage   uint64
		expires time.Time
		pid     int
		encName string
	}{
		{"free", 0, time.Time{}, 0, "cHJpbnRlcg=="},
		{"held", 1, expires, 4711, "cHJpbnRlcg=="},
		{"sub second lease", 1, expires.Add(400 * time.Millisecond), 9, "cHJpbnRlcg=="},
		{"url safe name with separator", 1, expires, 1, "a_b-c_"},
		{"empty name", 0, time.Time{}, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage, exp, pid, name, err := decodeLockInfo(encodeLockInfo(tt.usage, tt.expires, tt.pid, tt.encName))
			require.NoError(t, err)
			assert.Equal(t, tt.usage, usage)
			assert.True(t, tt.expires.Equal(exp))
			assert.Equal(t, tt.pid, pid)
			assert.Equal(t, tt.encName, name)
		})
	}

	assert.Equal(t, "0_0_0_cHJpbnRlcg==", string(encodeLockInfo(0, time.Time{}, 0, "cHJpbnRlcg==")))
	assert.Equal(t, "1_1700000000100_7_bg==", string(encodeLockInfo(1, expires, 7, "bg==")))
	for _, raw := range []string{"", "1_2_3", "x_0_0_n", "0_y_0_n", "0_0_z_n"} {
		_, _, _, _, err := decodeLockInfo([]byte(raw))
		assert.Error(t, err, "input %q", raw)
	}
}
