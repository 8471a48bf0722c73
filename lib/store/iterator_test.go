package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIteratorVisitsEveryKeyOnce(t *testing.T) {
	forEachFixture(t, func(t *testing.T, s *Session, _ *clock.Manual, _ fixture) {
		ctx := context.Background()
		id, err := s.CreateStore(ctx, "iter", "string", "string")
		require.NoError(t, err)

		want := map[string]string{}
		for i := 0; i < 25; i++ {
			k, v := fmt.Sprintf("key-%02d", i), fmt.Sprintf("value-%d", i)
			want[k] = v
			require.NoError(t, s.Put(ctx, id, []byte(k), []byte(v)))
		}

		it, err := s.NewIterator(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, IteratorFresh, it.State())
		assert.NotEmpty(t, it.Handle())

		got := map[string]string{}
		for {
			k, v, ok, err := s.GetNext(ctx, id, it)
			require.NoError(t, err)
			if !ok {
				break
			}
			_, dup := got[string(k)]
			require.False(t, dup, "key %s returned twice", k)
			got[string(k)] = string(v)
		}
		assert.Equal(t, want, got, "metadata must not be returned")
		assert.Equal(t, IteratorExhausted, it.State())

		_, _, ok, err := s.GetNext(ctx, id, it)
		require.NoError(t, err)
		assert.False(t, ok, "an exhausted iterator stays exhausted")
		require.NoError(t, s.DeleteIterator(id, it))
	})
}

func TestIteratorStates(t *testing.T) {
	s, _ := newMapleSession(t)
	ctx := context.Background()
	id, err := s.CreateStore(ctx, "states", "k", "v")
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, id, []byte(k), []byte(k)))
	}

	it, err := s.NewIterator(ctx, id)
	require.NoError(t, err)

	_, _, ok, err := s.GetNext(ctx, id, it)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, IteratorPaging, it.State())

	_, _, _, err = s.GetNext(ctx, id, it)
	require.NoError(t, err)
	k, _, ok, err := s.GetNext(ctx, id, it)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, k)
	assert.Equal(t, IteratorExhausted, it.State(), "returning the last key exhausts the iterator")
}

func TestIteratorSkipsKeysDeletedAfterSnapshot(t *testing.T) {
	s, _ := newMapleSession(t)
	ctx := context.Background()
	id, err := s.CreateStore(ctx, "snapshot", "k", "v")
	require.NoError(t, err)
	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, id, []byte(k), []byte(k)))
	}

	it, err := s.NewIterator(ctx, id)
	require.NoError(t, err)
	first, _, ok, err := s.GetNext(ctx, id, it)
	require.NoError(t, err)
	require.True(t, ok)

	for _, k := range keys {
		if k != string(first) {
			require.NoError(t, s.Remove(ctx, id, []byte(k)))
		}
	}
	// added after the snapshot, not visited
	require.NoError(t, s.Put(ctx, id, []byte("z"), []byte("z")))

	_, _, ok, err = s.GetNext(ctx, id, it)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, IteratorExhausted, it.State())
}

func TestIteratorBelongsToOneStore(t *testing.T) {
	s, _ := newMapleSession(t)
	ctx := context.Background()
	a, err := s.CreateStore(ctx, "a", "k", "v")
	require.NoError(t, err)
	b, err := s.CreateStore(ctx, "b", "k", "v")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, a, []byte("k"), []byte("v")))

	it, err := s.NewIterator(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, a, it.StoreID())

	_, _, ok, err := s.GetNext(ctx, b, it)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, IteratorFresh, it.State(), "a mismatched call does not advance")

	assert.ErrorIs(t, s.DeleteIterator(b, it), ErrIteratorMismatch)
	require.NoError(t, s.DeleteIterator(a, it))

	_, err = s.NewIterator(ctx, 999)
	assert.ErrorIs(t, err, ErrInvalidStoreID)
}

func TestIteratorOnEmptyStore(t *testing.T) {
	s, _ := newMapleSession(t)
	ctx := context.Background()
	id, err := s.CreateStore(ctx, "empty", "k", "v")
	require.NoError(t, err)

	it, err := s.NewIterator(ctx, id)
	require.NoError(t, err)
	_, _, ok, err := s.GetNext(ctx, id, it)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, IteratorExhausted, it.State())
}
