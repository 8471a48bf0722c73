package raft

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/ValentinKolb/dps/lib/backend/engines/raft/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSM(t *testing.T) *KVStateMachine {
	t.Helper()
	fsm := CreateStateMachineFactory()(1, 1).(*KVStateMachine)
	t.Cleanup(func() { _ = fsm.Close() })
	return fsm
}

func entry(idx uint64, cmd internal.Command) sm.Entry {
	return sm.Entry{Index: idx, Cmd: cmd.Serialize()}
}

func lookup(t *testing.T, fsm *KVStateMachine, ns, key string) internal.QueryResult {
	t.Helper()
	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Namespace: ns, Key: key})
	require.NoError(t, err)
	return res.(internal.QueryResult)
}

func TestUpdateAppliesBatch(t *testing.T) {
	fsm := newFSM(t)
	now := uint64(time.Now().UnixMilli())

	entries, err := fsm.Update([]sm.Entry{
		entry(1, internal.Command{Type: internal.CommandTPutIfAbsent, At: now, Namespace: "ns", Key: "a", Value: []byte("1")}),
		entry(2, internal.Command{Type: internal.CommandTPutIfAbsent, At: now, Namespace: "ns", Key: "a", Value: []byte("2")}),
		entry(3, internal.Command{Type: internal.CommandTPut, At: now, Namespace: "ns", Key: "b", Value: []byte("3")}),
		entry(4, internal.Command{Type: internal.CommandTDelete, At: now, Namespace: "ns", Key: "b"}),
		{Index: 5, Cmd: []byte{1, 2}},
		entry(6, internal.Command{Type: internal.CommandType(99), Namespace: "ns"}),
	})
	require.NoError(t, err)

	codes := make([]internal.ResultCode, len(entries))
	for i, e := range entries {
		codes[i] = internal.ResultCode(e.Result.Value)
	}
	assert.Equal(t, []internal.ResultCode{
		internal.ResultOK,
		internal.ResultNotCreated,
		internal.ResultOK,
		internal.ResultOK,
		internal.ResultInvalid,
		internal.ResultInvalid,
	}, codes)

	assert.Equal(t, []byte("1"), lookup(t, fsm, "ns", "a").Value)
	assert.False(t, lookup(t, fsm, "ns", "b").Ok)
}

func TestProposerTimestampDrivesExpiry(t *testing.T) {
	fsm := newFSM(t)
	past := uint64(time.Now().Add(-time.Hour).UnixMilli())

	_, err := fsm.Update([]sm.Entry{
		entry(1, internal.Command{Type: internal.CommandTPut, At: past, TTL: 1000, Namespace: "ns", Key: "old"}),
	})
	require.NoError(t, err)
	assert.False(t, lookup(t, fsm, "ns", "old").Ok, "deadline must be computed from the proposer's timestamp")
}

func TestNextIDIsSequential(t *testing.T) {
	fsm := newFSM(t)
	for want := uint64(1); want <= 3; want++ {
		entries, err := fsm.Update([]sm.Entry{entry(want, internal.Command{Type: internal.CommandTNextID, Namespace: "tracker"})})
		require.NoError(t, err)
		require.Len(t, entries[0].Result.Data, 8)
		assert.Equal(t, want, binary.BigEndian.Uint64(entries[0].Result.Data))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newFSM(t)
	_, err := src.Update([]sm.Entry{
		entry(1, internal.Command{Type: internal.CommandTPut, At: uint64(time.Now().UnixMilli()), Namespace: "ns", Key: "k", Value: []byte("v")}),
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(nil, &buf, nil, nil))

	dst := newFSM(t)
	require.NoError(t, dst.RecoverFromSnapshot(&buf, nil, nil))
	assert.Equal(t, []byte("v"), lookup(t, dst, "ns", "k").Value)

	n, err := dst.Lookup(internal.Query{Type: internal.QueryTCount, Namespace: "ns"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLookupRejectsUnknownQueries(t *testing.T) {
	fsm := newFSM(t)
	_, err := fsm.Lookup("not a query")
	assert.Error(t, err)
	_, err = fsm.Lookup(internal.Query{Type: internal.QueryType(42)})
	assert.Error(t, err)
}
