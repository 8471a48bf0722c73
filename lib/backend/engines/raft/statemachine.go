package raft

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dps/lib/backend/engines/maple"
	"github.com/ValentinKolb/dps/lib/backend/engines/raft/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// sequenceNamespace holds one 8 byte counter per sequenced namespace
const sequenceNamespace = "raft_sequences"

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine is the dragonboat state machine of the raft backend. Every
// replica applies the raft log to its own in-memory maple database.
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  *maple.MapleDB
}

// CreateStateMachineFactory returns the factory dragonboat uses to create the
// state machine of a replica
func CreateStateMachineFactory() sm.CreateConcurrentStateMachineFunc {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  maple.NewMapleDB(nil),
		}
	}
}

// Lookup handles read-only queries
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, fmt.Errorf("invalid query type: %T", itf)
	}

	ctx := context.Background()
	switch q.Type {
	case internal.QueryTGet:
		val, ok, err := fsm.database.Get(ctx, q.Namespace, q.Key)
		return internal.QueryResult{Value: val, Ok: ok}, err
	case internal.QueryTScan:
		return fsm.database.ScanKeys(ctx, q.Namespace)
	case internal.QueryTCount:
		return fsm.database.CountEntries(ctx, q.Namespace)
	case internal.QueryTInfo:
		return fsm.database.Info(), nil
	default:
		return nil, fmt.Errorf("unknown query operation: %s", q.Type)
	}
}

// Update applies committed commands. Dragonboat never calls Update
// concurrently, so read-modify-write commands like NextID need no locking.
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()
	cmd := internal.Command{}

	for idx, e := range entries {
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(internal.ResultInvalid),
				Data:  []byte(fmt.Sprintf("failed to deserialize command: %v", err)),
			}
			continue
		}
		entries[idx].Result = fsm.apply(&cmd)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("state machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *KVStateMachine) apply(cmd *internal.Command) sm.Result {
	switch cmd.Type {
	case internal.CommandTPut:
		fsm.database.Apply(cmd.Namespace, cmd.Key, cmd.Value, cmd.At, cmd.TTL, false)
	case internal.CommandTPutIfAbsent:
		if !fsm.database.Apply(cmd.Namespace, cmd.Key, cmd.Value, cmd.At, cmd.TTL, true) {
			return sm.Result{Value: uint64(internal.ResultNotCreated)}
		}
	case internal.CommandTDelete:
		fsm.database.ApplyDelete(cmd.Namespace, cmd.Key)
	case internal.CommandTDrop:
		fsm.database.ApplyDrop(cmd.Namespace)
	case internal.CommandTNextID:
		return fsm.nextID(cmd)
	default:
		return sm.Result{
			Value: uint64(internal.ResultInvalid),
			Data:  []byte(fmt.Sprintf("unknown command operation: %s", cmd.Type)),
		}
	}
	return sm.Result{Value: uint64(internal.ResultOK)}
}

// nextID increments the counter of cmd.Namespace and returns it in Data
func (fsm *KVStateMachine) nextID(cmd *internal.Command) sm.Result {
	var id uint64
	raw, ok, err := fsm.database.Get(context.Background(), sequenceNamespace, cmd.Namespace)
	if err != nil {
		return sm.Result{Value: uint64(internal.ResultInvalid), Data: []byte(err.Error())}
	}
	if ok && len(raw) == 8 {
		id = binary.BigEndian.Uint64(raw)
	}
	id++

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	fsm.database.Apply(sequenceNamespace, cmd.Namespace, buf, cmd.At, 0, false)
	return sm.Result{Value: uint64(internal.ResultOK), Data: buf}
}

// PrepareSnapshot is not used, maple snapshots are fuzzy
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes a maple snapshot
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot replaces the database content with a snapshot
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.database.Load(r)
}

// Close stops the maple collector
func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}
