// Package raft implements backend.Backend as a replicated state machine using
// the Dragonboat RAFT library.
//
// Every replica of a shard runs a KVStateMachine that applies the raft log to
// an in-memory maple database. The Store type is the client side: it turns
// every write into a Command, proposes it with SyncPropose and reads with
// SyncRead, so all operations are linearizable.
//
// # Conditional writes
//
// PutIfAbsent is evaluated inside the state machine while it applies the log,
// which makes it atomic across the cluster. The outcome is returned as a
// ResultCode in the dragonboat result. NextID is a replicated counter kept in
// the reserved namespace "raft_sequences".
//
// # Time
//
// Expiry deadlines must not depend on when a replica applies an entry. The
// proposer stamps every command with its wall clock and the state machine
// passes that timestamp to maple as write index, so all replicas compute the
// same deadline.
//
// # Snapshots
//
// The state machine delegates snapshots to maple's Save and Load. Snapshots
// are fuzzy, entries committed after a snapshot are replayed from the log.
//
// # Usage
//
//	cfg := raft.DefaultConfig("/var/lib/dps", "10.0.0.1:63001")
//	store, err := raft.Start(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
// Start owns the dragonboat NodeHost. New wraps a shard on an existing
// NodeHost instead.
package raft
