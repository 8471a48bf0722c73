// Package internal defines the raft log format of the raft backend.
//
// Commands (writes) are serialized into a compact binary record and stored in
// the raft log:
//
//   - 1 byte: command type (Put, PutIfAbsent, Delete, Drop, NextID)
//   - 8 bytes: proposer timestamp in unix ms (big endian)
//   - 8 bytes: ttl in ms, 0 = never expires (big endian)
//   - 2 bytes: namespace length (big endian)
//   - 4 bytes: key length (big endian)
//   - namespace bytes, key bytes, then the value (remaining bytes)
//
// Queries (reads) run on the local replica and are passed to the state machine
// as Go values, they are never serialized.
//
// The outcome of a command is a ResultCode in sm.Result.Value.
package internal
