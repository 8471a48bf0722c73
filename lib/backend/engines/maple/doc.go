// Package maple implements backend.Backend as a sharded in-memory map.
//
// Every entry is addressed by the FNV-1a hash of its namespace and key and
// lives in one of N shards (N defaults to the number of CPUs). Shards are
// xsync.MapOf instances, so reads and writes of different keys never block
// each other and every single-key operation is atomic, which gives maple
// native conditional create (PutIfAbsent).
//
// # Expiry
//
// Writes carry an optional ttl that is turned into an absolute deadline in
// unix milliseconds. Reads treat an entry past its deadline as absent
// immediately. Physical removal is done by one collector goroutine per shard:
// writers push schedule and cancel events into a bounded MPMC queue, the
// collector folds them into a deadline heap and removes due entries on every
// tick. If the queue overflows the collector rebuilds its heap from the shard.
//
// # Write index
//
// "Now" is the maximum of the configured clock and the highest write index
// applied. Local writes use the clock as write index. The replicated backend
// applies writes with the proposer's timestamp through Apply, so all replicas
// compute identical deadlines.
//
// # Persistence
//
// Save and Load write and read a binary snapshot of all live entries
// including deadlines. Snapshots are used by the raft backend's state machine.
//
// # Bounded id space
//
// DBOptions.IDSpace lets maple advertise a bounded store id space, which makes
// the store layer allocate and recycle ids from a fixed pool. This mirrors
// products with a hard limit on physical partitions.
package maple
