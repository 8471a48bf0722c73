// Package badger implements backend.Backend on top of dgraph-io/badger.
//
// All namespaces share one badger keyspace. An entry of namespace ns and key k
// is stored under "ns\x00k", so namespaces map to key prefixes, ScanKeys is a
// prefix iteration and DropNamespace is badger's DropPrefix.
//
// PutIfAbsent runs a read-then-write inside a single update transaction.
// Badger's optimistic concurrency control aborts one of two racing writers
// with ErrConflict, which the engine reports as "not created".
//
// Per-key ttl uses badger's native expiry. Badger keeps expiry in whole unix
// seconds, deadlines are rounded up so an entry never expires early.
//
// The engine implements backend.Sequencer with one badger.Sequence per
// namespace.
package badger
