// Package bolt implements backend.Backend on top of a go.etcd.io/bbolt file.
//
// Each namespace is a top-level bucket. bbolt serializes write transactions,
// so PutIfAbsent is atomic. bbolt has no expiry, entries written with a ttl
// live until they are deleted and the layers above fall back to their own
// lease checks.
package bolt
