// Package store implements named stores, a global ttl namespace and three
// classes of locks on top of any backend.Backend.
//
// Everything goes through a Session, created with NewSession for one backend.
// The session adapts to what the backend can do natively (see
// backend.Capabilities) and emulates the rest:
//
//   - Keys are base64 encoded before they reach the backend (URL safe on
//     backends with restricted keys), values only on backends that cannot hold
//     raw bytes.
//   - Store ids come from the backend's sequence, from a bounded slot pool or
//     from the hash of the store name, whichever the backend supports.
//   - Ttl items carry an expiry envelope on backends without native ttl. They
//     are checked lazily on read and removed by an optional reaper.
//   - Locks are lease records created atomically where possible and confirmed
//     by a read where not (package lockmgr).
//
// Layout:
//
//	dps_and_dl_guid            0<name> -> store id, 5<name> -> lock id, 6<lock id> -> lock info
//	dps_lock                   4<store id>, 501<name>, 7<lock id> lock records
//	dps_ttl_kv_global_store    ttl items
//	dps_store_id_tracker       claimed store ids
//	dps_store_<id>             store contents plus three metadata entries
//
// Names in the catalog and lock keys are base64 encoded as well.
//
// Errors:
//
// Every failure is a *Error with a Kind. Sentinels such as ErrNotFound or
// ErrStoreExists match any error of their kind with errors.Is:
//
//	id, err := s.CreateStore(ctx, "orders", "string", "json")
//	if errors.Is(err, store.ErrStoreExists) {
//		id, _ = store.ExistingStoreID(err)
//	}
package store
