// Package lockmgr implements lease based locks on top of any backend.Backend.
//
// A lock is held exactly when a record exists under its key. The record
// carries a signature unique per acquisition attempt plus the acquisition and
// expiry time of the lease:
//
//	<pid>-<session uuid>-<xid>-<unix nanos>|<acquiredAt ms>|<expiresAt ms>
//
// The manager keeps no state besides its configuration. Any number of
// managers, in any number of processes, may share a namespace.
//
// Acquisition:
//
//	Every attempt creates the record with PutIfAbsent and the lease as ttl.
//
//	- Backends with FeatureAtomicCreate decide the winner in PutIfAbsent.
//	- Other backends emulate it: the record is read back and the attempt only
//	  succeeds if the stored signature is ours.
//	- Backends with FeatureNativeTTL drop expired records themselves.
//	- On other backends an existing record whose lease has expired is
//	  overwritten and confirmed with a read (stale lease reclamation).
//
//	Failed attempts are retried with exponential backoff and jitter. The loop
//	ends at a wall clock deadline (maxWait), after MaxAttempts attempts or when
//	the context is done, whichever comes first.
//
// Release:
//
//	Release deletes the record unconditionally. Locks are advisory, a release
//	by a non-holder is not detected. ReleaseLease checks the signature first.
//
// Metrics:
//
//	dps_lock_acquire_total{result="acquired"|"timeout"}, dps_lock_attempts_total,
//	dps_lock_steals_total and the dps_lock_wait_seconds histogram are exported
//	through VictoriaMetrics/metrics.
//
// Usage Example:
//
//	mgr := lockmgr.New(b, lockmgr.Options{Namespace: "dps_lock"})
//	lease, err := mgr.Acquire(ctx, "501b3JkZXJz", 5*time.Second, 3*time.Second)
//	if errors.Is(err, lockmgr.ErrTimeout) {
//	    // somebody else holds it
//	}
//	defer mgr.Release(ctx, lease.Key)
package lockmgr
