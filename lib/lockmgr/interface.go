package lockmgr

import (
	"context"
	"time"
)

// ILockManager defines the interface for a lease based lock provider.
type ILockManager interface {
	// Acquire takes the lock stored under key for the duration of lease. It
	// retries with backoff until the lock is free, maxWait has passed or ctx
	// is done. On timeout it returns an error wrapping ErrTimeout.
	Acquire(ctx context.Context, key string, lease, maxWait time.Duration) (Lease, error)

	// TryAcquire makes a single attempt to take the lock.
	TryAcquire(ctx context.Context, key string, lease time.Duration) (l Lease, ok bool, err error)

	// Release deletes the lock record unconditionally. Releasing a lock held
	// by someone else is possible and not detected.
	Release(ctx context.Context, key string) error

	// ReleaseLease deletes the lock record only if it still carries the
	// lease's signature. It reports whether the record was deleted.
	ReleaseLease(ctx context.Context, l Lease) (bool, error)

	// Inspect returns the current record of a lock, if any.
	Inspect(ctx context.Context, key string) (rec Record, found bool, err error)
}
