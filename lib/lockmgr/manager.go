package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

// ErrTimeout is returned when a lock could not be acquired in time
var ErrTimeout = errors.New("lock acquisition timed out")

var (
	acquiredTotal = metrics.GetOrCreateCounter(`dps_lock_acquire_total{result="acquired"}`)
	timeoutTotal  = metrics.GetOrCreateCounter(`dps_lock_acquire_total{result="timeout"}`)
	attemptsTotal = metrics.GetOrCreateCounter(`dps_lock_attempts_total`)
	stealsTotal   = metrics.GetOrCreateCounter(`dps_lock_steals_total`)
	waitSeconds   = metrics.GetOrCreateHistogram(`dps_lock_wait_seconds`)
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Backoff configures the delay between acquisition attempts. Each delay is
// drawn from [d*(1-Jitter), d*(1+Jitter)] where d grows from Initial by
// Multiplier up to Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoff starts at 1ms and caps at 200ms
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Millisecond,
		Max:        200 * time.Millisecond,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

func (b Backoff) policy() *backoff.ExponentialBackOff {
	p := &backoff.ExponentialBackOff{
		InitialInterval:     b.Initial,
		RandomizationFactor: b.Jitter,
		Multiplier:          b.Multiplier,
		MaxInterval:         b.Max,
	}
	p.Reset()
	return p
}

// Options configures a Manager
type Options struct {
	// Namespace holding the lock records
	Namespace string
	// Identity used in lock signatures (zero value = NewIdentity())
	Identity Identity
	// Clock used for leases, deadlines and backoff sleeps (nil = clock.Real)
	Clock   clock.Clock
	Backoff Backoff
	// MaxAttempts bounds the number of attempts per Acquire
	MaxAttempts int
}

const defaultMaxAttempts = 10_000

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Lease describes a held lock
type Lease struct {
	Key      string
	Record   Record
	Attempts int  // number of attempts it took
	Stolen   bool // true if an expired lease of another holder was reclaimed
}

// Manager implements ILockManager on top of a backend namespace. It keeps no
// state besides its configuration, any number of managers may share a
// namespace.
type Manager struct {
	backend  backend.Backend
	ns       string
	identity Identity
	clock    clock.Clock
	backoff  Backoff
	attempts int
}

// New creates a lock manager storing its records in opts.Namespace of b
func New(b backend.Backend, opts Options) *Manager {
	if opts.Identity.Session == "" {
		opts.Identity = NewIdentity()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Manager{
		backend:  b,
		ns:       opts.Namespace,
		identity: opts.Identity,
		clock:    opts.Clock,
		backoff:  opts.Backoff,
		attempts: opts.MaxAttempts,
	}
}

// Acquire takes the lock under key. Every attempt tries to create the record
// atomically (or emulates it with a confirm read). On backends without native
// ttl an expired record is reclaimed. Between attempts it waits with
// exponential backoff and jitter, bounded by maxWait, MaxAttempts and ctx.
//
// Backend errors inside the loop are retried like contention, the last one
// is reported together with ErrTimeout.
func (m *Manager) Acquire(ctx context.Context, key string, lease, maxWait time.Duration) (Lease, error) {
	start := m.clock.Now()
	deadline := start.Add(maxWait)
	policy := m.backoff.policy()
	defer func() { waitSeconds.Update(m.clock.Now().Sub(start).Seconds()) }()

	var lastErr error
	for attempt := 1; ; attempt++ {
		l, ok, err := m.TryAcquire(ctx, key, lease)
		if err != nil && ctx.Err() != nil {
			return Lease{}, ctx.Err()
		}
		if ok {
			l.Attempts = attempt
			acquiredTotal.Inc()
			return l, nil
		}
		if err != nil {
			log.Debugf("attempt %d on lock %s failed: %v", attempt, key, err)
			lastErr = err
		}

		remaining := deadline.Sub(m.clock.Now())
		if attempt >= m.attempts || remaining <= 0 {
			timeoutTotal.Inc()
			if lastErr != nil {
				return Lease{}, fmt.Errorf("%w after %d attempts on %s (last error: %v)", ErrTimeout, attempt, key, lastErr)
			}
			return Lease{}, fmt.Errorf("%w after %d attempts on %s", ErrTimeout, attempt, key)
		}

		delay := policy.NextBackOff()
		if delay > remaining {
			delay = remaining
		}
		if err := clock.SleepContext(ctx, m.clock, delay); err != nil {
			return Lease{}, err
		}
	}
}

// TryAcquire makes a single attempt to take the lock under key
func (m *Manager) TryAcquire(ctx context.Context, key string, lease time.Duration) (Lease, bool, error) {
	attemptsTotal.Inc()

	now := m.clock.Now()
	rec := Record{
		Signature:  m.identity.signature(now),
		AcquiredAt: now.UnixMilli(),
		ExpiresAt:  now.Add(lease).UnixMilli(),
	}
	caps := m.backend.Capabilities()

	created, err := m.backend.PutIfAbsent(ctx, m.ns, key, rec.Encode(), lease)
	if err != nil {
		return Lease{}, false, fmt.Errorf("create lock record %s: %w", key, err)
	}
	if created {
		if caps.Has(backend.FeatureAtomicCreate) {
			return Lease{Key: key, Record: rec}, true, nil
		}
		// emulated create, a concurrent creator may have overwritten us
		ok, err := m.confirm(ctx, key, rec)
		return Lease{Key: key, Record: rec}, ok, err
	}

	if caps.Has(backend.FeatureNativeTTL) {
		// the backend removes expired records itself
		return Lease{}, false, nil
	}
	return m.reclaim(ctx, key, rec)
}

// reclaim overwrites the record under key if its lease has expired
func (m *Manager) reclaim(ctx context.Context, key string, rec Record) (Lease, bool, error) {
	current, found, err := m.Inspect(ctx, key)
	switch {
	case errors.Is(err, ErrMalformedRecord):
		log.Warningf("lock %s holds a malformed record, reclaiming it", key)
	case err != nil:
		return Lease{}, false, err
	case !found:
		// released between our create and read, the next attempt will create it
		return Lease{}, false, nil
	case !current.Expired(rec.AcquiredAt):
		return Lease{}, false, nil
	default:
		log.Infof("reclaiming lock %s from expired holder %s", key, current)
	}

	if err := m.backend.Put(ctx, m.ns, key, rec.Encode(), time.Duration(rec.ExpiresAt-rec.AcquiredAt)*time.Millisecond); err != nil {
		return Lease{}, false, fmt.Errorf("overwrite stale lock record %s: %w", key, err)
	}
	ok, err := m.confirm(ctx, key, rec)
	if ok {
		stealsTotal.Inc()
	}
	return Lease{Key: key, Record: rec, Stolen: true}, ok, err
}

// confirm reads the record back and checks that it carries our signature
func (m *Manager) confirm(ctx context.Context, key string, rec Record) (bool, error) {
	current, found, err := m.Inspect(ctx, key)
	if err != nil {
		return false, err
	}
	return found && current.Signature == rec.Signature, nil
}

// Release deletes the lock record unconditionally
func (m *Manager) Release(ctx context.Context, key string) error {
	if err := m.backend.Delete(ctx, m.ns, key); err != nil {
		return fmt.Errorf("delete lock record %s: %w", key, err)
	}
	return nil
}

// ReleaseLease deletes the lock record if it still carries l's signature.
//
// Thread-safety: the check and the delete are two operations, a lease that
// expires and is reclaimed in between is deleted anyway.
func (m *Manager) ReleaseLease(ctx context.Context, l Lease) (bool, error) {
	ok, err := m.confirm(ctx, l.Key, l.Record)
	if err != nil || !ok {
		return false, err
	}
	return true, m.Release(ctx, l.Key)
}

// Inspect reads and parses the record under key
func (m *Manager) Inspect(ctx context.Context, key string) (Record, bool, error) {
	raw, found, err := m.backend.Get(ctx, m.ns, key)
	if err != nil {
		return Record{}, false, fmt.Errorf("read lock record %s: %w", key, err)
	}
	if !found {
		return Record{}, false, nil
	}
	rec, err := ParseRecord(raw)
	if err != nil {
		return Record{}, true, err
	}
	return rec, true, nil
}

// Namespace returns the namespace holding the lock records
func (m *Manager) Namespace() string {
	return m.ns
}

// Identity returns the identity used in signatures
func (m *Manager) Identity() Identity {
	return m.identity
}
