package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/ValentinKolb/dps/lib/codec"
	"github.com/ValentinKolb/dps/lib/lockmgr"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/panjf2000/ants/v2"
)

var log = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// Session is the single entry point to stores, ttl items and locks on top of
// one backend. It keeps no authoritative state of its own: every decision is
// made against the backend, so any number of sessions (in any number of
// processes) may share a backend.
//
// Thread-safety: all methods are safe for concurrent use, except that a single
// Iterator must not be advanced from several goroutines at once.
type Session struct {
	backend backend.Backend
	caps    backend.Capabilities
	codec   codec.Codec
	locks   *lockmgr.Manager
	pool    *ants.Pool
	clock   clock.Clock
	cfg     Config

	reaperMu   sync.Mutex
	reaperStop context.CancelFunc
	reaperDone chan struct{}

	closeOnce sync.Once
}

// NewSession connects a session to b and takes ownership of it: Close closes
// the backend as well. A backend that cannot be reached yields a
// KindInitialization error.
func NewSession(ctx context.Context, b backend.Backend, cfg Config) (*Session, error) {
	const op = "newSession"
	if b == nil {
		return nil, newError(KindInitialization, op, 0, nil, "no backend given")
	}
	cfg = cfg.withDefaults()

	caps := b.Capabilities()
	c := codec.Standard
	if caps.Has(backend.FeatureRestrictedKeys) {
		c = codec.URLSafe
	}

	// query the backend once, a session on an unreachable backend is useless
	if _, err := b.CountEntries(ctx, CatalogNamespace); err != nil {
		return nil, newError(KindInitialization, op, 0, err, "backend %s is not reachable", b.Info().Product)
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, newError(KindInitialization, op, 0, err, "create worker pool")
	}

	s := &Session{
		backend: b,
		caps:    caps,
		codec:   c,
		pool:    pool,
		clock:   cfg.Clock,
		cfg:     cfg,
		locks: lockmgr.New(b, lockmgr.Options{
			Namespace:   LockNamespace,
			Identity:    cfg.Identity,
			Clock:       cfg.Clock,
			Backoff:     cfg.Backoff,
			MaxAttempts: cfg.MaxAttempts,
		}),
	}

	log.Infof("session %s opened on %s (features %s, %s consistency)",
		cfg.Identity.Session, b.Info().Product, caps.Features, caps.Consistency)
	return s, nil
}

// Close stops the reaper, releases the worker pool and closes the backend.
// It is safe to call Close more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.StopReaper()
		s.pool.Release()
		err = s.backend.Close()
		log.Infof("session %s closed", s.cfg.Identity.Session)
	})
	return err
}

// Backend returns the backend the session works on
func (s *Session) Backend() backend.Backend {
	return s.backend
}

// Capabilities returns the capabilities of the backend
func (s *Session) Capabilities() backend.Capabilities {
	return s.caps
}

// Config returns the effective configuration
func (s *Session) Config() Config {
	return s.cfg
}

// Locks returns the lock manager shared by all lock classes
func (s *Session) Locks() lockmgr.ILockManager {
	return s.locks
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func countOp(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dps_store_ops_total{op=%q}`, op)).Inc()
}

// --------------------------------------------------------------------------
// Encoding Helper
// --------------------------------------------------------------------------

// dataKey encodes a user key. The one URL safe token that equals a metadata
// key is stored with escapeSuffix appended.
func (s *Session) dataKey(key []byte) string {
	enc := s.codec.Encode(key)
	if isMetadataKey(enc) {
		return enc + escapeSuffix
	}
	return enc
}

// userKey reverses dataKey
func (s *Session) userKey(enc string) ([]byte, error) {
	if trimmed, ok := strings.CutSuffix(enc, escapeSuffix); ok && isMetadataKey(trimmed) {
		enc = trimmed
	}
	return s.codec.Decode(enc)
}

// encodeValue returns the value as stored by the backend
func (s *Session) encodeValue(value []byte) []byte {
	if s.caps.Has(backend.FeatureRawValues) {
		return value
	}
	return []byte(s.codec.Encode(value))
}

// decodeValue reverses encodeValue
func (s *Session) decodeValue(raw []byte) ([]byte, error) {
	if s.caps.Has(backend.FeatureRawValues) {
		return raw, nil
	}
	return s.codec.Decode(string(raw))
}

// --------------------------------------------------------------------------
// Lock Helper
// --------------------------------------------------------------------------

// lock acquires key in the lock namespace with the configured lease and wait
func (s *Session) lock(ctx context.Context, op string, id uint64, key string) error {
	return s.lockFor(ctx, op, id, key, s.cfg.LockLease, s.cfg.LockWait)
}

func (s *Session) lockFor(ctx context.Context, op string, id uint64, key string, lease, wait time.Duration) error {
	if _, err := s.locks.Acquire(ctx, key, lease, wait); err != nil {
		switch {
		case errors.Is(err, lockmgr.ErrTimeout):
			return newError(KindLockAcquisition, op, id, err, "lock %s", key)
		case ctx.Err() != nil:
			return newError(KindTimeout, op, id, err, "waiting for lock %s", key)
		default:
			return newError(KindLockAcquisition, op, id, err, "lock %s", key)
		}
	}
	return nil
}

// unlock releases key. Failures are only logged, the lease ends on its own.
func (s *Session) unlock(ctx context.Context, key string) {
	if err := s.locks.Release(context.WithoutCancel(ctx), key); err != nil {
		log.Warningf("failed to release lock %s: %v", key, err)
	}
}

// --------------------------------------------------------------------------
// Worker Pool Helper
// --------------------------------------------------------------------------

// forEach runs fn for every key on the worker pool and returns the joined
// errors. A pool that rejects the task (e.g. after Close) runs it inline.
func (s *Session) forEach(keys []string, fn func(key string) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(key string) {
		defer wg.Done()
		if err := fn(key); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	for _, key := range keys {
		wg.Add(1)
		if err := s.pool.Submit(func() { run(key) }); err != nil {
			run(key)
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
