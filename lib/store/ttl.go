package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/VictoriaMetrics/metrics"
)

// ForeverTTL replaces a ttl of zero, items written with it outlive any
// realistic deployment
const ForeverTTL = 25 * 365 * 24 * time.Hour

// envelopeHeader is the size of the expiry prefix on backends without native ttl
const envelopeHeader = 8

var reapedTotal = metrics.GetOrCreateCounter(`dps_ttl_reaped_total`)

// --------------------------------------------------------------------------
// Envelope
// --------------------------------------------------------------------------

// nativeTTL reports whether the backend expires ttl items on its own
func (s *Session) nativeTTL() bool {
	if s.caps.Has(backend.FeatureNativeTTL) {
		return true
	}
	_, ok := s.backend.(backend.NamespaceTTL)
	return ok
}

// seal prefixes value with its expiry in unix ms (big endian)
func (s *Session) seal(value []byte, ttl time.Duration) []byte {
	buf := make([]byte, envelopeHeader+len(value))
	binary.BigEndian.PutUint64(buf, uint64(s.clock.Now().Add(ttl).UnixMilli()))
	copy(buf[envelopeHeader:], value)
	return buf
}

// open splits an envelope and reports whether it has expired. An expiry of
// zero never expires.
func (s *Session) open(raw []byte) (value []byte, expired bool, err error) {
	if len(raw) < envelopeHeader {
		return nil, false, fmt.Errorf("ttl envelope of %d bytes is shorter than its header", len(raw))
	}
	expiry := int64(binary.BigEndian.Uint64(raw))
	expired = expiry != 0 && expiry <= s.clock.Now().UnixMilli()
	return raw[envelopeHeader:], expired, nil
}

// --------------------------------------------------------------------------
// TTL Operations
// --------------------------------------------------------------------------

// PutTTL writes key to the global ttl namespace. A ttl of zero means
// ForeverTTL.
func (s *Session) PutTTL(ctx context.Context, key, value []byte, ttl time.Duration) error {
	const op = "putTTL"
	countOp(op)

	if ttl <= 0 {
		ttl = ForeverTTL
	}
	if nt, ok := s.backend.(backend.NamespaceTTL); ok {
		if err := s.reconcileNamespaceTTL(ctx, op, nt, ttl); err != nil {
			return err
		}
	}

	payload := value
	if !s.nativeTTL() {
		payload = s.seal(value, ttl)
	}
	enc := s.codec.Encode(key)
	if err := s.backend.Put(ctx, TTLNamespace, enc, s.encodeValue(payload), ttl); err != nil {
		return newError(KindWrite, op, 0, err, "put ttl item %q", key)
	}
	return nil
}

// reconcileNamespaceTTL updates the namespace ttl to ttl if it differs. The
// change is made under a general purpose lock so concurrent writers with
// different ttls do not flap.
func (s *Session) reconcileNamespaceTTL(ctx context.Context, op string, nt backend.NamespaceTTL, ttl time.Duration) error {
	current, err := nt.NamespaceTTL(ctx, TTLNamespace)
	if err != nil {
		return newError(KindRead, op, 0, err, "read namespace ttl")
	}
	if current == ttl {
		return nil
	}

	if err := s.lock(ctx, op, 0, ttlReconcileLockName); err != nil {
		return err
	}
	defer s.unlock(ctx, ttlReconcileLockName)

	if current, err = nt.NamespaceTTL(ctx, TTLNamespace); err != nil {
		return newError(KindRead, op, 0, err, "read namespace ttl")
	}
	if current == ttl {
		return nil
	}
	if err := nt.SetNamespaceTTL(ctx, TTLNamespace, ttl); err != nil {
		return newError(KindWrite, op, 0, err, "set namespace ttl")
	}
	log.Infof("changed ttl of %s from %s to %s", TTLNamespace, current, ttl)
	return nil
}

// GetTTL returns a ttl item or a KindNotFound error once it has expired
func (s *Session) GetTTL(ctx context.Context, key []byte) ([]byte, error) {
	const op = "getTTL"
	countOp(op)

	value, found, err := s.readTTL(ctx, op, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, newError(KindNotFound, op, 0, nil, "ttl item %q", key)
	}
	if max := s.cfg.MaxValueSize; max > 0 && len(value) > max {
		return nil, newError(KindAllocation, op, 0, nil, "value of %q has %d bytes, limit is %d", key, len(value), max)
	}
	return value, nil
}

// HasTTL reports whether a ttl item exists and has not expired
func (s *Session) HasTTL(ctx context.Context, key []byte) (bool, error) {
	const op = "hasTTL"
	countOp(op)
	_, found, err := s.readTTL(ctx, op, key)
	return found, err
}

// RemoveTTL deletes a ttl item
func (s *Session) RemoveTTL(ctx context.Context, key []byte) error {
	const op = "removeTTL"
	countOp(op)
	if err := s.backend.Delete(ctx, TTLNamespace, s.codec.Encode(key)); err != nil {
		return newError(KindDelete, op, 0, err, "delete ttl item %q", key)
	}
	return nil
}

// readTTL reads and unwraps a ttl item. An expired envelope is deleted on the
// way out and reported as absent.
func (s *Session) readTTL(ctx context.Context, op string, key []byte) ([]byte, bool, error) {
	enc := s.codec.Encode(key)
	raw, found, err := s.backend.Get(ctx, TTLNamespace, enc)
	if err != nil {
		return nil, false, newError(KindRead, op, 0, err, "get ttl item %q", key)
	}
	if !found {
		return nil, false, nil
	}
	payload, err := s.decodeValue(raw)
	if err != nil {
		return nil, false, newError(KindRead, op, 0, err, "decode ttl item %q", key)
	}
	if s.nativeTTL() {
		return payload, true, nil
	}

	value, expired, err := s.open(payload)
	if err != nil {
		return nil, false, newError(KindRead, op, 0, err, "ttl item %q", key)
	}
	if expired {
		if err := s.backend.Delete(context.WithoutCancel(ctx), TTLNamespace, enc); err != nil {
			log.Warningf("failed to delete expired ttl item %q: %v", key, err)
		} else {
			reapedTotal.Inc()
		}
		return nil, false, nil
	}
	return value, true, nil
}

// --------------------------------------------------------------------------
// Reaper
// --------------------------------------------------------------------------

// ReapExpired deletes every expired item of the ttl namespace and returns how
// many were deleted. Backends with native ttl need no reaping.
func (s *Session) ReapExpired(ctx context.Context) (int, error) {
	const op = "reapExpired"
	if s.nativeTTL() {
		return 0, nil
	}
	countOp(op)

	keys, err := s.backend.ScanKeys(ctx, TTLNamespace)
	if err != nil {
		return 0, newError(KindRead, op, 0, err, "scan ttl namespace")
	}

	var reaped atomic.Int64
	err = s.forEach(keys, func(key string) error {
		raw, found, err := s.backend.Get(ctx, TTLNamespace, key)
		if err != nil || !found {
			return err
		}
		payload, err := s.decodeValue(raw)
		if err != nil {
			log.Warningf("skipping undecodable ttl item %s: %v", key, err)
			return nil
		}
		_, expired, err := s.open(payload)
		if err != nil {
			log.Warningf("skipping ttl item %s: %v", key, err)
			return nil
		}
		if !expired {
			return nil
		}
		if err := s.backend.Delete(ctx, TTLNamespace, key); err != nil {
			return err
		}
		reaped.Add(1)
		reapedTotal.Inc()
		return nil
	})
	if err != nil {
		return int(reaped.Load()), newError(KindDelete, op, 0, err, "reap ttl namespace")
	}
	return int(reaped.Load()), nil
}

// StartReaper runs ReapExpired every Config.ReapInterval until ctx is done or
// StopReaper is called. It reports false if the backend has native ttl or a
// reaper is already running.
//
// The interval is measured in wall clock time, expiry itself is judged by the
// session clock.
func (s *Session) StartReaper(ctx context.Context) bool {
	if s.nativeTTL() {
		return false
	}
	s.reaperMu.Lock()
	defer s.reaperMu.Unlock()
	if s.reaperStop != nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.reaperStop = cancel
	s.reaperDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.ReapExpired(ctx)
				if err != nil && ctx.Err() == nil {
					log.Warningf("ttl reaper: %v", err)
				}
				if n > 0 {
					log.Debugf("ttl reaper deleted %d expired items", n)
				}
			}
		}
	}()
	log.Infof("started ttl reaper (every %s)", s.cfg.ReapInterval)
	return true
}

// StopReaper stops a running reaper and waits for it to exit
func (s *Session) StopReaper() {
	s.reaperMu.Lock()
	stop, done := s.reaperStop, s.reaperDone
	s.reaperStop, s.reaperDone = nil, nil
	s.reaperMu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}
