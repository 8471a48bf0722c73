package raft

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/lib/backend/engines/raft/internal"
	"github.com/ValentinKolb/dps/lib/clock"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("raft")
)

// Store is the raft backed implementation of backend.Backend. Writes are
// proposed to the shard and applied by every replica, reads are linearizable.
type Store struct {
	nh      *dragonboat.NodeHost
	ownsNH  bool
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	clock   clock.Clock
	closed  atomic.Bool
}

// New creates a client for a shard that is already running on nh. Closing
// the store does not stop nh.
func New(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) *Store {
	return &Store{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		clock:   clock.Real{},
	}
}

// Start creates a node host, starts the replica described by cfg and waits
// until the shard has a leader. Closing the store stops the node host.
func Start(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	nh, err := dragonboat.NewNodeHost(cfg.ToNodeHostConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create node host: %w", err)
	}

	members := make(map[uint64]dragonboat.Target, len(cfg.Members))
	for id, addr := range cfg.Members {
		members[id] = addr
	}
	if cfg.Join {
		members = nil
	}
	if err := nh.StartConcurrentReplica(members, cfg.Join, CreateStateMachineFactory(), cfg.ToDragonboatConfig()); err != nil {
		nh.Close()
		return nil, fmt.Errorf("failed to start shard %d: %w", cfg.ShardID, err)
	}

	s := New(nh, cfg.ShardID, cfg.Timeout)
	s.ownsNH = true
	if err := s.WaitReady(ctx); err != nil {
		s.Close()
		return nil, err
	}
	log.Infof("replica %d of shard %d is ready", cfg.ReplicaID, cfg.ShardID)
	return s, nil
}

// WaitReady blocks until the shard has elected a leader
func (s *Store) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, _, ok, err := s.nh.GetLeaderID(s.shardID); err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("shard %d has no leader: %w", s.shardID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations
// --------------------------------------------------------------------------

func (s *Store) check(ctx context.Context, ns string) error {
	if s.closed.Load() {
		return backend.ErrClosed
	}
	if err := backend.ValidNamespace(ns); err != nil {
		return err
	}
	return ctx.Err()
}

// write proposes a command and waits until it is applied. It retries while
// dragonboat reports the system as busy.
func (s *Store) write(ctx context.Context, cmd internal.Command) (internal.ResultCode, []byte, error) {
	cmd.At = uint64(s.clock.Now().UnixMilli())
	data := cmd.Serialize()

	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(pctx, s.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			if err := clock.SleepContext(ctx, s.clock, s.timeout/10); err != nil {
				return 0, nil, err
			}
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("raft propose %s: %w", cmd.Type, err)
		}

		code := internal.ResultCode(res.Value)
		if code == internal.ResultInvalid {
			return code, nil, fmt.Errorf("raft %s rejected: %s", cmd.Type, res.Data)
		}
		return code, res.Data, nil
	}
	return 0, nil, fmt.Errorf("raft propose %s: %w", cmd.Type, dragonboat.ErrSystemBusy)
}

// read queries the state machine and converts the response into R. Stale
// reads skip the read index protocol and may return outdated data.
func read[R any](ctx context.Context, s *Store, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		var (
			res interface{}
			err error
		)
		if stale {
			res, err = s.nh.StaleRead(s.shardID, q)
		} else {
			rctx, cancel := context.WithTimeout(ctx, s.timeout)
			res, err = s.nh.SyncRead(rctx, s.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			if err := clock.SleepContext(ctx, s.clock, s.timeout/10); err != nil {
				return zero, err
			}
			continue
		}
		if err != nil {
			return zero, fmt.Errorf("raft read %s: %w", q.Type, err)
		}

		casted, ok := res.(R)
		if !ok {
			return zero, fmt.Errorf("unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, fmt.Errorf("raft read %s: %w", q.Type, dragonboat.ErrSystemBusy)
}

// ttlMillis rounds sub-millisecond ttls up so they still expire
func ttlMillis(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	if ms := uint64(ttl / time.Millisecond); ms > 0 {
		return ms
	}
	return 1
}

// --------------------------------------------------------------------------
// Backend Interface Methods
// --------------------------------------------------------------------------

// PutIfAbsent is decided by the state machine, so it is atomic across the cluster
func (s *Store) PutIfAbsent(ctx context.Context, ns, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.check(ctx, ns); err != nil {
		return false, err
	}
	code, _, err := s.write(ctx, internal.Command{
		Type:      internal.CommandTPutIfAbsent,
		TTL:       ttlMillis(ttl),
		Namespace: ns,
		Key:       key,
		Value:     value,
	})
	if err != nil {
		return false, err
	}
	return code == internal.ResultOK, nil
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error {
	if err := s.check(ctx, ns); err != nil {
		return err
	}
	_, _, err := s.write(ctx, internal.Command{
		Type:      internal.CommandTPut,
		TTL:       ttlMillis(ttl),
		Namespace: ns,
		Key:       key,
		Value:     value,
	})
	return err
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := s.check(ctx, ns); err != nil {
		return err
	}
	_, _, err := s.write(ctx, internal.Command{
		Type:      internal.CommandTDelete,
		Namespace: ns,
		Key:       key,
	})
	return err
}

func (s *Store) DropNamespace(ctx context.Context, ns string) error {
	if err := s.check(ctx, ns); err != nil {
		return err
	}
	_, _, err := s.write(ctx, internal.Command{
		Type:      internal.CommandTDrop,
		Namespace: ns,
	})
	return err
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if err := s.check(ctx, ns); err != nil {
		return nil, false, err
	}
	res, err := read[internal.QueryResult](ctx, s, internal.Query{
		Type:      internal.QueryTGet,
		Namespace: ns,
		Key:       key,
	}, false)
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.Ok, nil
}

func (s *Store) ScanKeys(ctx context.Context, ns string) ([]string, error) {
	if err := s.check(ctx, ns); err != nil {
		return nil, err
	}
	return read[[]string](ctx, s, internal.Query{Type: internal.QueryTScan, Namespace: ns}, false)
}

func (s *Store) CountEntries(ctx context.Context, ns string) (int, error) {
	if err := s.check(ctx, ns); err != nil {
		return 0, err
	}
	return read[int](ctx, s, internal.Query{Type: internal.QueryTCount, Namespace: ns}, false)
}

// NextID advances a replicated per-namespace counter, starting at 1
func (s *Store) NextID(ctx context.Context, ns string) (uint64, error) {
	if err := s.check(ctx, ns); err != nil {
		return 0, err
	}
	_, data, err := s.write(ctx, internal.Command{Type: internal.CommandTNextID, Namespace: ns})
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("raft next id %s: malformed result of %d bytes", ns, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// Capabilities reports everything maple supports, replicated with strong consistency
func (s *Store) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Features: backend.FeatureNativeTTL |
			backend.FeatureAtomicCreate |
			backend.FeatureBulkDrop |
			backend.FeatureRawValues,
		Consistency: backend.ConsistencyStrong,
	}
}

// Info returns the (possibly stale) info of the local replica's database
func (s *Store) Info() backend.Info {
	info := backend.Info{
		Product:  backend.ImplRaft,
		Version:  "dragonboat/v4",
		Location: fmt.Sprintf("shard %d on %s", s.shardID, s.nh.RaftAddress()),
	}
	if s.closed.Load() {
		return info
	}
	local, err := read[backend.Info](context.Background(), s, internal.Query{Type: internal.QueryTInfo}, true)
	if err != nil {
		log.Warningf("failed to read replica info: %v", err)
		return info
	}
	info.Metadata = local.Metadata
	return info
}

// Close stops the node host if the store started it. It is safe to call
// Close more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ownsNH {
		s.nh.Close()
	}
	return nil
}
