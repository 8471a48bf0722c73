package client

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/rpc/common"
	"github.com/ValentinKolb/dps/rpc/serializer"
	"github.com/ValentinKolb/dps/rpc/transport"
)

// infoTimeout bounds the live fetch behind Info
const infoTimeout = 2 * time.Second

// NewRPCBackend connects to the shard described by config and returns a
// backend.Backend that forwards every call to it. The result implements
// backend.Sequencer exactly when the served backend does.
func NewRPCBackend(ctx context.Context, config common.ClientConfig) (backend.Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	t, err := NewClientTransport(config.Transport)
	if err != nil {
		return nil, err
	}
	s, err := serializer.New(config.Serializer)
	if err != nil {
		return nil, err
	}
	return NewRPCBackendWith(ctx, config, t, s)
}

// NewRPCBackendWith is NewRPCBackend with an explicit transport and serializer
func NewRPCBackendWith(
	ctx context.Context,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (backend.Backend, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	b := &Backend{rpcClientAdapter: rpcClientAdapter{
		shardId:    config.ShardID,
		config:     config,
		transport:  transport,
		serializer: serializer,
	}}

	remote, err := b.fetchInfo(ctx)
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("fetch info of shard %d: %w", config.ShardID, err)
	}
	b.remote = remote

	Logger.Infof("connected to %s backend on shard %d (%s)", remote.Info.Product, config.ShardID, strings.Join(config.Endpoints, ", "))

	if remote.Sequencer {
		return &sequencingBackend{b}, nil
	}
	return b, nil
}

// Backend is a backend.Backend served by a remote rpc server. Capabilities
// are those of the served backend, fetched once at connect.
//
// Thread-safety: safe for concurrent use.
type Backend struct {
	rpcClientAdapter
	remote common.RemoteInfo
	closed atomic.Bool
}

// sequencingBackend adds backend.Sequencer for servers whose backend has it
type sequencingBackend struct {
	*Backend
}

// --------------------------------------------------------------------------
// Interface Methods (docu see backend.Backend)
// --------------------------------------------------------------------------

func (b *Backend) PutIfAbsent(ctx context.Context, ns, key string, value []byte, ttl time.Duration) (bool, error) {
	resp, err := b.call(ctx, common.NewPutIfAbsentRequest(ns, key, value, ttl))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (b *Backend) Put(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error {
	_, err := b.call(ctx, common.NewPutRequest(ns, key, value, ttl))
	return err
}

func (b *Backend) Delete(ctx context.Context, ns, key string) error {
	_, err := b.call(ctx, common.NewDeleteRequest(ns, key))
	return err
}

func (b *Backend) DropNamespace(ctx context.Context, ns string) error {
	_, err := b.call(ctx, common.NewDropRequest(ns))
	return err
}

func (b *Backend) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	resp, err := b.call(ctx, common.NewGetRequest(ns, key))
	if err != nil {
		return nil, false, err
	}
	if !resp.Ok {
		return nil, false, nil
	}
	if resp.Value == nil {
		return []byte{}, true, nil
	}
	return resp.Value, true, nil
}

func (b *Backend) ScanKeys(ctx context.Context, ns string) ([]string, error) {
	resp, err := b.call(ctx, common.NewScanRequest(ns))
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (b *Backend) CountEntries(ctx context.Context, ns string) (int, error) {
	resp, err := b.call(ctx, common.NewCountRequest(ns))
	if err != nil {
		return 0, err
	}
	return int(resp.Number), nil
}

func (b *Backend) Capabilities() backend.Capabilities {
	return b.remote.Capabilities
}

// Info fetches the current info of the served backend. If the server cannot
// be reached the info from connect time is returned.
func (b *Backend) Info() backend.Info {
	remote := b.remote
	if !b.closed.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
		defer cancel()
		if live, err := b.fetchInfo(ctx); err == nil {
			remote = live
		} else {
			Logger.Debugf("info of shard %d unavailable: %v", b.shardId, err)
		}
	}

	info := remote.Info
	info.Location = fmt.Sprintf("%s via %s://%s shard %d",
		info.Location, b.config.Transport, strings.Join(b.config.Endpoints, ","), b.shardId)
	return info
}

// Close closes the connection. The remote backend stays open.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.transport.Close()
}

// Reconnect drops every connection and dials the endpoints again. The served
// backend must still report the capabilities seen at connect, sessions
// derive their key encoding from them. Calls running at the same time may
// fail.
func (b *Backend) Reconnect(ctx context.Context) error {
	if b.closed.Load() {
		return backend.ErrClosed
	}
	if err := b.transport.Connect(b.config); err != nil {
		return err
	}
	remote, err := b.fetchInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch info of shard %d: %w", b.shardId, err)
	}
	if remote.Capabilities != b.remote.Capabilities {
		return fmt.Errorf("shard %d now serves a backend with different capabilities (%s, was %s)",
			b.shardId, remote.Capabilities.Features, b.remote.Capabilities.Features)
	}
	Logger.Infof("reconnected to %s backend on shard %d", remote.Info.Product, b.shardId)
	return nil
}

func (b *sequencingBackend) NextID(ctx context.Context, ns string) (uint64, error) {
	resp, err := b.call(ctx, common.NewNextIDRequest(ns))
	if err != nil {
		return 0, err
	}
	return resp.Number, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (b *Backend) call(ctx context.Context, req *common.Message) (*common.Message, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}
	return b.invoke(ctx, req)
}

func (b *Backend) fetchInfo(ctx context.Context) (common.RemoteInfo, error) {
	resp, err := b.invoke(ctx, common.NewInfoRequest())
	if err != nil {
		return common.RemoteInfo{}, err
	}
	return common.DecodeRemoteInfo(resp.Meta)
}
