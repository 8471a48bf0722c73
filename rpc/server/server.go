package server

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/dps/lib/backend"
	"github.com/ValentinKolb/dps/rpc/common"
	"github.com/ValentinKolb/dps/rpc/serializer"
	"github.com/ValentinKolb/dps/rpc/transport"
	"github.com/ValentinKolb/dps/rpc/transport/http"
	"github.com/ValentinKolb/dps/rpc/transport/tcp"
	"github.com/ValentinKolb/dps/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a backend served under a shard id together with the adapter
// that handles requests for it
type serverShard struct {
	Backend backend.Backend
	Adapter IRPCServerAdapter
}

// RPCServer exposes backends to remote sessions. Every backend is registered
// under a shard id, clients address it with ClientConfig.ShardID.
//
// Thread-safety: Register may be called while the server is running, all
// other methods are meant to be called once.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
}

// NewRPCServer creates a new RPC server
//
// Usage:
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	s.Register(1, maple.NewMapleDB(nil))
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if config.Shards == nil {
		config.Shards = map[uint64]string{}
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// NewFromConfig creates a server with the transport and serializer named in config
func NewFromConfig(config common.ServerConfig) (*RPCServer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	t, err := NewServerTransport(config.Transport)
	if err != nil {
		return nil, err
	}
	s, err := serializer.New(config.Serializer)
	if err != nil {
		return nil, err
	}
	return NewRPCServer(config, t, s), nil
}

// NewServerTransport returns the server transport called name
func NewServerTransport(name string) (transport.IRPCServerTransport, error) {
	switch name {
	case "tcp", "":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "http":
		return http.NewHttpServerTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

// Register serves b under shardID. The server does not take ownership of b,
// the caller closes it after the server stopped.
func (s *RPCServer) Register(shardID uint64, b backend.Backend) {
	s.shards.Store(shardID, serverShard{
		Backend: b,
		Adapter: NewBackendServerAdapter(),
	})
	s.config.Shards[shardID] = string(b.Info().Product)
	Logger.Infof("serving %s backend as shard %d", b.Info().Product, shardID)
}

// Start opens the endpoint and serves requests in the background
func (s *RPCServer) Start() error {
	s.transport.RegisterHandler(s.handle)

	if err := s.transport.Listen(s.config); err != nil {
		return err
	}

	Logger.Infof("RPC server listening on %s", s.transport.Addr())
	Logger.Debugf(s.config.String())
	return nil
}

// Serve starts the server and blocks until ctx is done, then closes it
func (s *RPCServer) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	Logger.Infof("shutting down RPC server")
	return s.Close()
}

// Addr returns the listening address, nil before Start
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// Close stops the transport. Registered backends stay open.
func (s *RPCServer) Close() error {
	return s.transport.Close()
}

// handle is the transport handler: decode, dispatch to the shard, encode
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var resp *common.Message

	var msg common.Message
	if shard, ok := s.shards.Load(shardId); !ok {
		resp = common.NewErrorResponse(common.CodeUnknownShard, fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(common.CodeBadRequest, fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		ctx := context.Background()
		if timeout := s.config.Timeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		resp = shard.Adapter.Handle(ctx, &msg, shard.Backend)
	}

	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", resp.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(common.CodeInternal,
			fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}
