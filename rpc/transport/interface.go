package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/dps/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a shardId and a request as parameters and returns a response.
// req is only valid until the function returns.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler must be registered before Listen is called
	RegisterHandler(handler ServerHandleFunc)
	// Listen opens the endpoint and returns once it accepts connections.
	// Requests are served in the background until Close is called.
	Listen(config common.ServerConfig) error
	// Addr returns the address the transport listens on, nil before Listen
	Addr() net.Addr
	// Close stops accepting requests and closes open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response. Failed
	// attempts are retried up to the configured retry count while ctx is live.
	Send(ctx context.Context, shardId uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
