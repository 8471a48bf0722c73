package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dps/rpc/common"
	"github.com/ValentinKolb/dps/rpc/transport"
	"github.com/cenkalti/backoff/v5"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// errConnClosed is reported to requests whose connection broke while they
// waited for the response
var errConnClosed = errors.New("connection closed")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// clientConnection represents a single net connection
type clientConnection struct {
	endpoint     string
	parent       *clientTransport
	requestChans *xsync.MapOf[uint64, chan responseResult]

	connMu sync.Mutex // Protects conn and serializes writes
	conn   net.Conn   // nil while disconnected
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex atomic.Uint64 // Round Robin counter
	nextRequestID atomic.Uint64 // Unique request IDs
	stopping      atomic.Bool
	readers       sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Stop the readers of a previous Connect so they do not redial the old
	// connections in the background
	t.stopping.Store(true)
	t.closeConnections()
	t.readers.Wait()
	t.config = config
	t.stopping.Store(false)

	connectionsPerEP := max(config.ConnectionsPerEndpoint, 1)
	connections := make([]*clientConnection, 0, len(config.Endpoints)*connectionsPerEP)

	for _, endpoint := range config.Endpoints {
		for i := 0; i < connectionsPerEP; i++ {
			clientConn := &clientConnection{
				endpoint:     endpoint,
				requestChans: xsync.NewMapOf[uint64, chan responseResult](),
				parent:       t,
			}

			// Establish the initial connection using reconnect
			conn, err := clientConn.reconnect()
			if err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				continue
			}
			connections = append(connections, clientConn)

			// Start the response reader
			t.readers.Add(1)
			go clientConn.readResponses(conn)
		}
	}

	if len(connections) == 0 {
		return fmt.Errorf("failed to connect to any of %v", config.Endpoints)
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	Logger.Infof("Connected %d of %d connections to %d endpoints using %s transport",
		len(connections), len(config.Endpoints)*connectionsPerEP, len(config.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Send(ctx context.Context, shardId uint64, req []byte) ([]byte, error) {
	if t.stopping.Load() {
		return nil, fmt.Errorf("transport closed")
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.RandomizationFactor = 0.1

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		conn := t.getNextConnection()
		if conn == nil {
			return nil, backoff.Permanent(fmt.Errorf("no active connections available"))
		}
		data, err := conn.send(ctx, shardId, req)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return data, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(max(t.config.RetryCount, 1))),
		backoff.WithNotify(func(err error, next time.Duration) {
			Logger.Debugf("Request attempt %d failed, retrying in %s: %v", attempt, next, err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to send request after %d attempts: %w", attempt, err)
	}
	return resp, nil
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	t.readers.Wait()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	switch len(t.connections) {
	case 0:
		return nil
	case 1:
		return t.connections[0]
	default:
		return t.connections[t.nextConnIndex.Add(1)%uint64(len(t.connections))]
	}
}

// closeConnections closes all active connections, their readers exit on the
// resulting read error
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, c := range t.connections {
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	}
	t.connections = nil
}

// send writes one request and waits for its response
func (c *clientConnection) send(ctx context.Context, shardId uint64, req []byte) ([]byte, error) {
	requestID := c.parent.nextRequestID.Add(1)
	timeout := c.parent.config.Timeout()

	// Register the response channel before writing, the reader may be faster
	respCh := make(chan responseResult, 1)
	c.requestChans.Store(requestID, respCh)
	defer c.requestChans.Delete(requestID)

	c.connMu.Lock()
	conn := c.conn
	if conn == nil {
		c.connMu.Unlock()
		return nil, errConnClosed
	}
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err := writeFrame(conn, shardId, requestID, req)
	c.connMu.Unlock()
	if err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, fmt.Errorf("request timed out after %s", timeout)
	}
}

// readResponses reads responses in a loop and distributes them to waiting
// requests. A broken connection fails every pending request and is replaced
// unless the transport is stopping.
func (c *clientConnection) readResponses(conn net.Conn) {
	defer c.parent.readers.Done()

	for {
		shardID, requestID, data, err := readFrame(conn, nil)
		if err == nil {
			if respCh, found := c.requestChans.Load(requestID); found {
				select {
				case respCh <- responseResult{data: data}:
				default:
				}
			} else {
				Logger.Warningf("Received response for unknown request ID %d with shard ID %d", requestID, shardID)
			}
			continue
		}

		c.failPending(fmt.Errorf("%w: %v", errConnClosed, err))
		if c.parent.stopping.Load() {
			return
		}

		Logger.Warningf("Connection to %s broke: %v", c.endpoint, err)
		conn, err = c.reconnectWithBackoff()
		if err != nil {
			Logger.Errorf("Failed to reconnect to %s: %v", c.endpoint, err)
			return
		}
	}
}

// failPending reports err to every request waiting on this connection
func (c *clientConnection) failPending(err error) {
	c.requestChans.Range(func(_ uint64, respCh chan responseResult) bool {
		select {
		case respCh <- responseResult{err: err}:
		default:
		}
		return true
	})
}

// reconnectWithBackoff retries reconnect until it succeeds or the transport stops
func (c *clientConnection) reconnectWithBackoff() (net.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = 2 * time.Second

	return backoff.Retry(context.Background(), func() (net.Conn, error) {
		if c.parent.stopping.Load() {
			return nil, backoff.Permanent(fmt.Errorf("transport closed"))
		}
		return c.reconnect()
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(time.Minute))
}

// reconnect establishes or restores the connection to the endpoint
func (c *clientConnection) reconnect() (net.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	conn, err := c.parent.connector.Connect(c.endpoint, c.parent.config.Timeout())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.endpoint, err)
	}

	// Close may have run while dialing
	if c.parent.stopping.Load() {
		conn.Close()
		return nil, backoff.Permanent(fmt.Errorf("transport closed"))
	}

	c.conn = conn
	return conn, nil
}
