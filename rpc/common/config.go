package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Transports and serializers known to the server and client factories
var (
	Transports  = []string{"tcp", "unix", "http"}
	Serializers = []string{"binary", "json", "gob"}
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures the rpc server that exposes backends to remote
// sessions
type ServerConfig struct {
	// Transport is one of tcp, unix or http
	Transport string
	// Endpoint is host:port for tcp and http, a socket path for unix
	Endpoint   string
	Serializer string

	// Shards maps shard ids to a description of the backend served under them
	Shards map[uint64]string

	// TimeoutSecond bounds reads, writes and the handling of a request (0 = none)
	TimeoutSecond int64

	// Socket settings (tcp and unix only)
	WorkersPerConn  int
	BufferSize      int
	TCPNoDelay      bool
	TCPKeepAliveSec int

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a tcp server on endpoint using the binary
// serializer
func DefaultServerConfig(endpoint string) ServerConfig {
	return ServerConfig{
		Transport:       "tcp",
		Endpoint:        endpoint,
		Serializer:      "binary",
		Shards:          map[uint64]string{},
		TimeoutSecond:   5,
		WorkersPerConn:  64,
		BufferSize:      512 * 1024,
		TCPNoDelay:      true,
		TCPKeepAliveSec: 30,
		LogLevel:        "info",
	}
}

// Timeout returns TimeoutSecond as a duration
func (c ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// Validate checks transport, serializer and endpoint
func (c ServerConfig) Validate() error {
	if err := validateName("transport", c.Transport, Transports); err != nil {
		return err
	}
	if err := validateName("serializer", c.Serializer, Serializers); err != nil {
		return err
	}
	if c.Endpoint == "" {
		return fmt.Errorf("rpc: endpoint required")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Transport", c.Transport)
	addField("Endpoint", c.Endpoint)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.Transport != "http" {
		addField("Workers Per Conn", strconv.Itoa(c.WorkersPerConn))
		addField("Buffer Size", strconv.Itoa(c.BufferSize))
	}
	if c.Transport == "tcp" {
		addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Shards, sorted for consistent output
	addSection("Shards")
	ids := make([]uint64, 0, len(c.Shards))
	for id := range c.Shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		addField(strconv.FormatUint(id, 10), c.Shards[id])
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures a remote backend client
type ClientConfig struct {
	Transport              string
	Endpoints              []string
	Serializer             string
	ShardID                uint64
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	TCPNoDelay             bool
}

// DefaultClientConfig returns a tcp client for shard 1 on the given endpoints
func DefaultClientConfig(endpoints ...string) ClientConfig {
	return ClientConfig{
		Transport:              "tcp",
		Endpoints:              endpoints,
		Serializer:             "binary",
		ShardID:                1,
		TimeoutSecond:          5,
		RetryCount:             3,
		ConnectionsPerEndpoint: 1,
		TCPNoDelay:             true,
	}
}

// Timeout returns TimeoutSecond as a duration
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// Validate checks transport, serializer and endpoints
func (c ClientConfig) Validate() error {
	if err := validateName("transport", c.Transport, Transports); err != nil {
		return err
	}
	if err := validateName("serializer", c.Serializer, Serializers); err != nil {
		return err
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("rpc: no endpoints provided")
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Shard", strconv.FormatUint(c.ShardID, 10))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.ConnectionsPerEndpoint)))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func validateName(kind, name string, valid []string) error {
	for _, v := range valid {
		if name == v {
			return nil
		}
	}
	return fmt.Errorf("rpc: invalid %s: %q. must be one of %s", kind, name, strings.Join(valid, ", "))
}
