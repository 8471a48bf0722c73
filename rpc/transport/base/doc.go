// Package base implements the framed request/response protocol shared by the
// stream transports (tcp and unix). Protocol specific parts such as dialing,
// listening and socket options are injected through IClientConnector and
// IServerConnector.
//
// Every frame carries a 20 byte header:
//
//	shardID (uint64 BE) | requestID (uint64 BE) | length (uint32 BE) | payload
//
// The client multiplexes concurrent requests over a small set of connections
// (round robin) and matches responses by requestID, so responses may arrive
// out of order. Broken connections fail their pending requests and are
// re-established in the background with exponential backoff. Failed sends are
// retried up to ClientConfig.RetryCount times.
//
// The server starts a reader per connection and hands each frame to a bounded
// number of workers (ServerConfig.WorkersPerConn). Read buffers come from a
// sync.Pool sized by ServerConfig.BufferSize.
//
// Thread-safety: all exported methods may be called concurrently.
package base
