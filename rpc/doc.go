// Package rpc serves backends to other processes. A backend hosted by a
// server process is reachable through client.NewRPCBackend, which implements
// backend.Backend, so stores and locks work the same on local and remote
// backends.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, error codes and the server and client
//     configuration.
//
//   - transport: network communication with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message encoding (Binary, JSON, GOB).
//
//   - client: the remote backend.
//
//   - server: hosts backends under shard ids.
package rpc
