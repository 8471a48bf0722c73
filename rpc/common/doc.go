// Package common provides the data structures shared by the rpc server and
// client: the wire message, error codes and the server and client
// configuration.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. One message type
//     exists per backend operation, factory functions build the requests.
//
//   - ErrCode: Classifies the error text of a response so the client can
//     restore backend sentinels (ErrUnsupported, ErrClosed, ...) and context
//     errors with errors.Is.
//
//   - RemoteInfo: Capabilities and info of the served backend, fetched once
//     when a client connects.
//
//   - ServerConfig / ClientConfig: Transport, serializer, endpoints and
//     timeouts, with a sectioned String() for startup logs.
package common
