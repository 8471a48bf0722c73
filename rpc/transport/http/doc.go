// Package http carries rpc frames over plain HTTP. Every request is a
// POST /{shardId} whose body is the serialized message, the response body is
// the serialized reply.
//
// The client spreads requests round robin over the configured endpoints and
// retries network and 5xx failures with exponential backoff. 4xx responses
// are not retried. With log level debug the server logs every request.
//
// The transport needs no framing of its own and is the simplest way to reach
// a server through proxies.
package http
