// Package serializer converts rpc messages to bytes and back. All
// implementations share the IRPCSerializer interface and are selected by name
// with New.
//
// Implementations:
//
//   - binary: Custom flag-based format that writes only the fields present in
//     a message. Smallest payloads and the fewest allocations, the default.
//
//   - json: Human-readable, useful for debugging with curl against the http
//     transport. Message types are written by name.
//
//   - gob: Go's self-describing format. Larger payloads than binary, kept for
//     peers that already speak gob.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
package serializer
