// Package client implements backend.Backend on top of the rpc transports. A
// session can run on a backend hosted by another process exactly as it would
// on a local one:
//
//	b, err := client.NewRPCBackend(ctx, common.DefaultClientConfig("db-host:5000"))
//	if err != nil {
//		return err
//	}
//	session, err := store.NewSession(ctx, b, store.DefaultConfig())
//
// The capabilities of the served backend are fetched once at connect and
// reported unchanged, so the session emulates exactly what the served backend
// lacks. backend.Sequencer is forwarded when the served backend has it,
// backend.NamespaceTTL is not.
//
// Performance Considerations:
//
//   - Raising ConnectionsPerEndpoint helps throughput for large values, for
//     small values a single connection is usually faster.
//   - The binary serializer is the fastest and most compact choice.
//
// Thread Safety:
//
//	The backend is safe for concurrent use from multiple goroutines.
package client
