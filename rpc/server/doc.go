// Package server exposes backends over rpc. Each backend.Backend is
// registered under a shard id and every request addressed to that shard is
// decoded, executed against the backend and answered by the backend adapter.
//
// Errors of the backend travel as message text plus an error code, so the
// remote client can restore sentinels such as backend.ErrUnsupported.
//
// Usage:
//
//	srv, err := server.NewFromConfig(common.DefaultServerConfig(":5000"))
//	if err != nil {
//		return err
//	}
//	srv.Register(1, maple.NewMapleDB(nil))
//	return srv.Serve(ctx)
//
// Thread-safety: requests are handled concurrently, the backends must be safe
// for concurrent use (all engines in lib/backend are).
package server
