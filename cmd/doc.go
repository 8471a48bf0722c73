// Package cmd implements the dps command-line interface. Every command opens
// a session on the backend selected with --backend (or DPS_BACKEND), runs one
// operation and closes the session again.
//
// The package is organized into several subpackages:
//
//   - store: catalog and entry operations (create, list, put, get, iterate,
//     dump, load, ...)
//   - ttl: the expiring key space
//   - lock: general purpose and user defined locks
//   - info: backend description, machine details and metrics
//   - serve: serve a backend to remote sessions over rpc
//   - perf: parallel throughput benchmarks against a scratch store
//   - util: flags, configuration and session bootstrap (internal use)
//
// See dps -help for a list of all commands.
package cmd
