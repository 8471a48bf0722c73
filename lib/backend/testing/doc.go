// Package testing provides a conformance suite for backend.Backend
// implementations.
//
// Every engine calls RunBackendTests from its own test file:
//
//	func Test(t *testing.T) {
//	    backendtesting.RunBackendTests(t, "Maple", backendtesting.Harness{
//	        New: func(t testing.TB) backend.Backend { return maple.NewMapleDB(nil) },
//	    })
//	}
//
// RunBackendBenchmarks takes the same Harness and measures the hot paths
// (Put, Get, PutIfAbsent, ScanKeys, a mixed workload) in parallel.
//
// Tests that depend on an optional capability (native TTL, atomic create,
// bulk drop, Sequencer) skip themselves when the backend does not advertise it.
package testing
