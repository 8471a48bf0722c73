// Package backend defines the capability interface every storage product must
// satisfy to host stores and locks.
//
// The interface is deliberately small: conditional create, upsert, read,
// delete, full key scan, count and an optional bulk drop, all scoped by a
// namespace. What a product cannot do natively is advertised through
// Capabilities and emulated by the store and lock layers:
//
//   - FeatureNativeTTL: without it, expiry is recorded inside the value and
//     checked on read.
//   - FeatureAtomicCreate: without it, PutIfAbsent is a read-then-write and the
//     caller confirms ownership with a second read.
//   - FeatureBulkDrop: without it, namespaces are cleared by scan and delete.
//   - FeatureRawValues: without it, values are base64 encoded.
//   - FeatureRestrictedKeys: keys are encoded with the URL safe alphabet.
//   - BoundedIDSpace: store ids are allocated from a fixed pool and recycled.
//   - Consistency: eventual backends get extra verification where it matters.
//
// Engines live below engines/ (maple, badger, bolt, s3, raft). The testing
// package provides RunBackendTests, a conformance suite every engine runs.
package backend
