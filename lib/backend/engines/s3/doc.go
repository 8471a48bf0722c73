// Package s3 implements backend.Backend on S3 compatible object storage using
// minio-go.
//
// Entries are objects named <prefix>/<namespace>/k<key>. Object names treat
// '/' as a path separator and many gateways mangle '+', so the engine
// advertises FeatureRestrictedKeys and the store layer encodes keys with the
// URL-safe base64 alphabet.
//
// Object stores have no bulk delete and no per-object expiry. PutIfAbsent is
// a stat followed by a put unless Config.ConditionalWrites is set, in which
// case it sends "If-None-Match: *" and the engine advertises atomic create.
// Listings are eventually consistent on many services, which the engine
// reports as ConsistencyEventual.
package s3
