// Package transport defines the interfaces every rpc transport implements.
// Requests and responses are opaque byte slices addressed to a shard, the
// serializer and the server adapter give them meaning.
//
// Implementations live in the sub packages: tcp and unix (both built on the
// framed protocol of base) and http.
package transport
