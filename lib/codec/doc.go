// Package codec provides the reversible text encoding used for every name,
// key and type tag before it reaches a backend.
//
// Backends differ in what they accept as an identifier: some reject whitespace
// or control bytes, object stores treat '/' as a path separator. Passing all
// identifiers through base64 makes them uniform. Two alphabets exist:
//
//   - Standard: RFC 4648 padded base64 ('+' and '/').
//   - URLSafe:  RFC 4648 padded base64url ('-' and '_').
//
// The same codec must be used for encoding and decoding a given backend's data.
// Encoded tokens never contain '_' with the Standard alphabet, which is what
// allows the store layer to keep its metadata keys in the same namespace as
// encoded data keys.
package codec
