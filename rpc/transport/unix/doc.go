// Package unix plugs Unix domain sockets into the framed transport of package
// base. It is meant for a client and server on the same machine. The endpoint
// is the socket path, a stale socket file is removed before listening.
package unix
