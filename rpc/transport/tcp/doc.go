// Package tcp plugs TCP sockets into the framed transport of package base.
// Besides dialing and listening it applies TCP_NODELAY and keep-alive settings
// from the rpc configuration to every connection.
package tcp
