// Package transport defines the public interfaces of the dNet socket engine.
//
// A server (IServer) accepts connections, frames the byte stream of each connection with
// a pluggable framing strategy and delivers every packet as a Message to a registered
// MessageHandleFunc. Connections are partitioned into shards; each shard delivers its
// messages and status changes on a single worker, so a handler is never called
// concurrently for connections of the same shard and always in arrival order for the
// same connection.
//
// A client (IClient) is the single connection counterpart with optional auto reconnect
// and the client side of the group protocol.
//
// Implementations live in the subpackages:
//
//   - base: transport agnostic engine (context pool, shards, server, client)
//   - tcp: TCP connectors
//   - unix: unix domain socket connectors
//   - http: monitoring endpoint for a running server
package transport
