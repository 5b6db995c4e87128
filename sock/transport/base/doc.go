// Package base implements the dNet socket engine independent of the specific network
// protocol (TCP, Unix sockets, etc.). Protocol specific behavior is injected with the
// IServerConnector and IClientConnector interfaces.
//
// Key Components:
//
//   - ClientContext: per connection state (socket, receive queue, send scratch buffer,
//     speed controllers, cached remote address, user tag). Contexts are pooled and
//     identified by a monotonically increasing client id, never by the OS handle.
//
//   - ContextPool: bounded free list of contexts with io regions sliced out of one
//     preallocated backing array. Exhaustion rejects the connection.
//
//   - ClientsHandler: a shard of connections. Each connection has a read goroutine that
//     frames the received bytes; packets and status changes of the whole shard are
//     delivered on one ordered worker (util.OrderedScheduler).
//
//   - Server: accept loop, least loaded shard selection (new shards are created when all
//     shards reached MaxHandlerClientCount), in-band group protocol, send APIs.
//
//   - Client: single connection with connect timeout, auto reconnect and the client side
//     of the group protocol.
//
// Ordering:
//
//	Messages of one connection are delivered in the order they were received and never
//	concurrently. Messages of different connections of the same shard are serialized as
//	well, more shards mean more parallelism.
//
// Thread Safety:
//
//	All public methods are thread-safe. Handlers must be registered before Start/Connect.
//	Writes to one connection are serialized by a per connection lock.
package base
