// Package buffer provides the growable byte buffers used on every receive and send path
// of the dNet socket engine.
//
// The package contains:
//   - DynamicBuffer: a single growable byte array that accumulates data at the end and
//     discards data from the front. Storage doubles when it is too small and is shrunk
//     again periodically when usage statistics show that it is over-provisioned.
//   - RingQueue: a DynamicBuffer with a hard upper bound, used as the per connection
//     receive buffer so a peer cannot make the server allocate without limit.
//
// Neither type is safe for concurrent use. Receive buffers are owned by the read loop of a
// single connection, send buffers are guarded by the connection's send lock.
package buffer
