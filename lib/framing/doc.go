// Package framing implements the packet spliter family: strategies that turn an accumulated
// byte window into zero or more complete packets and serialize outgoing messages into wire
// bytes.
//
// Key Components:
//
//   - PacketSpliter: the strategy interface. GetPackets is resumable, a partial packet is
//     never consumed and stays in the caller's buffer until more bytes arrive.
//
//   - SimpleSpliter: [length int32][payload], host (little endian) or network byte order.
//
//   - HeaderSpliter: [magic uint32][length int32][payload]. A magic mismatch is a protocol
//     violation and reported as ErrBadMagic.
//
//   - EndMarkSpliter: payloads separated by a terminator byte sequence.
//
//   - RawSpliter: identity framing, every available byte is a packet.
//
//   - FriendlySpliter: template spliter, a FriendlyFormat only has to tell the size of the
//     packet at the start of a window and how to serialize a payload.
//
// Error model:
//
//	"Not enough data yet" is never an error, GetPackets simply returns fewer packets and an
//	endPos that does not cover the partial packet. Errors wrapping ErrInvalidPacket mean the
//	stream is corrupt or hostile and the connection has to be dropped. Other errors (e.g.
//	from a user supplied FriendlyFormat) are not fatal.
//
// Spliters are stateless and can be shared by all connections. MakePacket writes into a
// connection private scratch buffer, so calls for different connections may run
// concurrently while calls on the same buffer must be serialized by the caller.
package framing
