package framing

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dNet/lib/buffer"
)

var (
	// ErrInvalidPacket marks a framing contract violation. It is fatal to the connection.
	ErrInvalidPacket = errors.New("framing: invalid packet")
	// ErrPacketTooLarge is returned if a declared or buffered length exceeds MaxPacketLength
	ErrPacketTooLarge = fmt.Errorf("%w: packet too large", ErrInvalidPacket)
	// ErrBadMagic is returned by the HeaderSpliter if a packet does not start with the magic tag
	ErrBadMagic = fmt.Errorf("%w: bad magic", ErrInvalidPacket)
	// ErrEmptyPayload is returned by MakePacket for payloads that can not be framed
	ErrEmptyPayload = errors.New("framing: empty payload")
)

// DefaultMaxPacketLength is used if a spliter is configured with a maximum <= 0
const DefaultMaxPacketLength = 16 * 1024 * 1024

// Packet is one complete message cut out of a byte stream
type Packet struct {
	// ClientID of the connection the bytes were received on
	ClientID uint64
	// Data is a private copy of the payload and stays valid after the
	// receive buffer is compacted
	Data []byte
}

// PacketSpliter is the framing strategy of a connection set
type PacketSpliter interface {
	// GetPackets frames the window buf[offset:offset+count].
	// It returns all complete packets and endPos, the index in buf after the last consumed
	// byte (offset <= endPos <= offset+count). Bytes after endPos belong to a partial packet.
	// On error the packets framed before the error are still returned together with the
	// endPos after them.
	GetPackets(buf []byte, offset, count int, clientID uint64) (packets []Packet, endPos int, err error)

	// MakePacket serializes payload into scratch (which is reset first) and returns the wire
	// bytes. The result aliases scratch and is valid until the next use of scratch.
	// Empty payloads can not be framed: a zero length is invalid on the wire and an empty
	// segment is skipped by the receiver, so every variant returns ErrEmptyPayload for them.
	// Round trips therefore hold for 1 <= len(payload) <= MaxPacketLength.
	MakePacket(payload []byte, scratch *buffer.DynamicBuffer) ([]byte, error)

	// Name returns a short name of the strategy (used for logging and config)
	Name() string
}

// copyPacket returns a packet holding a private copy of data
func copyPacket(clientID uint64, data []byte) Packet {
	c := make([]byte, len(data))
	copy(c, data)
	return Packet{ClientID: clientID, Data: c}
}

// checkWindow validates the window arguments of GetPackets
func checkWindow(buf []byte, offset, count int) error {
	if offset < 0 || count < 0 || offset+count > len(buf) {
		return errors.New("framing: window out of range")
	}
	return nil
}

func maxLength(configured int) int {
	if configured <= 0 {
		return DefaultMaxPacketLength
	}
	return configured
}
