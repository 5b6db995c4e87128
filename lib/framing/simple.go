package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dNet/lib/buffer"
)

// byteOrder returns the order used for length fields.
// Host order is little endian on every platform dNet targets.
func byteOrder(network bool) binary.ByteOrder {
	if network {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// SimpleSpliter frames packets as [length int32][payload]
type SimpleSpliter struct {
	maxPacketLength int
	order           binary.ByteOrder
}

// NewSimpleSpliter creates a length prefix spliter.
// If networkByteOrder is set the length is written big endian.
func NewSimpleSpliter(maxPacketLength int, networkByteOrder bool) *SimpleSpliter {
	return &SimpleSpliter{
		maxPacketLength: maxLength(maxPacketLength),
		order:           byteOrder(networkByteOrder),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see framing.PacketSpliter)
// --------------------------------------------------------------------------

func (s *SimpleSpliter) Name() string {
	return string(TypeSimple)
}

func (s *SimpleSpliter) GetPackets(buf []byte, offset, count int, clientID uint64) ([]Packet, int, error) {
	if err := checkWindow(buf, offset, count); err != nil {
		return nil, offset, err
	}

	var packets []Packet
	pos, end := offset, offset+count

	// a packet needs the 4 byte length and at least one payload byte
	for end-pos >= 5 {
		length := int(int32(s.order.Uint32(buf[pos:])))
		if length <= 0 {
			return packets, pos, fmt.Errorf("%w: declared length %d", ErrInvalidPacket, length)
		}
		if length > s.maxPacketLength {
			return packets, pos, fmt.Errorf("%w: declared length %d > %d", ErrPacketTooLarge, length, s.maxPacketLength)
		}
		if end-pos < 4+length {
			break // partial packet
		}
		packets = append(packets, copyPacket(clientID, buf[pos+4:pos+4+length]))
		pos += 4 + length
	}

	return packets, pos, nil
}

func (s *SimpleSpliter) MakePacket(payload []byte, scratch *buffer.DynamicBuffer) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > s.maxPacketLength {
		return nil, fmt.Errorf("%w: payload %d > %d", ErrPacketTooLarge, len(payload), s.maxPacketLength)
	}

	var header [4]byte
	s.order.PutUint32(header[:], uint32(len(payload)))

	scratch.Reset()
	scratch.Write(header[:])
	scratch.Write(payload)
	return scratch.Bytes(), nil
}
