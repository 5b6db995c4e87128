package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dNet/lib/buffer"
)

// DefaultMagic is the tag of the HeaderSpliter if none is configured
const DefaultMagic uint32 = 0x4E455444 // "NETD"

const headerSize = 8

// HeaderSpliter frames packets as [magic uint32][length int32][payload].
// Every packet has to start with the configured magic, anything else is treated as an
// attack or a peer speaking another protocol.
type HeaderSpliter struct {
	magic           uint32
	maxPacketLength int
	order           binary.ByteOrder
}

// NewHeaderSpliter creates a spliter that checks the given magic tag
func NewHeaderSpliter(magic uint32, maxPacketLength int, networkByteOrder bool) *HeaderSpliter {
	return &HeaderSpliter{
		magic:           magic,
		maxPacketLength: maxLength(maxPacketLength),
		order:           byteOrder(networkByteOrder),
	}
}

// Magic returns the configured tag
func (s *HeaderSpliter) Magic() uint32 {
	return s.magic
}

// --------------------------------------------------------------------------
// Interface Methods (docu see framing.PacketSpliter)
// --------------------------------------------------------------------------

func (s *HeaderSpliter) Name() string {
	return string(TypeHeader)
}

func (s *HeaderSpliter) GetPackets(buf []byte, offset, count int, clientID uint64) ([]Packet, int, error) {
	if err := checkWindow(buf, offset, count); err != nil {
		return nil, offset, err
	}

	var packets []Packet
	pos, end := offset, offset+count

	for end-pos >= 4 {
		// the tag is checked as soon as it is complete, independent of the payload
		if tag := s.order.Uint32(buf[pos:]); tag != s.magic {
			return packets, pos, fmt.Errorf("%w: got 0x%08X, want 0x%08X", ErrBadMagic, tag, s.magic)
		}
		if end-pos < headerSize {
			break
		}

		length := int(int32(s.order.Uint32(buf[pos+4:])))
		if length <= 0 {
			return packets, pos, fmt.Errorf("%w: declared length %d", ErrInvalidPacket, length)
		}
		if length > s.maxPacketLength {
			return packets, pos, fmt.Errorf("%w: declared length %d > %d", ErrPacketTooLarge, length, s.maxPacketLength)
		}
		if end-pos < headerSize+length {
			break
		}

		packets = append(packets, copyPacket(clientID, buf[pos+headerSize:pos+headerSize+length]))
		pos += headerSize + length
	}

	return packets, pos, nil
}

func (s *HeaderSpliter) MakePacket(payload []byte, scratch *buffer.DynamicBuffer) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > s.maxPacketLength {
		return nil, fmt.Errorf("%w: payload %d > %d", ErrPacketTooLarge, len(payload), s.maxPacketLength)
	}

	var header [headerSize]byte
	s.order.PutUint32(header[:4], s.magic)
	s.order.PutUint32(header[4:], uint32(len(payload)))

	scratch.Reset()
	scratch.Write(header[:])
	scratch.Write(payload)
	return scratch.Bytes(), nil
}
