package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dNet/lib/buffer"
)

// FriendlyFormat is the part of a wire format a FriendlySpliter needs to know.
// The spliter takes care of windowing, partial packets and size limits.
type FriendlyFormat interface {
	// TryGetPacketSize inspects the start of window and returns the size of the packet
	// header and the total size of the packet (header + payload).
	// total is -1 if the window is too short to tell.
	TryGetPacketSize(window []byte) (header, total int, err error)

	// WritePacket appends the wire representation of payload to scratch
	WritePacket(payload []byte, scratch *buffer.DynamicBuffer) error
}

// FriendlySpliter implements PacketSpliter on top of a FriendlyFormat
type FriendlySpliter struct {
	format          FriendlyFormat
	name            string
	maxPacketLength int
}

// NewFriendlySpliter wraps a format. The name is only used for logging.
func NewFriendlySpliter(name string, format FriendlyFormat, maxPacketLength int) *FriendlySpliter {
	return &FriendlySpliter{
		format:          format,
		name:            name,
		maxPacketLength: maxLength(maxPacketLength),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see framing.PacketSpliter)
// --------------------------------------------------------------------------

func (s *FriendlySpliter) Name() string {
	return s.name
}

func (s *FriendlySpliter) GetPackets(buf []byte, offset, count int, clientID uint64) ([]Packet, int, error) {
	if err := checkWindow(buf, offset, count); err != nil {
		return nil, offset, err
	}

	var packets []Packet
	pos, end := offset, offset+count

	for pos < end {
		header, total, err := s.format.TryGetPacketSize(buf[pos:end])
		if err != nil {
			return packets, pos, err
		}
		if total < 0 {
			break
		}
		if header < 0 || total < header || total == 0 {
			return packets, pos, fmt.Errorf("%w: format reported header %d, total %d", ErrInvalidPacket, header, total)
		}
		if total-header > s.maxPacketLength {
			return packets, pos, fmt.Errorf("%w: declared length %d > %d", ErrPacketTooLarge, total-header, s.maxPacketLength)
		}
		if end-pos < total {
			break
		}
		packets = append(packets, copyPacket(clientID, buf[pos+header:pos+total]))
		pos += total
	}

	return packets, pos, nil
}

func (s *FriendlySpliter) MakePacket(payload []byte, scratch *buffer.DynamicBuffer) ([]byte, error) {
	if len(payload) > s.maxPacketLength {
		return nil, fmt.Errorf("%w: payload %d > %d", ErrPacketTooLarge, len(payload), s.maxPacketLength)
	}
	scratch.Reset()
	if err := s.format.WritePacket(payload, scratch); err != nil {
		return nil, err
	}
	return scratch.Bytes(), nil
}

// --------------------------------------------------------------------------
// Varint Format
// --------------------------------------------------------------------------

// VarintFormat is a FriendlyFormat with an unsigned varint length prefix.
// It keeps the overhead at one byte for payloads below 128 bytes.
type VarintFormat struct{}

// NewVarintSpliter creates a FriendlySpliter using the VarintFormat
func NewVarintSpliter(maxPacketLength int) *FriendlySpliter {
	return NewFriendlySpliter(string(TypeVarint), VarintFormat{}, maxPacketLength)
}

func (VarintFormat) TryGetPacketSize(window []byte) (int, int, error) {
	length, n := binary.Uvarint(window)
	if n == 0 {
		return 0, -1, nil // prefix not complete yet
	}
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: varint length overflow", ErrInvalidPacket)
	}
	if length == 0 {
		return 0, 0, fmt.Errorf("%w: declared length 0", ErrInvalidPacket)
	}
	if length > uint64(DefaultMaxPacketLength)*64 {
		return 0, 0, fmt.Errorf("%w: declared length %d", ErrPacketTooLarge, length)
	}
	return n, n + int(length), nil
}

func (VarintFormat) WritePacket(payload []byte, scratch *buffer.DynamicBuffer) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(payload)))
	scratch.Write(prefix[:n])
	scratch.Write(payload)
	return nil
}
