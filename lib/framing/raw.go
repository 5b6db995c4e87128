package framing

import "github.com/ValentinKolb/dNet/lib/buffer"

// RawSpliter does no framing at all: whatever bytes are available form one packet.
// It is used to proxy raw streams.
type RawSpliter struct{}

// NewRawSpliter creates the identity spliter
func NewRawSpliter() *RawSpliter {
	return &RawSpliter{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see framing.PacketSpliter)
// --------------------------------------------------------------------------

func (s *RawSpliter) Name() string {
	return string(TypeRaw)
}

func (s *RawSpliter) GetPackets(buf []byte, offset, count int, clientID uint64) ([]Packet, int, error) {
	if err := checkWindow(buf, offset, count); err != nil {
		return nil, offset, err
	}
	if count == 0 {
		return nil, offset, nil
	}
	return []Packet{copyPacket(clientID, buf[offset:offset+count])}, offset + count, nil
}

func (s *RawSpliter) MakePacket(payload []byte, scratch *buffer.DynamicBuffer) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	scratch.Reset()
	scratch.Write(payload)
	return scratch.Bytes(), nil
}
