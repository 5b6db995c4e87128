package framing

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dNet/lib/buffer"
)

// EndMarkSpliter cuts the stream at a terminator byte sequence (e.g. "\r\n").
// Empty segments between two terminators are skipped.
type EndMarkSpliter struct {
	mark            []byte
	includeMark     bool
	maxPacketLength int
}

// NewEndMarkSpliter creates a terminator based spliter.
// If includeMark is set the delivered packets end with the terminator.
func NewEndMarkSpliter(mark []byte, includeMark bool, maxPacketLength int) (*EndMarkSpliter, error) {
	if len(mark) == 0 {
		return nil, errors.New("framing: end mark must not be empty")
	}
	m := make([]byte, len(mark))
	copy(m, mark)
	return &EndMarkSpliter{
		mark:            m,
		includeMark:     includeMark,
		maxPacketLength: maxLength(maxPacketLength),
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see framing.PacketSpliter)
// --------------------------------------------------------------------------

func (s *EndMarkSpliter) Name() string {
	return string(TypeEndMark)
}

func (s *EndMarkSpliter) GetPackets(buf []byte, offset, count int, clientID uint64) ([]Packet, int, error) {
	if err := checkWindow(buf, offset, count); err != nil {
		return nil, offset, err
	}

	var packets []Packet
	pos, end := offset, offset+count

	for pos < end {
		idx := bytes.Index(buf[pos:end], s.mark)
		if idx < 0 {
			// the trailing bytes may end with a partial terminator
			if end-pos > s.maxPacketLength+len(s.mark)-1 {
				return packets, pos, fmt.Errorf("%w: no end mark within %d bytes", ErrPacketTooLarge, s.maxPacketLength)
			}
			break
		}
		if idx > s.maxPacketLength {
			return packets, pos, fmt.Errorf("%w: segment of %d bytes > %d", ErrPacketTooLarge, idx, s.maxPacketLength)
		}

		if idx > 0 {
			segEnd := pos + idx
			if s.includeMark {
				segEnd += len(s.mark)
			}
			packets = append(packets, copyPacket(clientID, buf[pos:segEnd]))
		}
		pos += idx + len(s.mark)
	}

	return packets, pos, nil
}

func (s *EndMarkSpliter) MakePacket(payload []byte, scratch *buffer.DynamicBuffer) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > s.maxPacketLength {
		return nil, fmt.Errorf("%w: payload %d > %d", ErrPacketTooLarge, len(payload), s.maxPacketLength)
	}

	scratch.Reset()
	scratch.Write(payload)
	scratch.Write(s.mark)
	return scratch.Bytes(), nil
}
