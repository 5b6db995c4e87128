package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/dNet/lib/buffer"
)

// allSpliters returns one instance of every shipped spliter with a small max length
func allSpliters(t *testing.T, max int) []PacketSpliter {
	t.Helper()
	endMark, err := NewEndMarkSpliter([]byte("\r\n"), false, max)
	if err != nil {
		t.Fatalf("Failed to create end mark spliter: %v", err)
	}
	return []PacketSpliter{
		NewSimpleSpliter(max, false),
		NewSimpleSpliter(max, true),
		NewHeaderSpliter(DefaultMagic, max, false),
		NewHeaderSpliter(0xCAFEBABE, max, true),
		endMark,
		NewVarintSpliter(max),
	}
}

// randomPayload returns a payload of n bytes that never contains '\r' or '\n'
func randomPayload(r *rand.Rand, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('a' + r.Intn(26))
	}
	return p
}

// TestRoundTrip tests that GetPackets(MakePacket(P)) yields exactly [P]
func TestRoundTrip(t *testing.T) {
	const max = 4096
	r := rand.New(rand.NewSource(1))
	scratch := buffer.NewDynamicBuffer(16)

	for _, s := range allSpliters(t, max) {
		for _, size := range []int{1, 2, 7, 255, 1024, max} {
			payload := randomPayload(r, size)

			wire, err := s.MakePacket(payload, scratch)
			if err != nil {
				t.Fatalf("%s: MakePacket(%d bytes) failed: %v", s.Name(), size, err)
			}

			packets, endPos, err := s.GetPackets(wire, 0, len(wire), 7)
			if err != nil {
				t.Fatalf("%s: GetPackets failed: %v", s.Name(), err)
			}
			if len(packets) != 1 {
				t.Fatalf("%s: expected 1 packet, got %d", s.Name(), len(packets))
			}
			if !bytes.Equal(packets[0].Data, payload) {
				t.Errorf("%s: payload mismatch for size %d", s.Name(), size)
			}
			if packets[0].ClientID != 7 {
				t.Errorf("%s: expected client id 7, got %d", s.Name(), packets[0].ClientID)
			}
			if endPos != len(wire) {
				t.Errorf("%s: expected endPos %d, got %d", s.Name(), len(wire), endPos)
			}
		}
	}
}

// TestRawRoundTrip tests the identity spliter
func TestRawRoundTrip(t *testing.T) {
	s := NewRawSpliter()
	scratch := buffer.NewDynamicBuffer(4)

	wire, err := s.MakePacket([]byte("raw bytes"), scratch)
	if err != nil {
		t.Fatalf("MakePacket failed: %v", err)
	}

	buf := append([]byte("xx"), wire...)
	packets, endPos, err := s.GetPackets(buf, 2, len(wire), 1)
	if err != nil {
		t.Fatalf("GetPackets failed: %v", err)
	}
	if len(packets) != 1 || string(packets[0].Data) != "raw bytes" {
		t.Fatalf("Unexpected packets %v", packets)
	}
	if endPos != len(buf) {
		t.Errorf("Expected endPos %d, got %d", len(buf), endPos)
	}

	packets, endPos, _ = s.GetPackets(buf, 3, 0, 1)
	if len(packets) != 0 || endPos != 3 {
		t.Errorf("Expected no packets for empty window, got %d / endPos %d", len(packets), endPos)
	}
}

// TestPartialFrameStability feeds a message one byte at a time
func TestPartialFrameStability(t *testing.T) {
	scratch := buffer.NewDynamicBuffer(16)

	for _, s := range allSpliters(t, 1024) {
		wire, err := s.MakePacket([]byte("partial message"), scratch)
		if err != nil {
			t.Fatalf("%s: MakePacket failed: %v", s.Name(), err)
		}
		wire = append([]byte(nil), wire...)

		for i := 0; i < len(wire); i++ {
			packets, endPos, err := s.GetPackets(wire[:i], 0, i, 1)
			if err != nil {
				t.Fatalf("%s: unexpected error at %d bytes: %v", s.Name(), i, err)
			}
			if len(packets) != 0 {
				t.Fatalf("%s: got a packet with only %d of %d bytes", s.Name(), i, len(wire))
			}
			if endPos != 0 {
				t.Fatalf("%s: partial state consumed %d bytes", s.Name(), endPos)
			}
		}

		packets, endPos, err := s.GetPackets(wire, 0, len(wire), 1)
		if err != nil || len(packets) != 1 || endPos != len(wire) {
			t.Fatalf("%s: expected the complete packet, got %d packets, endPos %d, err %v", s.Name(), len(packets), endPos, err)
		}
	}
}

// TestMultiplePacketsWithTrailingPartial checks that only complete packets are consumed
func TestMultiplePacketsWithTrailingPartial(t *testing.T) {
	s := NewSimpleSpliter(1024, true)
	scratch := buffer.NewDynamicBuffer(16)

	var stream []byte
	for _, msg := range []string{"one", "two", "three"} {
		wire, _ := s.MakePacket([]byte(msg), scratch)
		stream = append(stream, wire...)
	}
	complete := len(stream)
	wire, _ := s.MakePacket([]byte("four"), scratch)
	stream = append(stream, wire[:5]...)

	packets, endPos, err := s.GetPackets(stream, 0, len(stream), 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(packets) != 3 {
		t.Fatalf("Expected 3 packets, got %d", len(packets))
	}
	if string(packets[2].Data) != "three" {
		t.Errorf("Expected third packet 'three', got %q", packets[2].Data)
	}
	if endPos != complete {
		t.Errorf("Expected endPos %d, got %d", complete, endPos)
	}
}

// TestOversizedRejection verifies that a declared length > max is rejected without consuming
func TestOversizedRejection(t *testing.T) {
	s := NewSimpleSpliter(100, false)

	buf := make([]byte, 10)
	binary.LittleEndian.PutUint32(buf, 101)

	packets, endPos, err := s.GetPackets(buf, 0, len(buf), 1)
	if !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("Expected ErrPacketTooLarge, got %v", err)
	}
	if !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("Expected size error to be an invalid packet error")
	}
	if len(packets) != 0 || endPos != 0 {
		t.Errorf("Expected no progress, got %d packets and endPos %d", len(packets), endPos)
	}

	// MakePacket refuses oversized payloads as well
	if _, err := s.MakePacket(make([]byte, 101), buffer.NewDynamicBuffer(8)); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("Expected MakePacket to fail with ErrPacketTooLarge, got %v", err)
	}
}

// TestNonPositiveLength tests that zero and negative lengths are protocol violations
func TestNonPositiveLength(t *testing.T) {
	s := NewSimpleSpliter(100, true)

	for _, length := range []int32{0, -1} {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf, uint32(length))
		_, endPos, err := s.GetPackets(buf, 0, len(buf), 1)
		if !errors.Is(err, ErrInvalidPacket) {
			t.Errorf("Expected ErrInvalidPacket for length %d, got %v", length, err)
		}
		if endPos != 0 {
			t.Errorf("Expected endPos 0, got %d", endPos)
		}
	}
}

// TestErrorAfterValidPackets checks that packets before a corrupt one are still returned
func TestErrorAfterValidPackets(t *testing.T) {
	s := NewHeaderSpliter(DefaultMagic, 100, false)
	scratch := buffer.NewDynamicBuffer(16)

	wire, _ := s.MakePacket([]byte("good"), scratch)
	stream := append([]byte(nil), wire...)
	stream = append(stream, 0xDE, 0xAD, 0xBE, 0xEF, 1, 0, 0, 0, 'x')

	packets, endPos, err := s.GetPackets(stream, 0, len(stream), 1)
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("Expected ErrBadMagic, got %v", err)
	}
	if len(packets) != 1 || string(packets[0].Data) != "good" {
		t.Errorf("Expected the valid packet to be returned, got %v", packets)
	}
	if endPos != len(wire) {
		t.Errorf("Expected endPos %d, got %d", len(wire), endPos)
	}
}

// TestBadMagicRejection tests that any other tag fails independent of the payload
func TestBadMagicRejection(t *testing.T) {
	s := NewHeaderSpliter(DefaultMagic, 1024, false)
	r := rand.New(rand.NewSource(2))

	for i := 0; i < 100; i++ {
		tag := r.Uint32()
		if tag == DefaultMagic {
			continue
		}
		buf := make([]byte, 4+r.Intn(64))
		binary.LittleEndian.PutUint32(buf, tag)
		r.Read(buf[4:])

		_, endPos, err := s.GetPackets(buf, 0, len(buf), 1)
		if !errors.Is(err, ErrBadMagic) || !errors.Is(err, ErrInvalidPacket) {
			t.Fatalf("Expected ErrBadMagic for tag 0x%08X, got %v", tag, err)
		}
		if endPos != 0 {
			t.Fatalf("Expected endPos 0, got %d", endPos)
		}
	}
}

// TestEndMarkSkipsEmptySegments tests consecutive terminators
func TestEndMarkSkipsEmptySegments(t *testing.T) {
	s, err := NewEndMarkSpliter([]byte("\n"), false, 100)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	buf := []byte("\n\nfoo\n\n\nbar\nba")
	packets, endPos, err := s.GetPackets(buf, 0, len(buf), 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(packets) != 2 || string(packets[0].Data) != "foo" || string(packets[1].Data) != "bar" {
		t.Fatalf("Expected [foo bar], got %v", packets)
	}
	if endPos != len(buf)-2 {
		t.Errorf("Expected the partial 'ba' to stay, endPos %d", endPos)
	}
}

// TestEndMarkInclude tests delivering the terminator with the packet
func TestEndMarkInclude(t *testing.T) {
	s, _ := NewEndMarkSpliter([]byte("\r\n"), true, 100)
	buf := []byte("GET /\r\n")

	packets, _, err := s.GetPackets(buf, 0, len(buf), 1)
	if err != nil || len(packets) != 1 {
		t.Fatalf("Expected one packet, got %d (%v)", len(packets), err)
	}
	if string(packets[0].Data) != "GET /\r\n" {
		t.Errorf("Expected terminator to be included, got %q", packets[0].Data)
	}
}

// TestEndMarkTooLong checks that a stream without terminator can not grow without limit
func TestEndMarkTooLong(t *testing.T) {
	s, _ := NewEndMarkSpliter([]byte("\r\n"), false, 8)

	// max + partial terminator is still fine
	buf := []byte("12345678\r")
	if _, _, err := s.GetPackets(buf, 0, len(buf), 1); err != nil {
		t.Fatalf("Unexpected error for a packet of max size with partial terminator: %v", err)
	}

	buf = []byte("123456789x")
	if _, _, err := s.GetPackets(buf, 0, len(buf), 1); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("Expected ErrPacketTooLarge, got %v", err)
	}
}

// TestEmptyPayload tests that empty payloads are refused by every spliter
func TestEmptyPayload(t *testing.T) {
	scratch := buffer.NewDynamicBuffer(8)
	spliters := append(allSpliters(t, 100), NewRawSpliter())
	for _, s := range spliters {
		if _, err := s.MakePacket(nil, scratch); !errors.Is(err, ErrEmptyPayload) {
			t.Errorf("%s: expected ErrEmptyPayload, got %v", s.Name(), err)
		}
	}
}

// TestWindowOffset checks that framing honours offset and count
func TestWindowOffset(t *testing.T) {
	s := NewVarintSpliter(100)
	scratch := buffer.NewDynamicBuffer(8)
	wire, _ := s.MakePacket([]byte("abc"), scratch)

	buf := append([]byte("garbage"), wire...)
	packets, endPos, err := s.GetPackets(buf, 7, len(wire), 3)
	if err != nil || len(packets) != 1 || string(packets[0].Data) != "abc" {
		t.Fatalf("Expected [abc], got %v (%v)", packets, err)
	}
	if endPos != len(buf) {
		t.Errorf("Expected endPos %d, got %d", len(buf), endPos)
	}

	if _, _, err := s.GetPackets(buf, 5, len(buf), 3); err == nil {
		t.Errorf("Expected error for a window out of range")
	}
}

// failingFormat is a FriendlyFormat that returns a non fatal error
type failingFormat struct{}

var errFormat = errors.New("format failure")

func (failingFormat) TryGetPacketSize([]byte) (int, int, error) { return 0, 0, errFormat }
func (failingFormat) WritePacket([]byte, *buffer.DynamicBuffer) error {
	return errFormat
}

// TestFriendlyFormatErrors checks that format errors are passed through unchanged
func TestFriendlyFormatErrors(t *testing.T) {
	s := NewFriendlySpliter("failing", failingFormat{}, 100)

	_, _, err := s.GetPackets([]byte{1, 2, 3}, 0, 3, 1)
	if !errors.Is(err, errFormat) || errors.Is(err, ErrInvalidPacket) {
		t.Errorf("Expected the format error, got %v", err)
	}
	if _, err := s.MakePacket([]byte("x"), buffer.NewDynamicBuffer(8)); !errors.Is(err, errFormat) {
		t.Errorf("Expected the format error from MakePacket, got %v", err)
	}
}

// TestNewFromConfig tests the factory
func TestNewFromConfig(t *testing.T) {
	for _, typ := range []Type{TypeSimple, TypeHeader, TypeEndMark, TypeRaw, TypeVarint, ""} {
		s, err := New(Config{Type: typ})
		if err != nil {
			t.Fatalf("Unexpected error for type %q: %v", typ, err)
		}
		want := typ
		if want == "" {
			want = TypeSimple
		}
		if s.Name() != string(want) {
			t.Errorf("Expected spliter %q, got %q", want, s.Name())
		}
	}

	if _, err := New(Config{Type: "json"}); err == nil {
		t.Errorf("Expected error for unknown type")
	}
}
