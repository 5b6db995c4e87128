package framing

import (
	"fmt"
	"strings"
)

// Type names a shipped framing strategy
type Type string

const (
	TypeSimple  Type = "simple"
	TypeHeader  Type = "header"
	TypeEndMark Type = "endmark"
	TypeRaw     Type = "raw"
	TypeVarint  Type = "varint"
)

// Config selects and parameterizes one of the shipped spliters.
// It is passed explicitly to servers and clients, there is no process wide default spliter.
type Config struct {
	// Type of the spliter
	Type Type
	// MaxPacketLength is the largest accepted payload (<= 0 selects DefaultMaxPacketLength)
	MaxPacketLength int
	// NetworkByteOrder writes length and magic fields big endian (simple, header)
	NetworkByteOrder bool
	// Magic is the packet tag of the header spliter (0 selects DefaultMagic)
	Magic uint32
	// EndMark is the terminator of the endmark spliter (empty selects "\r\n")
	EndMark string
	// IncludeEndMark keeps the terminator in delivered packets (endmark)
	IncludeEndMark bool
}

// DefaultConfig returns the config of the default length prefix framing
func DefaultConfig() Config {
	return Config{
		Type:            TypeSimple,
		MaxPacketLength: DefaultMaxPacketLength,
	}
}

// New creates the spliter described by cfg
func New(cfg Config) (PacketSpliter, error) {
	switch Type(strings.ToLower(string(cfg.Type))) {
	case TypeSimple, "":
		return NewSimpleSpliter(cfg.MaxPacketLength, cfg.NetworkByteOrder), nil
	case TypeHeader:
		magic := cfg.Magic
		if magic == 0 {
			magic = DefaultMagic
		}
		return NewHeaderSpliter(magic, cfg.MaxPacketLength, cfg.NetworkByteOrder), nil
	case TypeEndMark:
		mark := cfg.EndMark
		if mark == "" {
			mark = "\r\n"
		}
		return NewEndMarkSpliter([]byte(mark), cfg.IncludeEndMark, cfg.MaxPacketLength)
	case TypeRaw:
		return NewRawSpliter(), nil
	case TypeVarint:
		return NewVarintSpliter(cfg.MaxPacketLength), nil
	default:
		return nil, fmt.Errorf("invalid framing type %q (expected one of: simple, header, endmark, raw, varint)", cfg.Type)
	}
}

// String returns a short description used in config dumps
func (c Config) String() string {
	t := c.Type
	if t == "" {
		t = TypeSimple
	}
	switch t {
	case TypeHeader:
		magic := c.Magic
		if magic == 0 {
			magic = DefaultMagic
		}
		return fmt.Sprintf("%s (magic 0x%08X, max %d, network order %t)", t, magic, maxLength(c.MaxPacketLength), c.NetworkByteOrder)
	case TypeEndMark:
		return fmt.Sprintf("%s (mark %q, include %t, max %d)", t, c.EndMark, c.IncludeEndMark, maxLength(c.MaxPacketLength))
	case TypeRaw:
		return string(t)
	default:
		return fmt.Sprintf("%s (max %d, network order %t)", t, maxLength(c.MaxPacketLength), c.NetworkByteOrder)
	}
}
