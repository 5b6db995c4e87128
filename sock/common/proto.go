package common

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Group Control Protocol
// --------------------------------------------------------------------------

// Reserved marks at offset 0 of a raw message. All integer fields of control
// messages are encoded little endian.
const (
	// JoinGroupMark: [mark uint32][group names joined by '|']
	JoinGroupMark uint32 = 0xFA9FCB89
	// GroupTransmitMark: [mark uint32][descLen int32][group names joined by '|'][payload]
	GroupTransmitMark uint32 = 0xBCA2BAD4
	// GroupLoopbackMark is GroupTransmitMark where the sender receives a copy as well
	GroupLoopbackMark uint32 = 0xECA2BAD3
)

// GroupSeparator separates group names in control messages
const GroupSeparator = "|"

const (
	markSize          = 4
	transmitHeaderLen = 8
)

// ControlKind classifies a raw message
type ControlKind uint8

const (
	// ControlNone is an ordinary payload message
	ControlNone ControlKind = iota
	// ControlJoin replaces the group membership of the sender
	ControlJoin
	// ControlTransmit is relayed to the members of the named groups
	ControlTransmit
)

// String returns the string representation of a ControlKind
func (k ControlKind) String() string {
	switch k {
	case ControlNone:
		return "none"
	case ControlJoin:
		return "join"
	case ControlTransmit:
		return "transmit"
	default:
		return "unknown"
	}
}

// Control is a parsed group control message
type Control struct {
	Kind ControlKind
	// Groups to join (ControlJoin) or to relay to (ControlTransmit). Empty names are dropped.
	Groups []string
	// Payload to relay (ControlTransmit only)
	Payload []byte
	// Loopback is true if the sender receives its own relayed message
	Loopback bool
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// MakeJoinGroupMessage creates a join request. An empty list leaves all groups.
func MakeJoinGroupMessage(groups []string) ([]byte, error) {
	desc, err := joinGroupNames(groups)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, markSize+len(desc))
	binary.LittleEndian.PutUint32(msg, JoinGroupMark)
	copy(msg[markSize:], desc)
	return msg, nil
}

// MakeGroupMessage creates a group transmit message carrying payload to all members of groups
func MakeGroupMessage(groups []string, payload []byte, loopback bool) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidControlMessage)
	}
	desc, err := joinGroupNames(groups)
	if err != nil {
		return nil, err
	}
	if len(splitGroupNames([]byte(desc))) == 0 {
		return nil, fmt.Errorf("%w: no target group", ErrInvalidControlMessage)
	}

	mark := GroupTransmitMark
	if loopback {
		mark = GroupLoopbackMark
	}

	msg := make([]byte, transmitHeaderLen+len(desc)+len(payload))
	binary.LittleEndian.PutUint32(msg[0:4], mark)
	binary.LittleEndian.PutUint32(msg[4:8], uint32(len(desc)))
	copy(msg[transmitHeaderLen:], desc)
	copy(msg[transmitHeaderLen+len(desc):], payload)
	return msg, nil
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// ControlMark returns the control kind of a raw message by looking at its first 4 bytes only
func ControlMark(data []byte) ControlKind {
	if len(data) < markSize {
		return ControlNone
	}
	switch binary.LittleEndian.Uint32(data) {
	case JoinGroupMark:
		return ControlJoin
	case GroupTransmitMark, GroupLoopbackMark:
		return ControlTransmit
	default:
		return ControlNone
	}
}

// ParseControl parses a raw message. Ordinary messages return a Control with Kind ControlNone.
// The returned payload aliases data.
func ParseControl(data []byte) (Control, error) {
	switch ControlMark(data) {
	case ControlJoin:
		return Control{
			Kind:   ControlJoin,
			Groups: splitGroupNames(data[markSize:]),
		}, nil

	case ControlTransmit:
		if len(data) < transmitHeaderLen {
			return Control{}, fmt.Errorf("%w: transmit header truncated", ErrInvalidControlMessage)
		}
		descLen := int32(binary.LittleEndian.Uint32(data[4:8]))
		if descLen <= 0 || int(descLen) > len(data)-transmitHeaderLen {
			return Control{}, fmt.Errorf("%w: group description length %d out of range", ErrInvalidControlMessage, descLen)
		}
		groups := splitGroupNames(data[transmitHeaderLen : transmitHeaderLen+int(descLen)])
		if len(groups) == 0 {
			return Control{}, fmt.Errorf("%w: no target group", ErrInvalidControlMessage)
		}
		payload := data[transmitHeaderLen+int(descLen):]
		if len(payload) == 0 {
			return Control{}, fmt.Errorf("%w: empty payload", ErrInvalidControlMessage)
		}
		return Control{
			Kind:     ControlTransmit,
			Groups:   groups,
			Payload:  payload,
			Loopback: binary.LittleEndian.Uint32(data) == GroupLoopbackMark,
		}, nil

	default:
		return Control{Kind: ControlNone, Payload: data}, nil
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func joinGroupNames(groups []string) (string, error) {
	for _, g := range groups {
		if strings.Contains(g, GroupSeparator) {
			return "", fmt.Errorf("%w: group name %q contains %q", ErrInvalidControlMessage, g, GroupSeparator)
		}
	}
	return strings.Join(groups, GroupSeparator), nil
}

// splitGroupNames splits a group description, dropping empty and duplicate names
func splitGroupNames(desc []byte) []string {
	if len(desc) == 0 {
		return nil
	}
	parts := strings.Split(string(desc), GroupSeparator)
	groups := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		groups = append(groups, p)
	}
	return groups
}
