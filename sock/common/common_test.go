package common

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

// TestJoinGroupMessage tests the join request codec
func TestJoinGroupMessage(t *testing.T) {
	msg, err := MakeJoinGroupMessage([]string{"a", "b", "a"})
	if err != nil {
		t.Fatalf("Failed to make join message: %v", err)
	}
	if binary.LittleEndian.Uint32(msg) != JoinGroupMark {
		t.Fatalf("Expected join mark at offset 0")
	}
	if string(msg[4:]) != "a|b|a" {
		t.Errorf("Expected group description 'a|b|a', got %q", msg[4:])
	}

	ctrl, err := ParseControl(msg)
	if err != nil {
		t.Fatalf("Failed to parse join message: %v", err)
	}
	if ctrl.Kind != ControlJoin {
		t.Fatalf("Expected kind join, got %s", ctrl.Kind)
	}
	if strings.Join(ctrl.Groups, ",") != "a,b" {
		t.Errorf("Expected deduplicated groups a,b, got %v", ctrl.Groups)
	}

	// empty list leaves all groups
	msg, _ = MakeJoinGroupMessage(nil)
	ctrl, err = ParseControl(msg)
	if err != nil || ctrl.Kind != ControlJoin || len(ctrl.Groups) != 0 {
		t.Errorf("Expected empty join, got %+v (err %v)", ctrl, err)
	}

	if _, err := MakeJoinGroupMessage([]string{"a|b"}); !errors.Is(err, ErrInvalidControlMessage) {
		t.Errorf("Expected ErrInvalidControlMessage for a name containing the separator, got %v", err)
	}
}

// TestGroupMessage tests the group transmit codec
func TestGroupMessage(t *testing.T) {
	payload := []byte("hello")

	for _, loopback := range []bool{false, true} {
		msg, err := MakeGroupMessage([]string{"g1", "g2"}, payload, loopback)
		if err != nil {
			t.Fatalf("Failed to make group message: %v", err)
		}

		ctrl, err := ParseControl(msg)
		if err != nil {
			t.Fatalf("Failed to parse group message: %v", err)
		}
		if ctrl.Kind != ControlTransmit {
			t.Fatalf("Expected kind transmit, got %s", ctrl.Kind)
		}
		if ctrl.Loopback != loopback {
			t.Errorf("Expected loopback %t, got %t", loopback, ctrl.Loopback)
		}
		if strings.Join(ctrl.Groups, ",") != "g1,g2" {
			t.Errorf("Expected groups g1,g2, got %v", ctrl.Groups)
		}
		if !bytes.Equal(ctrl.Payload, payload) {
			t.Errorf("Expected payload %q, got %q", payload, ctrl.Payload)
		}
	}

	if _, err := MakeGroupMessage(nil, payload, false); !errors.Is(err, ErrInvalidControlMessage) {
		t.Errorf("Expected error for no target group, got %v", err)
	}
	if _, err := MakeGroupMessage([]string{"g"}, nil, false); !errors.Is(err, ErrInvalidControlMessage) {
		t.Errorf("Expected error for empty payload, got %v", err)
	}
}

// TestParseControlInvalid tests malformed control messages
func TestParseControlInvalid(t *testing.T) {
	mark := func(m uint32, rest ...byte) []byte {
		b := make([]byte, 4, 4+len(rest))
		binary.LittleEndian.PutUint32(b, m)
		return append(b, rest...)
	}

	cases := map[string][]byte{
		"truncated header":  mark(GroupTransmitMark, 1, 0),
		"negative length":   mark(GroupTransmitMark, 0xFF, 0xFF, 0xFF, 0xFF, 'g', 'x'),
		"length too large":  mark(GroupTransmitMark, 10, 0, 0, 0, 'g', 'x'),
		"zero length":       mark(GroupLoopbackMark, 0, 0, 0, 0, 'x'),
		"no payload":        mark(GroupTransmitMark, 1, 0, 0, 0, 'g'),
		"only empty groups": mark(GroupTransmitMark, 1, 0, 0, 0, '|', 'x'),
	}
	for name, data := range cases {
		if _, err := ParseControl(data); !errors.Is(err, ErrInvalidControlMessage) {
			t.Errorf("%s: expected ErrInvalidControlMessage, got %v", name, err)
		}
	}

	// ordinary payloads are passed through
	for _, data := range [][]byte{[]byte("ping"), []byte("abc"), mark(0x12345678, 'x')} {
		ctrl, err := ParseControl(data)
		if err != nil || ctrl.Kind != ControlNone || !bytes.Equal(ctrl.Payload, data) {
			t.Errorf("Expected ordinary message for %q, got %+v (err %v)", data, ctrl, err)
		}
	}
}

// TestParsePort tests the port range validation
func TestParsePort(t *testing.T) {
	valid := map[string]int{
		"127.0.0.1:0":     0,
		"127.0.0.1:19999": 19999,
		":65535":          65535,
		"[::1]:80":        80,
	}
	for endpoint, expected := range valid {
		port, err := ParsePort(endpoint)
		if err != nil {
			t.Errorf("Unexpected error for %s: %v", endpoint, err)
		} else if port != expected {
			t.Errorf("Expected port %d for %s, got %d", expected, endpoint, port)
		}
	}

	for _, endpoint := range []string{"127.0.0.1:65536", "127.0.0.1:-1", "127.0.0.1:http", "127.0.0.1"} {
		if _, err := ParsePort(endpoint); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig for %s, got %v", endpoint, err)
		}
	}
}

// TestConfigValidate tests the validation of the default configs
func TestConfigValidate(t *testing.T) {
	server := DefaultServerConfig("127.0.0.1:0")
	if err := server.Validate(); err != nil {
		t.Fatalf("Default server config is invalid: %v", err)
	}
	if !strings.Contains(server.String(), "127.0.0.1:0") {
		t.Errorf("Expected endpoint in config dump")
	}

	server.MaxClientCount = 0
	if err := server.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero max clients, got %v", err)
	}

	server = DefaultServerConfig("127.0.0.1:0")
	server.Framing.Type = "unknown"
	if err := server.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for unknown framing, got %v", err)
	}

	client := DefaultClientConfig("127.0.0.1:1")
	if err := client.Validate(); err != nil {
		t.Fatalf("Default client config is invalid: %v", err)
	}
	client.Conn.IOBufferSize = 0
	if err := client.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero io buffer, got %v", err)
	}

	if _, err := ParseLogLevel("verbose"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for unknown log level, got %v", err)
	}
}

// TestTrafficStats tests the meters and the packet histogram
func TestTrafficStats(t *testing.T) {
	stats := NewTrafficStats()
	defer stats.Stop()

	stats.MarkReceived(100)
	stats.MarkReceived(50)
	stats.MarkSent(10)
	stats.ObservePacket(4)
	stats.ObservePacket(8)

	snap := stats.Snapshot()
	if snap.ReceivedBytes != 150 || snap.SentBytes != 10 {
		t.Errorf("Unexpected byte counts: %+v", snap)
	}
	if snap.Packets != 2 || snap.PacketSizeMax != 8 || snap.PacketSizeMean != 6 {
		t.Errorf("Unexpected packet stats: %+v", snap)
	}

	// stopped stats keep their totals
	stats.Stop()
	if after := stats.Snapshot(); after.ReceivedBytes != 150 || after.Packets != 2 {
		t.Errorf("Expected totals to survive Stop, got %+v", after)
	}
}

// TestInitLoggersRepeated tests that the loggers can be initialized once per started endpoint
func TestInitLoggersRepeated(t *testing.T) {
	for _, level := range []string{"info", "debug", "error", "warn", ""} {
		if err := InitLoggers(level); err != nil {
			t.Fatalf("InitLoggers(%q) failed: %v", level, err)
		}
	}

	if err := InitLoggers("verbose"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for an unknown level, got %v", err)
	}
}

// TestLoggerLevel tests the level filter of the dNet logger
func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := CreateLogger("test").(*lineLogger)
	l.out.SetOutput(&buf)

	l.Debugf("hidden")
	l.Infof("shown %d", 1)
	l.SetLevel(logger.ERROR)
	l.Warningf("hidden")
	l.Errorf("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected filtered messages to be dropped, got %q", out)
	}
	if !strings.Contains(out, "INFO  | test            | shown 1") || !strings.Contains(out, "ERROR | test            | shown 2") {
		t.Errorf("Unexpected log output %q", out)
	}
}

// TestMetrics tests the prometheus exposition
func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.ConnectionsAccepted.Inc()
	m.Gauge("dnet_clients", func() float64 { return 3 })

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	out := buf.String()
	if !strings.Contains(out, "dnet_connections_accepted_total 1") {
		t.Errorf("Missing accepted counter in %q", out)
	}
	if !strings.Contains(out, "dnet_clients 3") {
		t.Errorf("Missing gauge in %q", out)
	}
}
