package common

import (
	"io"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Prometheus metrics (one set per endpoint)
// --------------------------------------------------------------------------

// Metrics contains the counters of one server or client. Every endpoint owns its own set,
// so several endpoints in one process do not share counters.
type Metrics struct {
	set *vm.Set

	ConnectionsAccepted *vm.Counter
	ConnectionsClosed   *vm.Counter
	ConnectionsRejected *vm.Counter
	MessagesReceived    *vm.Counter
	MessagesSent        *vm.Counter
	BytesReceived       *vm.Counter
	BytesSent           *vm.Counter
	InvalidPackets      *vm.Counter
	GroupRelays         *vm.Counter
}

// NewMetrics creates the counters of an endpoint in a new set
func NewMetrics() *Metrics {
	set := vm.NewSet()
	return &Metrics{
		set:                 set,
		ConnectionsAccepted: set.GetOrCreateCounter("dnet_connections_accepted_total"),
		ConnectionsClosed:   set.GetOrCreateCounter("dnet_connections_closed_total"),
		ConnectionsRejected: set.GetOrCreateCounter("dnet_connections_rejected_total"),
		MessagesReceived:    set.GetOrCreateCounter("dnet_messages_received_total"),
		MessagesSent:        set.GetOrCreateCounter("dnet_messages_sent_total"),
		BytesReceived:       set.GetOrCreateCounter("dnet_bytes_received_total"),
		BytesSent:           set.GetOrCreateCounter("dnet_bytes_sent_total"),
		InvalidPackets:      set.GetOrCreateCounter("dnet_invalid_packets_total"),
		GroupRelays:         set.GetOrCreateCounter("dnet_group_relays_total"),
	}
}

// Gauge registers a gauge that calls f on every scrape. f must be safe for concurrent calls.
func (m *Metrics) Gauge(name string, f func() float64) {
	m.set.GetOrCreateGauge(name, f)
}

// Set returns the underlying metric set
func (m *Metrics) Set() *vm.Set {
	return m.set
}

// WritePrometheus writes all metrics of the set in the Prometheus text format
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Traffic statistics (moving averages)
// --------------------------------------------------------------------------

// sampleSize of the packet size reservoir
const sampleSize = 1028

// TrafficStats tracks the throughput of an endpoint as 1/5/15 minute moving rates
// and the distribution of received packet sizes.
type TrafficStats struct {
	received    gometrics.Meter
	sent        gometrics.Meter
	packetSizes gometrics.Histogram
}

// TrafficSnapshot is a point in time view of TrafficStats
type TrafficSnapshot struct {
	ReceivedBytes    int64   `json:"received_bytes"`
	ReceiveRate1     float64 `json:"receive_rate_1m"`
	ReceiveRate5     float64 `json:"receive_rate_5m"`
	ReceiveRate15    float64 `json:"receive_rate_15m"`
	SentBytes        int64   `json:"sent_bytes"`
	SendRate1        float64 `json:"send_rate_1m"`
	SendRate5        float64 `json:"send_rate_5m"`
	SendRate15       float64 `json:"send_rate_15m"`
	Packets          int64   `json:"packets"`
	PacketSizeMean   float64 `json:"packet_size_mean"`
	PacketSizeMax    int64   `json:"packet_size_max"`
	PacketSizeP99    float64 `json:"packet_size_p99"`
	PacketSizeStdDev float64 `json:"packet_size_std_dev"`
}

// NewTrafficStats creates the meters. Stop must be called to release their ticker.
func NewTrafficStats() *TrafficStats {
	t := &TrafficStats{
		received:    gometrics.NewMeter(),
		sent:        gometrics.NewMeter(),
		packetSizes: gometrics.NewHistogram(gometrics.NewUniformSample(sampleSize)),
	}
	return t
}

// MarkReceived records n bytes read from a socket
func (t *TrafficStats) MarkReceived(n int) {
	t.received.Mark(int64(n))
}

// MarkSent records n bytes written to a socket
func (t *TrafficStats) MarkSent(n int) {
	t.sent.Mark(int64(n))
}

// ObservePacket records the payload size of a framed packet
func (t *TrafficStats) ObservePacket(size int) {
	t.packetSizes.Update(int64(size))
}

// Snapshot returns the current values
func (t *TrafficStats) Snapshot() TrafficSnapshot {
	r, s := t.received, t.sent
	h := t.packetSizes.Snapshot()
	return TrafficSnapshot{
		ReceivedBytes:    r.Count(),
		ReceiveRate1:     r.Rate1(),
		ReceiveRate5:     r.Rate5(),
		ReceiveRate15:    r.Rate15(),
		SentBytes:        s.Count(),
		SendRate1:        s.Rate1(),
		SendRate5:        s.Rate5(),
		SendRate15:       s.Rate15(),
		Packets:          h.Count(),
		PacketSizeMean:   h.Mean(),
		PacketSizeMax:    h.Max(),
		PacketSizeP99:    h.Percentile(0.99),
		PacketSizeStdDev: h.StdDev(),
	}
}

// Stop stops the meters. Snapshot keeps returning the last values.
func (t *TrafficStats) Stop() {
	t.received.Stop()
	t.sent.Stop()
}
