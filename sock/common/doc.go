// Package common provides the data structures and utilities shared by all dNet
// transports: configuration, sentinel errors, the logger integration, the in-band group
// control protocol and the metric sets of a server.
//
// Key Components:
//
//   - ServerConfig / ClientConfig: configuration of the socket engine, including framing,
//     connection limits, shard sizing, buffer sizes, speed limits and socket tuning.
//     Both provide a sectioned String() dump and a Validate() method.
//
//   - Group control protocol: join and group transmit messages multiplexed on the same
//     stream as ordinary payload, distinguished by a reserved 32-bit mark at offset 0.
//
//   - Logger: custom logging implementation that plugs into Dragonboat's logger
//     package so that every package can declare `var Logger = logger.GetLogger(name)`.
//
//   - Metrics: a VictoriaMetrics set of counters and gauges per server and TrafficStats,
//     a set of go-metrics meters and histograms describing the traffic of one endpoint.
package common
