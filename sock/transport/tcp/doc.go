// Package tcp implements the TCP transport of dNet. It provides the TCP implementations
// of the base package's connector interfaces; the socket engine itself (pooling, framing,
// shards, groups) lives in the base package.
//
// Key Components:
//
//   - serverConnector: validates the port range of the endpoint, creates the listener
//     (optionally with SO_REUSEADDR / SO_REUSEPORT) and tunes accepted connections.
//
//   - clientConnector: dials with the connect timeout and tunes the connection.
//
// Connection tuning applies TCPConf (no delay, keep-alive, linger) and SocketConf
// (kernel read and write buffers).
package tcp
