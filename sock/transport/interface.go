package transport

import (
	"net"

	"github.com/ValentinKolb/dNet/lib/util"
	"github.com/ValentinKolb/dNet/sock/common"
)

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// ClientStatus is the connection state of a client
type ClientStatus int32

const (
	StatusClosed ClientStatus = iota
	StatusConnecting
	StatusConnected
)

// String returns the string representation of a ClientStatus
func (s ClientStatus) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Message is a single framed packet received from a connection.
// Data is owned by the receiver and stays valid after the handler returns.
type Message struct {
	// HandlerID is the shard that received the message
	HandlerID int
	// ClientID identifies the connection
	ClientID uint64
	// Data is the payload without framing
	Data []byte
}

// StatusEvent reports a status change of a connection
type StatusEvent struct {
	HandlerID  int
	ClientID   uint64
	Status     ClientStatus
	RemoteAddr string
}

// MessageHandleFunc is called for every received message.
// It runs on the worker of the receiving shard and must not block for long.
type MessageHandleFunc func(msg Message)

// StatusHandleFunc is called for every status change, in order with the messages of the shard
type StatusHandleFunc func(ev StatusEvent)

// MessageFilterFunc is called before a message is dispatched.
// Returning suppressed = true drops the message without calling the MessageHandleFunc.
type MessageFilterFunc func(msg Message) (suppressed bool)

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// ServerStats is a snapshot of the state of a server
type ServerStats struct {
	Running         bool                   `json:"running"`
	Clients         int                    `json:"clients"`
	Handlers        int                    `json:"handlers"`
	Groups          int                    `json:"groups"`
	HandlerLoads    []int                  `json:"handler_loads"`
	Distribution    util.DistributionStats `json:"distribution"`
	PoolOutstanding int                    `json:"pool_outstanding"`
	PoolCapacity    int                    `json:"pool_capacity"`
	Traffic         common.TrafficSnapshot `json:"traffic"`
}

// IServer is a multi connection server
type IServer interface {
	// RegisterHandler sets the message handler. Must be called before Start.
	RegisterHandler(handler MessageHandleFunc)
	// RegisterStatusHandler sets the status handler. Must be called before Start.
	RegisterStatusHandler(handler StatusHandleFunc)
	// RegisterFilter sets the message filter. Must be called before Start.
	RegisterFilter(filter MessageFilterFunc)

	// Start listens on the configured endpoint and returns once the server accepts connections.
	// It returns common.ErrAlreadyRunning if the server is running.
	Start(config common.ServerConfig) error
	// Stop closes the listener and every connection and waits for the shards to drain.
	// It returns common.ErrNotRunning if the server is not running.
	Stop() error
	// IsRunning returns true between Start and Stop
	IsRunning() bool
	// Addr returns the address of the listener or nil if the server is not running
	Addr() net.Addr

	// SendMessage sends data to one client and returns once it is written
	SendMessage(clientID uint64, data []byte) error
	// SendMessageAsync sends data to several clients concurrently. Failures of single
	// clients are collected in the returned PendingSends and do not affect the others.
	SendMessageAsync(clientIDs []uint64, data []byte) *PendingSends
	// SendGroupMessageAsync sends data to the members of the given groups (each member once)
	SendGroupMessageAsync(groups []string, data []byte) *PendingSends
	// BroadcastMessage sends data to every connected client
	BroadcastMessage(data []byte) *PendingSends

	// CloseClient closes the connection of a client
	CloseClient(clientID uint64) error
	// CloseClients closes several connections, unknown ids are ignored
	CloseClients(clientIDs []uint64)

	// ClientIDs returns the ids of all connected clients in ascending order
	ClientIDs() []uint64
	// ClientCount returns the number of connected clients
	ClientCount() int
	// HandlerCount returns the number of shards
	HandlerCount() int
	// GroupMembers returns the ids of the members of a group in ascending order
	GroupMembers(group string) []uint64
	// ClientGroups returns the groups a client joined
	ClientGroups(clientID uint64) []string
	// RemoteAddr returns the remote address of a client
	RemoteAddr(clientID uint64) (string, bool)
	// SetTag attaches opaque user data to a client
	SetTag(clientID uint64, tag any) error
	// Tag returns the user data attached to a client
	Tag(clientID uint64) (any, bool)

	// Stats returns a snapshot of the server state
	Stats() ServerStats
	// Metrics returns the prometheus metrics of the server
	Metrics() *common.Metrics
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// IClient is a single connection client
type IClient interface {
	// RegisterHandler sets the message handler. Must be called before Connect.
	RegisterHandler(handler MessageHandleFunc)
	// RegisterStatusHandler sets the status handler. Must be called before Connect.
	RegisterStatusHandler(handler StatusHandleFunc)
	// RegisterFilter sets the message filter. Must be called before Connect.
	RegisterFilter(filter MessageFilterFunc)

	// Connect connects to the configured endpoint and blocks up to the connect timeout.
	// A timeout is reported as common.ErrTimeout. If auto reconnect is enabled, a failed
	// first attempt is retried in the background until Close is called.
	Connect(config common.ClientConfig) error
	// ConnectAsync runs Connect in the background and calls callback with its result
	ConnectAsync(config common.ClientConfig, callback func(err error))
	// Close closes the connection and stops reconnecting
	Close() error
	// Status returns the current connection state
	Status() ClientStatus
	// SetAutoReconnect changes the auto reconnect flag, only permitted while not connected
	SetAutoReconnect(enabled bool) error

	// JoinGroup replaces the group membership of this client on the server.
	// Calling it without groups leaves all groups.
	JoinGroup(groups ...string) error
	// Groups returns the groups of the last successful JoinGroup
	Groups() []string

	// SendMessage sends data to the server and returns once it is written
	SendMessage(data []byte) error
	// SendMessageAsync sends data in the background
	SendMessageAsync(data []byte) *PendingSends
	// SendGroupMessage asks the server to relay data to the members of groups.
	// With loopback the sender receives a copy if it is a member itself.
	SendGroupMessage(groups []string, data []byte, loopback bool) error
}
