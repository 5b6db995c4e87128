package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dNet/lib/framing"
)

// Default values used by the Default...Config functions
const (
	DefaultMaxClientCount        = 1024
	DefaultInitHandlerCount      = 4
	DefaultMaxHandlerClientCount = 1000
	DefaultIOBufferSize          = 4 * 1024
	DefaultReceiveBufferInitSize = 8 * 1024
	DefaultReceiveBufferMaxSize  = 32 * 1024 * 1024
	DefaultSendBufferInitSize    = 4 * 1024
	DefaultConnectTimeout        = 5 * time.Second
	DefaultReconnectInterval     = 2 * time.Second
	DefaultStopTimeout           = 5 * time.Second
)

// --------------------------------------------------------------------------
// Socket configuration (shared by server and client)
// --------------------------------------------------------------------------

// SocketConf contains the OS level socket settings
type SocketConf struct {
	// ReadBufferSize is the kernel receive buffer (SO_RCVBUF), 0 keeps the OS default
	ReadBufferSize int
	// WriteBufferSize is the kernel send buffer (SO_SNDBUF), 0 keeps the OS default
	WriteBufferSize int
}

// TCPConf contains TCP specific settings, ignored by other transports
type TCPConf struct {
	// NoDelay disables Nagle's algorithm
	NoDelay bool
	// KeepAliveSec enables keep-alive probes with the given period, 0 disables them
	KeepAliveSec int
	// LingerSec sets SO_LINGER, negative values keep the OS default
	LingerSec int
	// ReuseAddress sets SO_REUSEADDR on the listening socket
	ReuseAddress bool
	// ReusePort sets SO_REUSEPORT on the listening socket (where supported),
	// allowing several servers to share one port
	ReusePort bool
}

// ConnConf contains the per connection settings of the socket engine
type ConnConf struct {
	// IOBufferSize is the size of the region each connection reads into
	IOBufferSize int
	// ReceiveBufferInitSize is the initial capacity of the receive queue
	ReceiveBufferInitSize int
	// ReceiveBufferMaxSize is the hard limit of buffered, not yet framed bytes.
	// A peer exceeding it is disconnected.
	ReceiveBufferMaxSize int
	// SendBufferInitSize is the initial capacity of the send scratch buffer
	SendBufferInitSize int
	// ReceiveSpeedLimit in bytes per second, 0 disables throttling
	ReceiveSpeedLimit int64
	// SendSpeedLimit in bytes per second, 0 disables throttling
	SendSpeedLimit int64
	// WriteTimeout bounds a single write, 0 disables the deadline
	WriteTimeout time.Duration
}

// DefaultConnConf returns the default connection settings
func DefaultConnConf() ConnConf {
	return ConnConf{
		IOBufferSize:          DefaultIOBufferSize,
		ReceiveBufferInitSize: DefaultReceiveBufferInitSize,
		ReceiveBufferMaxSize:  DefaultReceiveBufferMaxSize,
		SendBufferInitSize:    DefaultSendBufferInitSize,
	}
}

// Validate checks the connection settings
func (c *ConnConf) Validate() error {
	if c.IOBufferSize <= 0 {
		return fmt.Errorf("%w: io buffer size must be positive", ErrInvalidConfig)
	}
	if c.ReceiveBufferInitSize <= 0 || c.SendBufferInitSize <= 0 {
		return fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidConfig)
	}
	if c.ReceiveBufferMaxSize > 0 && c.ReceiveBufferMaxSize < c.IOBufferSize {
		return fmt.Errorf("%w: receive buffer max size %d is smaller than the io buffer size %d",
			ErrInvalidConfig, c.ReceiveBufferMaxSize, c.IOBufferSize)
	}
	if c.ReceiveSpeedLimit < 0 || c.SendSpeedLimit < 0 {
		return fmt.Errorf("%w: speed limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a server
type ServerConfig struct {
	// Endpoint to listen on ("host:port" for tcp, a socket path for unix)
	Endpoint string

	// Framing of every connection of the server
	Framing framing.Config

	// MaxClientCount is the size of the context pool, connections beyond it are rejected
	MaxClientCount int
	// InitHandlerCount is the number of shards created on Start
	InitHandlerCount int
	// MaxHandlerClientCount is the load at which a new shard is created
	MaxHandlerClientCount int

	// EnableGroup enables the interception of group control messages
	EnableGroup bool
	// AllowCrossGroupMessage allows relaying to groups the sender is not a member of
	AllowCrossGroupMessage bool

	// StopTimeout bounds the wait for a shard worker on Stop, 0 waits forever
	StopTimeout time.Duration

	Conn   ConnConf
	Socket SocketConf
	TCP    TCPConf

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a config listening on endpoint with default settings
func DefaultServerConfig(endpoint string) ServerConfig {
	return ServerConfig{
		Endpoint:              endpoint,
		Framing:               framing.DefaultConfig(),
		MaxClientCount:        DefaultMaxClientCount,
		InitHandlerCount:      DefaultInitHandlerCount,
		MaxHandlerClientCount: DefaultMaxHandlerClientCount,
		EnableGroup:           true,
		StopTimeout:           DefaultStopTimeout,
		Conn:                  DefaultConnConf(),
		TCP:                   TCPConf{NoDelay: true, LingerSec: -1},
		LogLevel:              "info",
	}
}

// Validate checks the configuration and returns an error wrapping ErrInvalidConfig
func (c *ServerConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: no endpoint provided", ErrInvalidConfig)
	}
	if c.MaxClientCount <= 0 {
		return fmt.Errorf("%w: max client count must be positive", ErrInvalidConfig)
	}
	if c.InitHandlerCount <= 0 {
		return fmt.Errorf("%w: init handler count must be positive", ErrInvalidConfig)
	}
	if c.MaxHandlerClientCount <= 0 {
		return fmt.Errorf("%w: max handler client count must be positive", ErrInvalidConfig)
	}
	if _, err := framing.New(c.Framing); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.Conn.Validate()
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Endpoint)
	addField("Framing", c.Framing.String())
	addField("Stop Timeout", c.StopTimeout.String())

	addSection("Limits")
	addField("Max Clients", strconv.Itoa(c.MaxClientCount))
	addField("Initial Handlers", strconv.Itoa(c.InitHandlerCount))
	addField("Clients per Handler", strconv.Itoa(c.MaxHandlerClientCount))

	addSection("Groups")
	addField("Enabled", strconv.FormatBool(c.EnableGroup))
	addField("Cross Group Messages", strconv.FormatBool(c.AllowCrossGroupMessage))

	c.Conn.write(addSection, addField)
	writeSocket(c.Socket, c.TCP, addSection, addField)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of a client
type ClientConfig struct {
	// Endpoint to connect to ("host:port" for tcp, a socket path for unix)
	Endpoint string

	// Framing of the connection, must match the server
	Framing framing.Config

	// ConnectTimeout bounds a single connect attempt, 0 waits for the OS timeout
	ConnectTimeout time.Duration
	// AutoReconnect re-establishes an unexpectedly closed connection until Close is called
	AutoReconnect bool
	// ReconnectInterval is the fixed backoff between reconnect attempts
	ReconnectInterval time.Duration
	// RejoinGroupsOnReconnect replays the last JoinGroup after a reconnect
	RejoinGroupsOnReconnect bool
	// StopTimeout bounds the wait for the delivery worker on Close, 0 waits forever
	StopTimeout time.Duration

	Conn   ConnConf
	Socket SocketConf
	TCP    TCPConf

	// Logging configuration
	LogLevel string
}

// DefaultClientConfig returns a config connecting to endpoint with default settings
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:          endpoint,
		Framing:           framing.DefaultConfig(),
		ConnectTimeout:    DefaultConnectTimeout,
		ReconnectInterval: DefaultReconnectInterval,
		StopTimeout:       DefaultStopTimeout,
		Conn:              DefaultConnConf(),
		TCP:               TCPConf{NoDelay: true, LingerSec: -1},
		LogLevel:          "info",
	}
}

// Validate checks the configuration and returns an error wrapping ErrInvalidConfig
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: no endpoint provided", ErrInvalidConfig)
	}
	if c.ConnectTimeout < 0 || c.ReconnectInterval < 0 || c.StopTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if _, err := framing.New(c.Framing); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.Conn.Validate()
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client")
	addField("Endpoint", c.Endpoint)
	addField("Framing", c.Framing.String())
	addField("Connect Timeout", c.ConnectTimeout.String())
	addField("Stop Timeout", c.StopTimeout.String())

	addSection("Reconnect")
	addField("Auto Reconnect", strconv.FormatBool(c.AutoReconnect))
	addField("Interval", c.ReconnectInterval.String())
	addField("Rejoin Groups", strconv.FormatBool(c.RejoinGroupsOnReconnect))

	c.Conn.write(addSection, addField)
	writeSocket(c.Socket, c.TCP, addSection, addField)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParsePort extracts and validates the port of a "host:port" endpoint.
// Port 0 selects an ephemeral port.
func ParsePort(endpoint string) (int, error) {
	_, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid port %q", ErrInvalidConfig, portStr)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: port %d out of range [0, 65535]", ErrInvalidConfig, port)
	}
	return port, nil
}

func (c *ConnConf) write(addSection func(string), addField func(string, string)) {
	addSection("Connection")
	addField("IO Buffer", formatBytes(int64(c.IOBufferSize)))
	addField("Receive Buffer", fmt.Sprintf("%s (max %s)", formatBytes(int64(c.ReceiveBufferInitSize)), formatBytes(int64(c.ReceiveBufferMaxSize))))
	addField("Send Buffer", formatBytes(int64(c.SendBufferInitSize)))
	addField("Receive Limit", formatRate(c.ReceiveSpeedLimit))
	addField("Send Limit", formatRate(c.SendSpeedLimit))
	addField("Write Timeout", c.WriteTimeout.String())
}

func writeSocket(s SocketConf, t TCPConf, addSection func(string), addField func(string, string)) {
	addSection("Socket")
	addField("Read Buffer", formatBytes(int64(s.ReadBufferSize)))
	addField("Write Buffer", formatBytes(int64(s.WriteBufferSize)))
	addField("TCP No Delay", strconv.FormatBool(t.NoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", t.KeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", t.LingerSec))
	addField("Reuse Address", strconv.FormatBool(t.ReuseAddress))
	addField("Reuse Port", strconv.FormatBool(t.ReusePort))
}

// formatBytes prints a byte count in a human-readable form (0 = OS default / unlimited)
func formatBytes(n int64) string {
	switch {
	case n <= 0:
		return "default"
	case n >= 1024*1024 && n%(1024*1024) == 0:
		return fmt.Sprintf("%d MB", n/(1024*1024))
	case n >= 1024 && n%1024 == 0:
		return fmt.Sprintf("%d KB", n/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatRate(limit int64) string {
	if limit <= 0 {
		return "unlimited"
	}
	return formatBytes(limit) + "/s"
}
