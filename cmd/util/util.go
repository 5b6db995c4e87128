package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport/base"
	"github.com/ValentinKolb/dNet/sock/transport/tcp"
	"github.com/ValentinKolb/dNet/sock/transport/unix"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cli")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and binds environment variables with the DNET_ prefix
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dnet")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Shared flags
// --------------------------------------------------------------------------

// SetupConnFlags adds the per connection and socket flags shared by server and client
func SetupConnFlags(cmd *cobra.Command) {
	key := "io-buffer"
	cmd.PersistentFlags().Int(key, common.DefaultIOBufferSize/1024, WrapString("Size of the read region of each connection (in KB)"))

	key = "receive-buffer-max"
	cmd.PersistentFlags().Int(key, common.DefaultReceiveBufferMaxSize/1024, WrapString("Maximum of buffered, not yet framed bytes per connection (in KB). Peers exceeding it are disconnected"))

	key = "receive-limit"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Receive speed limit per connection in bytes per second (0 = unlimited)"))

	key = "send-limit"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Send speed limit per connection in bytes per second (0 = unlimited)"))

	key = "write-timeout"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Timeout of a single write (0 = no timeout)"))

	key = "max-packet"
	cmd.PersistentFlags().Int(key, framing.DefaultMaxPacketLength/1024, WrapString("Largest accepted packet (in KB)"))

	key = "end-mark"
	cmd.PersistentFlags().String(key, "\\r\\n", WrapString("Terminator of the endmark framing (escape sequences \\r \\n \\t \\0 are supported)"))

	key = "socket-read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Kernel receive buffer (in KB, 0 keeps the OS default)"))

	key = "socket-write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("Kernel send buffer (in KB, 0 keeps the OS default)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, -1 keeps the OS default, only for tcp)"))
}

// SetupClientFlags adds the flags of commands connecting to a server
func SetupClientFlags(cmd *cobra.Command) {
	SetupConnFlags(cmd)

	key := "endpoint"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the dNet server (host:port for tcp, a socket path for unix)"))

	key = "connect-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultConnectTimeout, WrapString("Timeout of a single connect attempt"))

	key = "auto-reconnect"
	cmd.PersistentFlags().Bool(key, false, WrapString("Reconnect automatically if the connection is lost"))

	key = "reconnect-interval"
	cmd.PersistentFlags().Duration(key, common.DefaultReconnectInterval, WrapString("Pause between reconnect attempts"))

	key = "rejoin"
	cmd.PersistentFlags().Bool(key, false, WrapString("Rejoin the last joined groups after a reconnect"))
}

// --------------------------------------------------------------------------
// Config readers
// --------------------------------------------------------------------------

// GetFramingConfig reads the framing configuration from viper
func GetFramingConfig() framing.Config {
	return framing.Config{
		Type:             framing.Type(viper.GetString("framing")),
		MaxPacketLength:  viper.GetInt("max-packet") * 1024,
		NetworkByteOrder: viper.GetBool("network-order"),
		EndMark:          unescape(viper.GetString("end-mark")),
	}
}

// GetConnConfig reads the connection settings from viper
func GetConnConfig() (common.ConnConf, common.SocketConf, common.TCPConf) {
	conn := common.DefaultConnConf()
	conn.IOBufferSize = viper.GetInt("io-buffer") * 1024
	conn.ReceiveBufferMaxSize = viper.GetInt("receive-buffer-max") * 1024
	conn.ReceiveSpeedLimit = viper.GetInt64("receive-limit")
	conn.SendSpeedLimit = viper.GetInt64("send-limit")
	conn.WriteTimeout = viper.GetDuration("write-timeout")

	socket := common.SocketConf{
		ReadBufferSize:  viper.GetInt("socket-read-buffer") * 1024,
		WriteBufferSize: viper.GetInt("socket-write-buffer") * 1024,
	}
	tcpConf := common.TCPConf{
		NoDelay:      viper.GetBool("tcp-nodelay"),
		KeepAliveSec: viper.GetInt("tcp-keepalive"),
		LingerSec:    viper.GetInt("tcp-linger"),
	}
	return conn, socket, tcpConf
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig(viper.GetString("endpoint"))
	conf.Framing = GetFramingConfig()
	conf.ConnectTimeout = viper.GetDuration("connect-timeout")
	conf.AutoReconnect = viper.GetBool("auto-reconnect")
	conf.ReconnectInterval = viper.GetDuration("reconnect-interval")
	conf.RejoinGroupsOnReconnect = viper.GetBool("rejoin")
	conf.Conn, conf.Socket, conf.TCP = GetConnConfig()
	conf.LogLevel = viper.GetString("log-level")
	return conf
}

// --------------------------------------------------------------------------
// Transport factories
// --------------------------------------------------------------------------

// NewServer creates a server for the configured transport
func NewServer() (*base.Server, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServer(), nil
	case "unix":
		return unix.NewUnixServer(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected tcp or unix)", viper.GetString("transport"))
	}
}

// NewClient creates a client for the configured transport
func NewClient() (*base.Client, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClient(), nil
	case "unix":
		return unix.NewUnixClient(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected tcp or unix)", viper.GetString("transport"))
	}
}

// SplitList splits a comma separated flag value and drops empty entries
func SplitList(value string) []string {
	var res []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}

// FormatDuration prints d rounded for humans
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return d.String()
	case d < time.Millisecond:
		return d.Round(10 * time.Nanosecond).String()
	default:
		return d.Round(10 * time.Microsecond).String()
	}
}

// unescape resolves the escape sequences allowed in the end-mark flag
func unescape(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t", `\0`, "\x00").Replace(s)
}
