package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport/base"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/tcp")

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	if _, err := common.ParsePort(config.Endpoint); err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: socketControl(config.TCP),
	}
	if config.TCP.KeepAliveSec < 0 {
		lc.KeepAlive = -1
	}

	listener, err := lc.Listen(context.Background(), "tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}
	Logger.Debugf("Listening on %s (reuse address: %t, reuse port: %t)",
		listener.Addr(), config.TCP.ReuseAddress, config.TCP.ReusePort)
	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	return upgrade(conn, config.Socket, config.TCP)
}

// --------------------------------------------------------------------------
// Server Factory Method
// --------------------------------------------------------------------------

// NewTCPServer creates a new TCP server
func NewTCPServer() *base.Server {
	return base.NewServer(&serverConnector{})
}
