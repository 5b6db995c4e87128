package tcp

import (
	"context"
	"net"

	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport/base"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, config common.ClientConfig) (net.Conn, error) {
	if _, err := common.ParsePort(config.Endpoint); err != nil {
		return nil, err
	}
	var d net.Dialer
	if config.TCP.KeepAliveSec < 0 {
		d.KeepAlive = -1
	}
	return d.DialContext(ctx, "tcp", config.Endpoint)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	return upgrade(conn, config.Socket, config.TCP)
}

// --------------------------------------------------------------------------
// Client Factory Method
// --------------------------------------------------------------------------

// NewTCPClient creates a new TCP client
func NewTCPClient() *base.Client {
	return base.NewClient(&clientConnector{})
}
