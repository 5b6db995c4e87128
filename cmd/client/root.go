package client

import (
	"sync/atomic"

	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
	"github.com/ValentinKolb/dNet/sock/transport/base"
	"github.com/spf13/cobra"
)

// inboxSize is the number of received messages buffered for the running command
const inboxSize = 4096

var (
	dnetClient *base.Client
	clientConf common.ClientConfig

	// inbox receives the messages of the connection, messages are dropped if it is full
	inbox   = make(chan transport.Message, inboxSize)
	dropped atomic.Int64

	// ClientCommands represents the client command group
	ClientCommands = &cobra.Command{
		Use:                "client",
		Short:              "Connect to a dNet server to send messages, join groups or run benchmarks",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	// Add common connection flags to the client command
	util.SetupClientFlags(ClientCommands)

	// Add subcommands
	ClientCommands.AddCommand(sendCmd)
	ClientCommands.AddCommand(groupCmd)
	ClientCommands.AddCommand(listenCmd)
	ClientCommands.AddCommand(chatCmd)
	ClientCommands.AddCommand(perfTestCmd)
}

// setupClient connects to the configured server
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	clientConf = util.GetClientConfig()
	if err := common.InitLoggers(clientConf.LogLevel); err != nil {
		return err
	}

	c, err := util.NewClient()
	if err != nil {
		return err
	}
	c.RegisterHandler(func(msg transport.Message) {
		select {
		case inbox <- msg:
		default:
			dropped.Add(1)
		}
	})
	c.RegisterStatusHandler(func(ev transport.StatusEvent) {
		util.Logger.Debugf("Connection to %s %s", ev.RemoteAddr, ev.Status)
	})

	if err := c.Connect(clientConf); err != nil {
		return err
	}
	dnetClient = c
	return nil
}

// closeClient closes the connection after the command finished
func closeClient(_ *cobra.Command, _ []string) error {
	if dnetClient == nil {
		return nil
	}
	if n := dropped.Load(); n > 0 {
		util.Logger.Warningf("%d received messages were dropped", n)
	}
	return dnetClient.Close()
}
