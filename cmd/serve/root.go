package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dNet/cmd/util"
	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
	"github.com/ValentinKolb/dNet/sock/transport/base"
	"github.com/ValentinKolb/dNet/sock/transport/http"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// message handling modes of the serve command
const (
	modeEcho      = "echo"
	modeBroadcast = "broadcast"
	modeLog       = "log"
)

var (
	serveCmdConfig = common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dNet server",
		Long:    `Start a dNet server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DNET_<flag> (e.g. DNET_MAX_CLIENTS=10000)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:8080, /tmp/dnet.sock, ...)"))

	key = "max-clients"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxClientCount, cmdUtil.WrapString("Maximum number of concurrent connections, further connections are rejected"))

	key = "handlers"
	ServeCmd.PersistentFlags().Int(key, common.DefaultInitHandlerCount, cmdUtil.WrapString("Number of connection handlers (shards) created on start"))

	key = "max-handler-clients"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxHandlerClientCount, cmdUtil.WrapString("Connections per handler at which a new handler is created"))

	key = "groups"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Enable group join and group relay messages"))

	key = "cross-group"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Allow clients to send to groups they are not a member of"))

	key = "stop-timeout"
	ServeCmd.PersistentFlags().Duration(key, common.DefaultStopTimeout, cmdUtil.WrapString("How long to wait for pending messages on shutdown"))

	key = "reuse-address"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Set SO_REUSEADDR on the listening socket (only for tcp)"))

	key = "reuse-port"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Set SO_REUSEPORT on the listening socket (only for tcp)"))

	key = "mode"
	ServeCmd.PersistentFlags().String(key, modeEcho, cmdUtil.WrapString("What to do with received messages: echo (send back), broadcast (send to all other clients) or log"))

	key = "monitor"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the http monitor serving /metrics, /stats and /clients (empty disables it)"))

	cmdUtil.SetupConnFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig = common.DefaultServerConfig(viper.GetString("endpoint"))
	serveCmdConfig.Framing = cmdUtil.GetFramingConfig()
	serveCmdConfig.MaxClientCount = viper.GetInt("max-clients")
	serveCmdConfig.InitHandlerCount = viper.GetInt("handlers")
	serveCmdConfig.MaxHandlerClientCount = viper.GetInt("max-handler-clients")
	serveCmdConfig.EnableGroup = viper.GetBool("groups")
	serveCmdConfig.AllowCrossGroupMessage = viper.GetBool("cross-group")
	serveCmdConfig.StopTimeout = viper.GetDuration("stop-timeout")
	serveCmdConfig.Conn, serveCmdConfig.Socket, serveCmdConfig.TCP = cmdUtil.GetConnConfig()
	serveCmdConfig.TCP.ReuseAddress = viper.GetBool("reuse-address")
	serveCmdConfig.TCP.ReusePort = viper.GetBool("reuse-port")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	switch viper.GetString("mode") {
	case modeEcho, modeBroadcast, modeLog:
	default:
		return fmt.Errorf("invalid mode %s (expected one of: echo, broadcast, log)", viper.GetString("mode"))
	}

	return serveCmdConfig.Validate()
}

// run starts the server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	server, err := cmdUtil.NewServer()
	if err != nil {
		return err
	}

	registerHandlers(server, viper.GetString("mode"))

	if err := server.Start(serveCmdConfig); err != nil {
		return err
	}
	fmt.Println(serveCmdConfig.String())

	var monitor *http.Monitor
	if endpoint := viper.GetString("monitor"); endpoint != "" {
		monitor = http.NewMonitor(server, serveCmdConfig.LogLevel == "debug")
		if err := monitor.Start(endpoint); err != nil {
			_ = server.Stop()
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	cmdUtil.Logger.Infof("Shutting down")

	var result *multierror.Error
	if monitor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := monitor.Stop(shutdownCtx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := server.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// registerHandlers installs the message and status handlers of the given mode
func registerHandlers(server *base.Server, mode string) {
	server.RegisterStatusHandler(func(ev transport.StatusEvent) {
		cmdUtil.Logger.Infof("Client %d (%s) %s on handler %d", ev.ClientID, ev.RemoteAddr, ev.Status, ev.HandlerID)
	})

	switch mode {
	case modeEcho:
		server.RegisterHandler(func(msg transport.Message) {
			if err := server.SendMessage(msg.ClientID, msg.Data); err != nil {
				cmdUtil.Logger.Warningf("Echo to client %d failed: %v", msg.ClientID, err)
			}
		})
	case modeBroadcast:
		server.RegisterHandler(func(msg transport.Message) {
			ids := server.ClientIDs()
			targets := make([]uint64, 0, len(ids))
			for _, id := range ids {
				if id != msg.ClientID {
					targets = append(targets, id)
				}
			}
			// the handler must not block the shard, failures are logged in the background
			pending := server.SendMessageAsync(targets, msg.Data)
			go func() {
				if err := pending.Err(); err != nil {
					cmdUtil.Logger.Debugf("Broadcast of client %d incomplete: %v", msg.ClientID, err)
				}
			}()
		})
	case modeLog:
		server.RegisterHandler(func(msg transport.Message) {
			cmdUtil.Logger.Infof("Client %d: %q", msg.ClientID, msg.Data)
		})
	}
}
