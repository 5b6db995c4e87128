package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dNet/cmd/client"
	"github.com/ValentinKolb/dNet/cmd/serve"
	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.2"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dnet",
		Short: "socket engine with message framing and groups",
		Long: fmt.Sprintf(`dNet (v%s)

A sharded TCP and Unix socket engine written in Go. It frames byte streams
into messages, delivers them in order per connection and relays messages
between named groups of clients.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dNet",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dNet v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
	key = "framing"
	RootCmd.PersistentFlags().String(key, "simple", util.WrapString("framing of the byte stream (simple, header, endmark, raw, varint), must match on both sides"))
	key = "network-order"
	RootCmd.PersistentFlags().Bool(key, false, util.WrapString("write length and magic fields big endian (simple, header)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
