// Package cmd implements the command-line interface of dNet. It provides a hierarchical
// command structure for running a server and talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring a dNet server
//   - client: Commands for sending messages, joining groups and benchmarking a server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable DNET_<FLAG> (e.g. DNET_LOG_LEVEL=debug),
// .env and .env.local files in the working directory are loaded on start.
//
// See dnet -help for a list of all commands.
package cmd
