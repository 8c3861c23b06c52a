// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// pias is the command line client for the pias solver server. It
// speaks the CBOR socket protocol: one-shot actions for queries and
// label submission, plus a streaming watch mode with a terminal UI.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/pias-project/pias/lib/config"
	"github.com/pias-project/pias/lib/logging"
	"github.com/pias-project/pias/lib/service"
	"github.com/pias-project/pias/lib/version"
)

// callTimeout bounds one-shot actions. request-update can block while
// a pass is queued, so this is generous.
const callTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("pias %s\n", version.Info())
		return nil
	}
	return rootCommand().execute(os.Args[1:])
}

func rootCommand() *command {
	return &command{
		Name:    "pias",
		Summary: "Client for the pias interactive agglomeration solver",
		Description: `Client for the pias interactive agglomeration solver.

Talks to a running pias-server over its Unix socket. The socket path
comes from --socket, falling back to the config file named by
$PIAS_CONFIG and then the built-in default.`,
		Subcommands: []*command{
			pingCommand(),
			statusCommand(),
			infoCommand(),
			currentSolutionCommand(),
			setEdgeLabelsCommand(),
			requestUpdateCommand(),
			historyCommand(),
			watchCommand(),
		},
	}
}

// solverConnection carries the shared connection flags and builds the
// service client. Embedded by every subcommand's flag set.
type solverConnection struct {
	socket   string
	logLevel string
}

func (sc *solverConnection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&sc.socket, "socket", "", "solver server Unix socket path (default: from config)")
	flagSet.StringVar(&sc.logLevel, "logging-level", "INFO", "log level: "+strings.Join(logging.Levels(), ", "))
}

func (sc *solverConnection) connect() (*service.ServiceClient, error) {
	level, err := logging.ParseLevel(sc.logLevel)
	if err != nil {
		return nil, err
	}
	logging.Setup(os.Stderr, level)

	socket := sc.socket
	if socket == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		socket = cfg.Socket
	}
	return service.NewServiceClient(socket), nil
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}
