// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pias-project/pias/solver"
)

// watchOutcome is the per-pass summary frame the server streams.
type watchOutcome struct {
	StateID     uint64    `cbor:"state_id"`
	ExitCode    int       `cbor:"exit_code"`
	Nodes       int       `cbor:"nodes"`
	Digest      []byte    `cbor:"digest"`
	CompletedAt time.Time `cbor:"completed_at"`
}

type watchFrame struct {
	Type     string        `cbor:"type"`
	Solution *watchOutcome `cbor:"solution"`
	Message  string        `cbor:"message"`
}

func watchCommand() *command {
	var connection solverConnection
	var plain bool
	return &command{
		Name:    "watch",
		Summary: "Stream solver pass outcomes as they complete",
		Description: `Stream solver pass outcomes as they complete.

On a terminal this opens an interactive view of recent passes. With
--plain, or when stdout is not a terminal, one line is printed per
pass instead.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&plain, "plain", false, "line-per-pass output instead of the interactive view")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.connect()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reader, err := client.Stream(ctx, "watch-solutions", nil)
			if err != nil {
				return err
			}
			defer reader.Close()

			if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
				return watchPlain(ctx, reader)
			}
			return watchInteractive(ctx, reader)
		},
	}
}

// frameReader is the subset of the stream client the watch loops
// need. Lets tests feed canned frames.
type frameReader interface {
	Next(result any) error
}

func watchPlain(ctx context.Context, reader frameReader) error {
	for {
		var frame watchFrame
		if err := reader.Next(&frame); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch frame.Type {
		case "current":
			printOutcome("current", frame.Solution)
		case "caught_up":
			fmt.Println("watching for solver updates")
		case "solution":
			printOutcome("pass", frame.Solution)
		case "heartbeat":
			// Keepalive only.
		case "error":
			return fmt.Errorf("stream closed by server: %s", frame.Message)
		default:
			// Unknown frame types from newer servers are skipped.
		}
	}
}

func printOutcome(kind string, outcome *watchOutcome) {
	if outcome == nil {
		return
	}
	fmt.Printf("%s\tstate=%d\tresult=%s\tfragments=%d\n",
		kind, outcome.StateID, solver.ExitCode(outcome.ExitCode), outcome.Nodes)
}
