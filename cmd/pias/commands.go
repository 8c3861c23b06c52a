// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/pias-project/pias/solver"
)

func pingCommand() *command {
	var connection solverConnection
	return &command{
		Name:    "ping",
		Summary: "Check that the solver server is reachable",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ping", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.connect()
			if err != nil {
				return err
			}
			ctx, cancel := callContext()
			defer cancel()
			started := time.Now()
			if err := client.Call(ctx, "ping", nil, nil); err != nil {
				return err
			}
			fmt.Printf("pong (%s)\n", time.Since(started).Round(time.Microsecond))
			return nil
		},
	}
}

type statusReply struct {
	UptimeSeconds float64 `cbor:"uptime_seconds" json:"uptime_seconds"`
	Version       string  `cbor:"version" json:"version"`
}

func statusCommand() *command {
	var connection solverConnection
	var asJSON bool
	return &command{
		Name:    "status",
		Summary: "Show server uptime and version",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&asJSON, "json", false, "print the raw response as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.connect()
			if err != nil {
				return err
			}
			ctx, cancel := callContext()
			defer cancel()
			var reply statusReply
			if err := client.Call(ctx, "status", nil, &reply); err != nil {
				return err
			}
			if asJSON {
				return printJSON(reply)
			}
			uptime := time.Duration(reply.UptimeSeconds * float64(time.Second))
			fmt.Printf("version: %s\nuptime:  %s\n", reply.Version, uptime.Round(time.Second))
			return nil
		},
	}
}

type infoReply struct {
	Container          string  `cbor:"container" json:"container"`
	PainteraDataset    string  `cbor:"paintera_dataset" json:"paintera_dataset"`
	EdgeDataset        string  `cbor:"edge_dataset" json:"edge_dataset"`
	EdgeFeatureDataset string  `cbor:"edge_feature_dataset" json:"edge_feature_dataset"`
	Socket             string  `cbor:"socket" json:"socket"`
	EdgeCount          int     `cbor:"edge_count" json:"edge_count"`
	LabeledEdgeCount   int     `cbor:"labeled_edge_count" json:"labeled_edge_count"`
	LatestStateID      *uint64 `cbor:"latest_state_id" json:"latest_state_id,omitempty"`
}

func infoCommand() *command {
	var connection solverConnection
	var asJSON bool
	return &command{
		Name:    "info",
		Summary: "Show the datasets and counters the server is working on",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("info", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&asJSON, "json", false, "print the raw response as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.connect()
			if err != nil {
				return err
			}
			ctx, cancel := callContext()
			defer cancel()
			var reply infoReply
			if err := client.Call(ctx, "info", nil, &reply); err != nil {
				return err
			}
			if asJSON {
				return printJSON(reply)
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "container:\t%s\n", reply.Container)
			fmt.Fprintf(tw, "paintera dataset:\t%s\n", reply.PainteraDataset)
			fmt.Fprintf(tw, "edge dataset:\t%s\n", reply.EdgeDataset)
			fmt.Fprintf(tw, "feature dataset:\t%s\n", reply.EdgeFeatureDataset)
			fmt.Fprintf(tw, "socket:\t%s\n", reply.Socket)
			fmt.Fprintf(tw, "edges:\t%d\n", reply.EdgeCount)
			fmt.Fprintf(tw, "labeled edges:\t%d\n", reply.LabeledEdgeCount)
			if reply.LatestStateID != nil {
				fmt.Fprintf(tw, "latest state:\t%d\n", *reply.LatestStateID)
			} else {
				fmt.Fprintf(tw, "latest state:\tnone\n")
			}
			return tw.Flush()
		},
	}
}

type currentSolutionReply struct {
	Available   bool      `cbor:"available" json:"available"`
	StateID     uint64    `cbor:"state_id" json:"state_id"`
	ExitCode    int       `cbor:"exit_code" json:"exit_code"`
	Nodes       []uint64  `cbor:"nodes" json:"nodes,omitempty"`
	Assignments []uint64  `cbor:"assignments" json:"assignments,omitempty"`
	Digest      []byte    `cbor:"digest" json:"-"`
	CompletedAt time.Time `cbor:"completed_at" json:"completed_at"`
}

func currentSolutionCommand() *command {
	var connection solverConnection
	var asJSON bool
	return &command{
		Name:    "current-solution",
		Summary: "Fetch the latest successful fragment assignment",
		Description: `Fetch the latest successful fragment assignment.

Prints one "fragment -> segment" line per node. Fragments sharing a
segment ID belong to the same agglomerated object.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("current-solution", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&asJSON, "json", false, "print the raw response as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.connect()
			if err != nil {
				return err
			}
			ctx, cancel := callContext()
			defer cancel()
			var reply currentSolutionReply
			if err := client.Call(ctx, "current-solution", nil, &reply); err != nil {
				return err
			}
			if asJSON {
				return printJSON(reply)
			}
			if !reply.Available {
				fmt.Println("no successful solution yet")
				return nil
			}
			digest := hex.EncodeToString(reply.Digest)
			if len(digest) > 12 {
				digest = digest[:12]
			}
			fmt.Printf("state %d, %d fragments, digest %s, completed %s\n",
				reply.StateID, len(reply.Nodes), digest,
				reply.CompletedAt.Format(time.RFC3339))
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			for i, node := range reply.Nodes {
				fmt.Fprintf(tw, "%d\t->\t%d\n", node, reply.Assignments[i])
			}
			return tw.Flush()
		},
	}
}

func setEdgeLabelsCommand() *command {
	var connection solverConnection
	return &command{
		Name:    "set-edge-labels",
		Summary: "Submit training labels for fragment pairs",
		Description: `Submit training labels for fragment pairs.

Each argument is one "U,V,LABEL" triple where U and V are fragment
IDs and LABEL is "merge" (0) or "separate" (1). A single "-" argument
reads triples from stdin, one per line.`,
		Usage: "pias set-edge-labels <u,v,label>... [flags]",
		Examples: []example{
			{Description: "Mark two fragments as the same object", Command: "pias set-edge-labels 17,24,merge"},
			{Description: "Submit a batch from a file", Command: "pias set-edge-labels - < labels.txt"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set-edge-labels", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one u,v,label triple (or \"-\") is required")
			}
			if len(args) == 1 && args[0] == "-" {
				args = nil
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" || strings.HasPrefix(line, "#") {
						continue
					}
					args = append(args, line)
				}
				if err := scanner.Err(); err != nil {
					return err
				}
			}
			entries := make([]map[string]any, 0, len(args))
			for _, arg := range args {
				u, v, label, err := parseLabelTriple(arg)
				if err != nil {
					return err
				}
				entries = append(entries, map[string]any{"u": u, "v": v, "label": label})
			}

			client, err := connection.connect()
			if err != nil {
				return err
			}
			ctx, cancel := callContext()
			defer cancel()
			var reply struct {
				Count int `cbor:"count"`
			}
			err = client.Call(ctx, "set-edge-labels", map[string]any{"edges": entries}, &reply)
			if err != nil {
				return err
			}
			fmt.Printf("submitted %d labels\n", reply.Count)
			return nil
		},
	}
}

// parseLabelTriple parses "u,v,label" where label is merge, separate,
// 0, or 1.
func parseLabelTriple(arg string) (u, v, label uint64, err error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid triple %q, want u,v,label", arg)
	}
	u, err = strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid fragment ID in %q: %w", arg, err)
	}
	v, err = strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid fragment ID in %q: %w", arg, err)
	}
	switch name := strings.TrimSpace(parts[2]); name {
	case "merge", "0":
		label = solver.LabelMerge
	case "separate", "1":
		label = solver.LabelSeparate
	default:
		return 0, 0, 0, fmt.Errorf("invalid label %q in %q, want merge or separate", name, arg)
	}
	return u, v, label, nil
}

func requestUpdateCommand() *command {
	var connection solverConnection
	return &command{
		Name:    "request-update",
		Summary: "Queue a new solver pass and print its state ID",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("request-update", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.connect()
			if err != nil {
				return err
			}
			ctx, cancel := callContext()
			defer cancel()
			var reply struct {
				StateID uint64 `cbor:"state_id"`
			}
			if err := client.Call(ctx, "request-update", nil, &reply); err != nil {
				return err
			}
			fmt.Printf("queued state %d\n", reply.StateID)
			return nil
		},
	}
}

type historySolution struct {
	StateID     uint64    `cbor:"state_id" json:"state_id"`
	ExitCode    int       `cbor:"exit_code" json:"exit_code"`
	Nodes       int       `cbor:"nodes" json:"nodes"`
	Digest      []byte    `cbor:"digest" json:"-"`
	CompletedAt time.Time `cbor:"completed_at" json:"completed_at"`
}

type historyReply struct {
	Solutions []historySolution `cbor:"solutions" json:"solutions"`
}

func historyCommand() *command {
	var connection solverConnection
	var asJSON bool
	var limit int
	return &command{
		Name:    "history",
		Summary: "List recent solver passes, newest first",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.IntVar(&limit, "limit", 0, "maximum passes to list (default: server config)")
			flagSet.BoolVar(&asJSON, "json", false, "print the raw response as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.connect()
			if err != nil {
				return err
			}
			ctx, cancel := callContext()
			defer cancel()
			var reply historyReply
			fields := map[string]any{}
			if limit > 0 {
				fields["limit"] = limit
			}
			if err := client.Call(ctx, "history", fields, &reply); err != nil {
				return err
			}
			if asJSON {
				return printJSON(reply)
			}
			if len(reply.Solutions) == 0 {
				fmt.Println("no passes recorded")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "STATE\tRESULT\tFRAGMENTS\tCOMPLETED\n")
			for _, entry := range reply.Solutions {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n",
					entry.StateID,
					solver.ExitCode(entry.ExitCode),
					entry.Nodes,
					entry.CompletedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
