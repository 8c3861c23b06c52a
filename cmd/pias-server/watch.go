// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/pias-project/pias/lib/service"
	"github.com/pias-project/pias/solver"
)

// heartbeatInterval is how often an idle watch-solutions stream emits
// a heartbeat frame so clients can distinguish a quiet solver from a
// dead connection.
const heartbeatInterval = 30 * time.Second

// watchFrame is one CBOR frame on a watch-solutions stream. Type is
// "current", "caught_up", "solution", "heartbeat", or "error".
type watchFrame struct {
	Type     string           `cbor:"type"`
	Solution *solutionOutcome `cbor:"solution,omitempty"`
	Message  string           `cbor:"message,omitempty"`
}

// solutionOutcome summarizes one solver pass for stream consumers.
// Assignments are deliberately omitted; clients fetch them with
// current-solution once notified.
type solutionOutcome struct {
	StateID     uint64          `cbor:"state_id"`
	ExitCode    solver.ExitCode `cbor:"exit_code"`
	Nodes       int             `cbor:"nodes"`
	Digest      []byte          `cbor:"digest,omitempty"`
	CompletedAt time.Time       `cbor:"completed_at"`
}

func outcomeOf(solution *solver.Solution) *solutionOutcome {
	return &solutionOutcome{
		StateID:     solution.StateID,
		ExitCode:    solution.ExitCode,
		Nodes:       len(solution.Nodes),
		Digest:      solution.Digest,
		CompletedAt: solution.CompletedAt,
	}
}

// handleWatchSolutions streams every pass outcome to the client until
// it disconnects. The stream opens with the latest successful
// solution, if one exists, followed by a caught_up marker.
func (s *SolverService) handleWatchSolutions(ctx context.Context, raw []byte, stream *service.Stream) error {
	updates, cancel := s.workflow.Subscribe()
	defer cancel()

	if current := s.workflow.LatestSuccessful(); current != nil {
		if err := stream.Send(watchFrame{Type: "current", Solution: outcomeOf(current)}); err != nil {
			return err
		}
	}
	if err := stream.Send(watchFrame{Type: "caught_up"}); err != nil {
		return err
	}

	heartbeat := s.clock.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case solution, ok := <-updates:
			if !ok {
				// The workflow dropped this subscriber or shut down.
				stream.Send(watchFrame{Type: "error", Message: "subscriber lagged, reconnect to resync"})
				return nil
			}
			if err := stream.Send(watchFrame{Type: "solution", Solution: outcomeOf(&solution)}); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := stream.Send(watchFrame{Type: "heartbeat"}); err != nil {
				return err
			}
		}
	}
}
