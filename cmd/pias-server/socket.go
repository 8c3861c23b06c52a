// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pias-project/pias/lib/clock"
	"github.com/pias-project/pias/lib/codec"
	"github.com/pias-project/pias/lib/service"
	"github.com/pias-project/pias/lib/version"
	"github.com/pias-project/pias/project"
	"github.com/pias-project/pias/solver"
)

// SolverService exposes the workflow over the socket protocol. One
// instance serves all connections.
type SolverService struct {
	workflow *solver.Workflow
	store    *project.Store
	clock    clock.Clock
	logger   *slog.Logger

	startedAt       time.Time
	container       string
	painteraDataset string
	edgeDataset     string
	featureDataset  string
	socketPath      string
	historyLimit    int
}

func (s *SolverService) registerActions(server *service.SocketServer) {
	server.Handle("ping", s.handlePing)
	server.Handle("status", s.handleStatus)
	server.Handle("info", s.handleInfo)
	server.Handle("current-solution", s.handleCurrentSolution)
	server.Handle("set-edge-labels", s.handleSetEdgeLabels)
	server.Handle("request-update", s.handleRequestUpdate)
	server.Handle("history", s.handleHistory)
	server.HandleStream("watch-solutions", s.handleWatchSolutions)
}

func (s *SolverService) handlePing(ctx context.Context, raw []byte) (any, error) {
	return nil, nil
}

type statusResponse struct {
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	Version       string  `cbor:"version"`
}

func (s *SolverService) handleStatus(ctx context.Context, raw []byte) (any, error) {
	return statusResponse{
		UptimeSeconds: s.clock.Now().Sub(s.startedAt).Seconds(),
		Version:       version.Info(),
	}, nil
}

type infoResponse struct {
	Container          string  `cbor:"container"`
	PainteraDataset    string  `cbor:"paintera_dataset"`
	EdgeDataset        string  `cbor:"edge_dataset"`
	EdgeFeatureDataset string  `cbor:"edge_feature_dataset"`
	Socket             string  `cbor:"socket"`
	EdgeCount          int     `cbor:"edge_count"`
	LabeledEdgeCount   int     `cbor:"labeled_edge_count"`
	LatestStateID      *uint64 `cbor:"latest_state_id,omitempty"`
}

func (s *SolverService) handleInfo(ctx context.Context, raw []byte) (any, error) {
	resp := infoResponse{
		Container:          s.container,
		PainteraDataset:    s.painteraDataset,
		EdgeDataset:        s.edgeDataset,
		EdgeFeatureDataset: s.featureDataset,
		Socket:             s.socketPath,
		EdgeCount:          s.workflow.EdgeCount(),
		LabeledEdgeCount:   s.workflow.LabeledEdgeCount(),
	}
	if latest := s.workflow.Latest(); latest != nil {
		resp.LatestStateID = &latest.StateID
	}
	return resp, nil
}

type currentSolutionResponse struct {
	Available   bool            `cbor:"available"`
	StateID     uint64          `cbor:"state_id"`
	ExitCode    solver.ExitCode `cbor:"exit_code"`
	Nodes       []uint64        `cbor:"nodes,omitempty"`
	Assignments []uint64        `cbor:"assignments,omitempty"`
	Digest      []byte          `cbor:"digest,omitempty"`
	CompletedAt time.Time       `cbor:"completed_at"`
}

// handleCurrentSolution returns the latest successful solution. A
// run whose every pass failed so far reports available false rather
// than an error, so clients can poll before the first labels arrive.
func (s *SolverService) handleCurrentSolution(ctx context.Context, raw []byte) (any, error) {
	solution := s.workflow.LatestSuccessful()
	if solution == nil {
		return currentSolutionResponse{Available: false}, nil
	}
	return currentSolutionResponse{
		Available:   true,
		StateID:     solution.StateID,
		ExitCode:    solution.ExitCode,
		Nodes:       solution.Nodes,
		Assignments: solution.Assignments,
		Digest:      solution.Digest,
		CompletedAt: solution.CompletedAt,
	}, nil
}

type edgeLabelEntry struct {
	U     uint64 `cbor:"u"`
	V     uint64 `cbor:"v"`
	Label uint64 `cbor:"label"`
}

type setEdgeLabelsRequest struct {
	Edges []edgeLabelEntry `cbor:"edges"`
}

type setEdgeLabelsResponse struct {
	Count int `cbor:"count"`
}

func (s *SolverService) handleSetEdgeLabels(ctx context.Context, raw []byte) (any, error) {
	var req setEdgeLabelsRequest
	if err := codec.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid set-edge-labels request: %w", err)
	}
	if req.Edges == nil {
		return nil, fmt.Errorf("missing required field: edges")
	}
	edges := make([]solver.Edge, len(req.Edges))
	labels := make([]uint64, len(req.Edges))
	for i, entry := range req.Edges {
		edges[i] = solver.NormalizeEdge(entry.U, entry.V)
		labels[i] = entry.Label
	}
	count, err := s.workflow.SetEdgeLabels(ctx, edges, labels)
	if err != nil {
		return nil, err
	}
	s.logger.Info("edge labels submitted", "count", count)
	return setEdgeLabelsResponse{Count: count}, nil
}

type requestUpdateResponse struct {
	StateID uint64 `cbor:"state_id"`
}

func (s *SolverService) handleRequestUpdate(ctx context.Context, raw []byte) (any, error) {
	stateID, err := s.workflow.RequestUpdate(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("update requested", "state_id", stateID)
	return requestUpdateResponse{StateID: stateID}, nil
}

type historyRequest struct {
	Limit int `cbor:"limit"`
}

type historyResponse struct {
	Solutions []project.SolutionSummary `cbor:"solutions"`
}

func (s *SolverService) handleHistory(ctx context.Context, raw []byte) (any, error) {
	if s.store == nil {
		return nil, fmt.Errorf("history requires a project store, start the server with --project")
	}
	req := historyRequest{}
	if err := codec.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("invalid history request: %w", err)
	}
	if req.Limit == 0 {
		req.Limit = s.historyLimit
	}
	solutions, err := s.store.History(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	if solutions == nil {
		solutions = []project.SolutionSummary{}
	}
	return historyResponse{Solutions: solutions}, nil
}
