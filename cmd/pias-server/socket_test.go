// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pias-project/pias/lib/clock"
	"github.com/pias-project/pias/lib/codec"
	"github.com/pias-project/pias/lib/n5"
	"github.com/pias-project/pias/lib/service"
	"github.com/pias-project/pias/lib/testutil"
	"github.com/pias-project/pias/project"
	"github.com/pias-project/pias/solver"
)

var testEpoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// newTestContainer builds an N5 container with a paintera-marked
// dataset holding the five-edge fixture.
func newTestContainer(t *testing.T) (*n5.Container, string) {
	t.Helper()
	containerPath := filepath.Join(t.TempDir(), "fixture.n5")
	container, err := n5.Create(containerPath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := container.MarkPainteraLabelData("paintera"); err != nil {
		t.Fatalf("MarkPainteraLabelData: %v", err)
	}

	edges := [][]uint64{{0, 1}, {1, 2}, {0, 2}, {1, 3}, {2, 3}}
	features := [][]float64{
		{0.5, 1.0, 0.5},
		{0.7, 0.9, 0.8},
		{0.3, 0.9, 0.2},
		{0.5, 0.2, 0.6},
		{0.4, 0.1, 0.3},
	}
	if err := container.WriteUint64Matrix("paintera/edges", edges, 0, n5.RawCompression()); err != nil {
		t.Fatalf("WriteUint64Matrix: %v", err)
	}
	if err := container.WriteFloat64Matrix("paintera/edge-features", features, 0, n5.GzipCompression()); err != nil {
		t.Fatalf("WriteFloat64Matrix: %v", err)
	}
	return container, containerPath
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// startTestService runs a fully wired solver service on a temp socket
// and returns a client for it.
func startTestService(t *testing.T) (*service.ServiceClient, string) {
	t.Helper()
	container, containerPath := newTestContainer(t)
	logger := testLogger()
	clk := clock.Fake(testEpoch)

	store, err := project.Open(project.StoreConfig{
		Path:   filepath.Join(t.TempDir(), "project.db"),
		Logger: logger,
		Clock:  clk,
	})
	if err != nil {
		t.Fatalf("project.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	params := solver.DefaultForestParams()
	params.Seed = 42
	workflow, err := solver.NewWorkflow(context.Background(), solver.WorkflowConfig{
		Features:     solver.NewFeatureCache(container, "paintera/edges", "paintera/edge-features"),
		ForestParams: params,
		Store:        store,
		Logger:       logger,
		Clock:        clk,
	})
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}
	t.Cleanup(func() { workflow.Close() })

	socketPath := filepath.Join(testutil.SocketDir(t), "solver.sock")
	solverService := &SolverService{
		workflow:        workflow,
		store:           store,
		clock:           clk,
		logger:          logger,
		startedAt:       clk.Now(),
		container:       containerPath,
		painteraDataset: "paintera",
		edgeDataset:     "paintera/edges",
		featureDataset:  "paintera/edge-features",
		socketPath:      socketPath,
		historyLimit:    50,
	}
	server := service.NewSocketServer(socketPath, logger)
	solverService.registerActions(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return service.NewServiceClient(socketPath), socketPath
}

func TestPingAndStatus(t *testing.T) {
	client, _ := startTestService(t)
	ctx := context.Background()

	// Each ping is its own connection.
	for i := range 3 {
		if err := client.Call(ctx, "ping", nil, nil); err != nil {
			t.Fatalf("ping %d: %v", i, err)
		}
	}

	var status statusResponse
	if err := client.Call(ctx, "status", nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.UptimeSeconds != 0 {
		t.Errorf("uptime under fake clock = %v, want 0", status.UptimeSeconds)
	}
	if status.Version == "" {
		t.Error("status missing version")
	}
}

func TestInfoReportsDatasets(t *testing.T) {
	client, _ := startTestService(t)

	var info infoResponse
	if err := client.Call(context.Background(), "info", nil, &info); err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.PainteraDataset != "paintera" {
		t.Errorf("paintera dataset = %q", info.PainteraDataset)
	}
	if info.EdgeDataset != "paintera/edges" || info.EdgeFeatureDataset != "paintera/edge-features" {
		t.Errorf("datasets = %q, %q", info.EdgeDataset, info.EdgeFeatureDataset)
	}
	if info.EdgeCount != 5 {
		t.Errorf("edge count = %d, want 5", info.EdgeCount)
	}
	if info.LabeledEdgeCount != 0 {
		t.Errorf("labeled edge count = %d, want 0", info.LabeledEdgeCount)
	}
	if info.LatestStateID != nil {
		t.Errorf("latest state ID = %d before any pass", *info.LatestStateID)
	}
}

func TestCurrentSolutionUnavailable(t *testing.T) {
	client, _ := startTestService(t)

	var reply currentSolutionResponse
	if err := client.Call(context.Background(), "current-solution", nil, &reply); err != nil {
		t.Fatalf("current-solution: %v", err)
	}
	if reply.Available {
		t.Error("solution reported available before any pass")
	}
}

func TestSetEdgeLabelsValidation(t *testing.T) {
	client, _ := startTestService(t)
	ctx := context.Background()

	// Missing edges field.
	err := client.Call(ctx, "set-edge-labels", nil, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error for missing edges, got %v", err)
	}

	// Unknown label value.
	err = client.Call(ctx, "set-edge-labels", map[string]any{
		"edges": []map[string]any{{"u": 0, "v": 1, "label": 7}},
	}, nil)
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error for bad label, got %v", err)
	}

	var reply setEdgeLabelsResponse
	err = client.Call(ctx, "set-edge-labels", map[string]any{
		"edges": []map[string]any{{"u": 1, "v": 0, "label": 0}},
	}, &reply)
	if err != nil {
		t.Fatalf("set-edge-labels: %v", err)
	}
	if reply.Count != 1 {
		t.Errorf("count = %d, want 1", reply.Count)
	}
}

func TestUnknownAction(t *testing.T) {
	client, _ := startTestService(t)

	err := client.Call(context.Background(), "no-such-action", nil, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error, got %v", err)
	}
	if !strings.Contains(serviceErr.Message, "unknown action") {
		t.Errorf("error message = %q", serviceErr.Message)
	}
}

// TestMalformedRequest sends bytes that are not a CBOR map and
// expects an error envelope rather than a dropped connection.
func TestMalformedRequest(t *testing.T) {
	_, socketPath := startTestService(t)

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("not cbor at all")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.(*net.UnixConn).CloseWrite()

	var response service.Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.OK {
		t.Fatal("malformed request accepted")
	}
	if !strings.Contains(response.Error, "invalid request") {
		t.Errorf("error = %q", response.Error)
	}
}

func TestSetEdgeLabelsBatch(t *testing.T) {
	client, _ := startTestService(t)

	entries := []map[string]any{
		{"u": 0, "v": 1, "label": 0},
		{"u": 1, "v": 2, "label": 0},
		{"u": 0, "v": 2, "label": 0},
		{"u": 1, "v": 3, "label": 1},
		{"u": 2, "v": 3, "label": 1},
	}
	var reply setEdgeLabelsResponse
	err := client.Call(context.Background(), "set-edge-labels", map[string]any{"edges": entries}, &reply)
	if err != nil {
		t.Fatalf("set-edge-labels: %v", err)
	}
	if reply.Count != 5 {
		t.Errorf("count = %d, want 5", reply.Count)
	}

	var info infoResponse
	if err := client.Call(context.Background(), "info", nil, &info); err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.LabeledEdgeCount != 5 {
		t.Errorf("labeled edge count = %d, want 5", info.LabeledEdgeCount)
	}
}

func TestUpdateFlowOverSocket(t *testing.T) {
	client, _ := startTestService(t)
	ctx := context.Background()

	stream, err := client.Stream(ctx, "watch-solutions", nil)
	if err != nil {
		t.Fatalf("watch-solutions: %v", err)
	}
	defer stream.Close()

	var frame watchFrame
	if err := stream.Next(&frame); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if frame.Type != "caught_up" {
		t.Fatalf("first frame type = %q, want caught_up", frame.Type)
	}

	// Pass 0: no labels at all.
	var update requestUpdateResponse
	if err := client.Call(ctx, "request-update", nil, &update); err != nil {
		t.Fatalf("request-update: %v", err)
	}
	if update.StateID != 0 {
		t.Errorf("state ID = %d, want 0", update.StateID)
	}
	requireSolutionFrame(t, stream, 0, solver.ExitTrainingFailed)

	// Pass 1: a single merge label, still one class.
	if err := client.Call(ctx, "set-edge-labels", map[string]any{
		"edges": []map[string]any{{"u": 0, "v": 1, "label": 0}},
	}, nil); err != nil {
		t.Fatalf("set-edge-labels: %v", err)
	}
	if err := client.Call(ctx, "request-update", nil, &update); err != nil {
		t.Fatalf("request-update: %v", err)
	}
	if update.StateID != 1 {
		t.Errorf("state ID = %d, want 1", update.StateID)
	}
	requireSolutionFrame(t, stream, 1, solver.ExitTrainingFailed)

	// Pass 2: both classes present, the pass succeeds.
	if err := client.Call(ctx, "set-edge-labels", map[string]any{
		"edges": []map[string]any{{"u": 2, "v": 3, "label": 1}},
	}, nil); err != nil {
		t.Fatalf("set-edge-labels: %v", err)
	}
	if err := client.Call(ctx, "request-update", nil, &update); err != nil {
		t.Fatalf("request-update: %v", err)
	}
	if update.StateID != 2 {
		t.Errorf("state ID = %d, want 2", update.StateID)
	}
	requireSolutionFrame(t, stream, 2, solver.ExitSuccess)

	// The triangle agglomerates, fragment 3 stays separate.
	var solution currentSolutionResponse
	if err := client.Call(ctx, "current-solution", nil, &solution); err != nil {
		t.Fatalf("current-solution: %v", err)
	}
	if !solution.Available {
		t.Fatal("solution unavailable after successful pass")
	}
	if solution.StateID != 2 {
		t.Errorf("solution state ID = %d, want 2", solution.StateID)
	}
	if len(solution.Nodes) != 4 || len(solution.Assignments) != 4 {
		t.Fatalf("solution sizes = %d nodes, %d assignments, want 4 each",
			len(solution.Nodes), len(solution.Assignments))
	}
	segment := map[uint64]uint64{}
	for i, node := range solution.Nodes {
		segment[node] = solution.Assignments[i]
	}
	if segment[0] != segment[1] || segment[1] != segment[2] {
		t.Errorf("triangle fragments split: %v", segment)
	}
	if segment[3] == segment[0] {
		t.Errorf("fragment 3 merged into the triangle: %v", segment)
	}

	// History lists the three passes newest first.
	var history historyResponse
	if err := client.Call(ctx, "history", nil, &history); err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.Solutions) != 3 {
		t.Fatalf("history length = %d, want 3", len(history.Solutions))
	}
	wantCodes := []solver.ExitCode{solver.ExitSuccess, solver.ExitTrainingFailed, solver.ExitTrainingFailed}
	for i, entry := range history.Solutions {
		if entry.StateID != uint64(2-i) {
			t.Errorf("history[%d].StateID = %d, want %d", i, entry.StateID, 2-i)
		}
		if entry.ExitCode != wantCodes[i] {
			t.Errorf("history[%d].ExitCode = %v, want %v", i, entry.ExitCode, wantCodes[i])
		}
	}
}

// TestCurrentSolutionSurvivesRestart runs a successful pass, then
// reopens the same project database with a fresh workflow and checks
// the solution is served again.
func TestCurrentSolutionSurvivesRestart(t *testing.T) {
	container, _ := newTestContainer(t)
	logger := testLogger()
	clk := clock.Fake(testEpoch)
	projectPath := filepath.Join(t.TempDir(), "project.db")
	ctx := context.Background()

	openWorkflow := func() (*project.Store, *solver.Workflow) {
		t.Helper()
		store, err := project.Open(project.StoreConfig{
			Path:   projectPath,
			Logger: logger,
			Clock:  clk,
		})
		if err != nil {
			t.Fatalf("project.Open: %v", err)
		}
		params := solver.DefaultForestParams()
		params.Seed = 42
		workflow, err := solver.NewWorkflow(ctx, solver.WorkflowConfig{
			Features:     solver.NewFeatureCache(container, "paintera/edges", "paintera/edge-features"),
			ForestParams: params,
			Store:        store,
			Logger:       logger,
			Clock:        clk,
		})
		if err != nil {
			t.Fatalf("NewWorkflow: %v", err)
		}
		return store, workflow
	}

	store, workflow := openWorkflow()
	edges := []solver.Edge{{U: 0, V: 1}, {U: 2, V: 3}}
	if _, err := workflow.SetEdgeLabels(ctx, edges, []uint64{solver.LabelMerge, solver.LabelSeparate}); err != nil {
		t.Fatalf("SetEdgeLabels: %v", err)
	}
	outcomes, cancel := workflow.Subscribe()
	if _, err := workflow.RequestUpdate(ctx); err != nil {
		t.Fatalf("RequestUpdate: %v", err)
	}
	outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "solver pass")
	cancel()
	if outcome.ExitCode != solver.ExitSuccess {
		t.Fatalf("pass exit = %v, want success", outcome.ExitCode)
	}
	if err := workflow.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("store Close: %v", err)
	}

	store, workflow = openWorkflow()
	t.Cleanup(func() {
		workflow.Close()
		store.Close()
	})
	svc := &SolverService{workflow: workflow, store: store, clock: clk, logger: logger}
	raw, err := svc.handleCurrentSolution(ctx, nil)
	if err != nil {
		t.Fatalf("current-solution after restart: %v", err)
	}
	reply := raw.(currentSolutionResponse)
	if !reply.Available {
		t.Fatal("solution unavailable after restart")
	}
	if reply.StateID != 0 {
		t.Errorf("restored state ID = %d, want 0", reply.StateID)
	}
	if len(reply.Nodes) != 4 || len(reply.Assignments) != 4 {
		t.Errorf("restored partition sizes = %d nodes, %d assignments, want 4 each",
			len(reply.Nodes), len(reply.Assignments))
	}
}

func requireSolutionFrame(t *testing.T, stream *service.StreamReader, wantStateID uint64, wantExit solver.ExitCode) {
	t.Helper()
	for {
		var frame watchFrame
		if err := stream.Next(&frame); err != nil {
			t.Fatalf("waiting for state %d frame: %v", wantStateID, err)
		}
		if frame.Type == "heartbeat" {
			continue
		}
		if frame.Type != "solution" || frame.Solution == nil {
			t.Fatalf("unexpected frame %q while waiting for state %d", frame.Type, wantStateID)
		}
		if frame.Solution.StateID != wantStateID || frame.Solution.ExitCode != wantExit {
			t.Fatalf("frame = (%d, %v), want (%d, %v)",
				frame.Solution.StateID, frame.Solution.ExitCode, wantStateID, wantExit)
		}
		return
	}
}

func TestResolveProjectPath(t *testing.T) {
	path, persist := resolveProjectPath("", "/data/fixture.n5")
	if !persist || path != filepath.Join("/data/fixture.n5", "pias-project.db") {
		t.Errorf("default resolution = (%q, %v)", path, persist)
	}

	path, persist = resolveProjectPath("/tmp/labels.db", "/data/fixture.n5")
	if !persist || path != "/tmp/labels.db" {
		t.Errorf("explicit path resolution = (%q, %v)", path, persist)
	}

	if path, persist = resolveProjectPath("none", "/data/fixture.n5"); persist {
		t.Errorf("sentinel kept persistence enabled, path %q", path)
	}
}

func TestValidatePainteraDataset(t *testing.T) {
	container, containerPath := newTestContainer(t)

	if err := validatePainteraDataset(container, containerPath, "paintera"); err != nil {
		t.Fatalf("valid dataset rejected: %v", err)
	}

	// A plain group without the paintera marker.
	if err := container.SetAttributes("plain", map[string]any{}); err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
	if err := validatePainteraDataset(container, containerPath, "plain"); err == nil {
		t.Error("unmarked dataset accepted")
	}

	// Paintera data of the wrong type.
	if err := container.SetAttributes("raw", map[string]any{
		"painteraData": map[string]any{"type": "raw"},
	}); err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
	if err := validatePainteraDataset(container, containerPath, "raw"); err == nil {
		t.Error("non-label paintera data accepted")
	}
}
