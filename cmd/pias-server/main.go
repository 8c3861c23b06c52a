// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// pias-server is the interactive agglomeration solver daemon. It
// serves the proofreading socket protocol over a Unix socket, backed
// by an N5 container of edges and edge features and an optional
// SQLite project store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pias-project/pias/lib/clock"
	"github.com/pias-project/pias/lib/config"
	"github.com/pias-project/pias/lib/logging"
	"github.com/pias-project/pias/lib/n5"
	"github.com/pias-project/pias/lib/service"
	"github.com/pias-project/pias/lib/version"
	"github.com/pias-project/pias/project"
	"github.com/pias-project/pias/solver"
)

// Dataset names nested under the paintera dataset.
const (
	edgeDatasetName    = "edges"
	featureDatasetName = "edge-features"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		containerPath    string
		painteraDataset  string
		socketPath       string
		projectPath      string
		solverParamsPath string
		configPath       string
		loggingLevel     string
		showVersion      bool
	)

	flag.StringVar(&containerPath, "container", "", "N5 container holding the paintera dataset with edges and features (required)")
	flag.StringVar(&painteraDataset, "paintera-dataset", "", fmt.Sprintf("paintera dataset inside the container that contains datasets %q and %q (required)", edgeDatasetName, featureDatasetName))
	flag.StringVar(&socketPath, "socket", "", "Unix socket path to serve on (overrides config)")
	flag.StringVar(&projectPath, "project", "", `SQLite project file for labels and solution history, or "none" to keep state in memory only (overrides config)`)
	flag.StringVar(&solverParamsPath, "solver-params", "", "JSONC file with random forest parameters (overrides config)")
	flag.StringVar(&configPath, "config", "", "YAML config file (default: $PIAS_CONFIG)")
	flag.StringVar(&loggingLevel, "logging-level", "INFO", "log level: "+strings.Join(logging.Levels(), ", "))
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("pias-server %s\n", version.Info())
		return nil
	}

	level, err := logging.ParseLevel(loggingLevel)
	if err != nil {
		return err
	}
	logger := logging.Setup(os.Stderr, level)

	if containerPath == "" {
		return fmt.Errorf("--container is required")
	}
	if painteraDataset == "" {
		return fmt.Errorf("--paintera-dataset is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath == "" {
		socketPath = cfg.Socket
	}
	if projectPath == "" {
		projectPath = cfg.Project
	}
	if solverParamsPath == "" {
		solverParamsPath = cfg.SolverParams
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := n5.Open(containerPath)
	if err != nil {
		return err
	}
	if err := validatePainteraDataset(container, containerPath, painteraDataset); err != nil {
		return err
	}
	edgeDataset := path.Join(painteraDataset, edgeDatasetName)
	featureDataset := path.Join(painteraDataset, featureDatasetName)

	forestParams := solver.DefaultForestParams()
	if solverParamsPath != "" {
		forestParams, err = solver.LoadForestParams(solverParamsPath)
		if err != nil {
			return err
		}
		logger.Info("solver params loaded",
			"path", solverParamsPath,
			"trees", forestParams.Trees,
		)
	}

	clk := clock.Real()
	var store *project.Store
	var persistence solver.Persistence
	if dbPath, persist := resolveProjectPath(projectPath, containerPath); persist {
		store, err = project.Open(project.StoreConfig{
			Path:   dbPath,
			Logger: logger,
			Clock:  clk,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		persistence = store
	} else {
		logger.Warn("project persistence disabled, labels and history are lost on shutdown")
	}

	workflow, err := solver.NewWorkflow(ctx, solver.WorkflowConfig{
		Features:     solver.NewFeatureCache(container, edgeDataset, featureDataset),
		ForestParams: forestParams,
		Store:        persistence,
		Logger:       logger,
		Clock:        clk,
	})
	if err != nil {
		return err
	}
	defer workflow.Close()

	solverService := &SolverService{
		workflow:        workflow,
		store:           store,
		clock:           clk,
		logger:          logger,
		startedAt:       clk.Now(),
		container:       containerPath,
		painteraDataset: painteraDataset,
		edgeDataset:     edgeDataset,
		featureDataset:  featureDataset,
		socketPath:      socketPath,
		historyLimit:    cfg.HistoryLimit,
	}

	socketServer := service.NewSocketServer(socketPath, logger)
	solverService.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("solver server running",
		"container", containerPath,
		"paintera_dataset", painteraDataset,
		"edges", workflow.EdgeCount(),
		"socket", socketPath,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return nil
}

// projectPathNone is the --project value that disables persistence.
const projectPathNone = "none"

// resolveProjectPath maps the configured project path to a database
// path. Empty defaults to a file inside the container root so labels
// and history travel with the data; the sentinel "none" disables
// persistence, matching the in-memory behavior of running without a
// project file.
func resolveProjectPath(projectPath, containerPath string) (string, bool) {
	switch projectPath {
	case projectPathNone:
		return "", false
	case "":
		return filepath.Join(containerPath, "pias-project.db"), true
	}
	return projectPath, true
}

// loadConfig reads the config file named on the command line, or
// falls back to $PIAS_CONFIG and then the defaults.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// validatePainteraDataset checks that the dataset carries the
// paintera marker and is label data, mirroring the checks the
// annotation frontend relies on.
func validatePainteraDataset(container *n5.Container, containerPath, dataset string) error {
	isPaintera, err := container.IsPainteraData(dataset)
	if err != nil {
		return err
	}
	if !isPaintera {
		return fmt.Errorf("dataset %q is not paintera data in container %q", dataset, containerPath)
	}
	isLabel, err := container.IsPainteraLabelData(dataset)
	if err != nil {
		return err
	}
	if !isLabel {
		return fmt.Errorf("dataset %q exists in container %q but is not label data", dataset, containerPath)
	}
	return nil
}
