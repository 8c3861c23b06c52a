// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/pias-project/pias/lib/clock"
	"github.com/pias-project/pias/lib/codec"
)

// Persistence is the project store surface the workflow needs. All
// methods must be safe for concurrent use.
type Persistence interface {
	// SaveLabels records submitted edge labels.
	SaveLabels(ctx context.Context, edges []Edge, labels []uint64) error
	// LoadLabels returns all recorded edge labels.
	LoadLabels(ctx context.Context) ([]Edge, []uint64, error)
	// SaveSolution records the outcome of one solver pass.
	SaveSolution(ctx context.Context, solution *Solution) error
	// NextStateID returns the persisted next state ID.
	NextStateID(ctx context.Context) (uint64, error)
	// SetNextStateID persists the next state ID.
	SetNextStateID(ctx context.Context, id uint64) error
	// LatestSuccessful returns the newest persisted successful
	// solution, or nil when no pass has succeeded.
	LatestSuccessful(ctx context.Context) (*Solution, error)
}

// WorkflowConfig configures a Workflow. Features is required; the
// rest have defaults.
type WorkflowConfig struct {
	// Features is the edge/feature cache. The workflow reloads it
	// once at startup.
	Features *FeatureCache
	// ForestParams configures random forest training. Zero value
	// means DefaultForestParams.
	ForestParams ForestParams
	// Store persists labels, state IDs, and solutions. Nil disables
	// persistence.
	Store Persistence
	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger
	// Clock stamps solutions. Nil means the real clock.
	Clock clock.Clock
	// QueueSize bounds pending update requests. Zero means 64.
	QueueSize int
}

// Workflow runs solver passes on a single background worker.
// RequestUpdate assigns a state ID and enqueues a pass; each pass
// trains a fresh forest on the current labels, predicts separation
// probabilities for every edge, agglomerates, persists the outcome,
// and notifies subscribers.
type Workflow struct {
	logger       *slog.Logger
	clk          clock.Clock
	features     *FeatureCache
	labels       *LabelCache
	params       ForestParams
	agglomerator Agglomerator
	store        Persistence

	mu               sync.Mutex
	closed           bool
	nextStateID      uint64
	latest           *Solution
	latestSuccessful *Solution
	subscribers      map[int]chan Solution
	subscriberID     int

	queue chan uint64
	done  chan struct{}
}

// NewWorkflow loads the edge data, restores persisted labels, the
// state ID counter, and the latest successful solution, and starts
// the update worker. The caller must Close the workflow to stop the
// worker.
func NewWorkflow(ctx context.Context, cfg WorkflowConfig) (*Workflow, error) {
	if cfg.Features == nil {
		return nil, fmt.Errorf("solver: WorkflowConfig.Features is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	params := cfg.ForestParams
	if params.Trees == 0 {
		params = DefaultForestParams()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	if err := cfg.Features.Reload(); err != nil {
		return nil, fmt.Errorf("solver: loading edge data: %w", err)
	}
	_, _, index := cfg.Features.Snapshot()

	workflow := &Workflow{
		logger:      logger,
		clk:         clk,
		features:    cfg.Features,
		labels:      NewLabelCache(),
		params:      params,
		store:       cfg.Store,
		subscribers: make(map[int]chan Solution),
		queue:       make(chan uint64, queueSize),
		done:        make(chan struct{}),
	}
	workflow.labels.SetIndex(index)

	if cfg.Store != nil {
		edges, labels, err := cfg.Store.LoadLabels(ctx)
		if err != nil {
			return nil, fmt.Errorf("solver: restoring labels: %w", err)
		}
		restored, err := workflow.labels.Update(edges, labels)
		if err != nil {
			return nil, fmt.Errorf("solver: restoring labels: %w", err)
		}
		nextStateID, err := cfg.Store.NextStateID(ctx)
		if err != nil {
			return nil, fmt.Errorf("solver: restoring state ID: %w", err)
		}
		workflow.nextStateID = nextStateID
		solution, err := cfg.Store.LatestSuccessful(ctx)
		if err != nil {
			return nil, fmt.Errorf("solver: restoring solution: %w", err)
		}
		workflow.latestSuccessful = solution
		logger.Info("restored project state",
			"labels", restored,
			"next_state_id", nextStateID,
			"has_solution", solution != nil,
		)
	}

	go workflow.runWorker()
	return workflow, nil
}

// RequestUpdate enqueues a solver pass and returns the state ID it
// will run under. Fails when the queue is full or the workflow is
// closed.
func (w *Workflow) RequestUpdate(ctx context.Context) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("solver: workflow is closed")
	}
	if len(w.queue) == cap(w.queue) {
		return 0, fmt.Errorf("solver: update queue is full")
	}

	stateID := w.nextStateID
	w.nextStateID++
	if w.store != nil {
		if err := w.store.SetNextStateID(ctx, w.nextStateID); err != nil {
			w.nextStateID = stateID
			return 0, fmt.Errorf("solver: persisting state ID: %w", err)
		}
	}
	w.queue <- stateID
	return stateID, nil
}

// SetEdgeLabels validates and applies a label submission, persisting
// it when a store is configured. Edges absent from the dataset are
// skipped but still counted in the returned total, which is the
// number of parsed entries.
func (w *Workflow) SetEdgeLabels(ctx context.Context, edges []Edge, labels []uint64) (int, error) {
	if len(edges) != len(labels) {
		return 0, fmt.Errorf("solver: got %d edges but %d labels", len(edges), len(labels))
	}
	for i, label := range labels {
		if !ValidLabel(label) {
			return 0, fmt.Errorf("solver: edge %d has unknown label %d", i, label)
		}
	}

	matched, err := w.labels.Update(edges, labels)
	if err != nil {
		return 0, err
	}
	if w.store != nil {
		if err := w.store.SaveLabels(ctx, edges, labels); err != nil {
			return 0, fmt.Errorf("solver: persisting labels: %w", err)
		}
	}
	w.logger.Debug("edge labels applied",
		"submitted", len(edges),
		"matched", matched,
	)
	return len(edges), nil
}

// Latest returns the most recent pass outcome, successful or not.
func (w *Workflow) Latest() *Solution {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

// LatestSuccessful returns the most recent successful solution, or
// nil when no pass has succeeded.
func (w *Workflow) LatestSuccessful() *Solution {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latestSuccessful
}

// EdgeCount returns the number of edges in the dataset.
func (w *Workflow) EdgeCount() int {
	return w.features.EdgeCount()
}

// LabeledEdgeCount returns the number of edges with a label.
func (w *Workflow) LabeledEdgeCount() int {
	return w.labels.Count()
}

// Subscribe registers for pass outcomes. Every completed pass is
// delivered, including failed ones. A subscriber that falls more than
// a buffer's worth behind is dropped: its channel closes. The cancel
// function unsubscribes.
func (w *Workflow) Subscribe() (<-chan Solution, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.subscriberID
	w.subscriberID++
	channel := make(chan Solution, 16)
	w.subscribers[id] = channel

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, present := w.subscribers[id]; present {
			delete(w.subscribers, id)
			close(channel)
		}
	}
	return channel, cancel
}

// Close stops the worker and waits for the in-flight pass, if any, to
// finish. Pending queued passes still run before Close returns.
func (w *Workflow) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	return nil
}

func (w *Workflow) runWorker() {
	defer close(w.done)
	for stateID := range w.queue {
		solution := w.runPass(stateID)
		w.publish(solution)
	}
}

// runPass executes one solver pass. Failures are recorded in the
// returned solution's exit code, never as a worker error.
func (w *Workflow) runPass(stateID uint64) *Solution {
	solution := &Solution{StateID: stateID}

	edges, features, _ := w.features.Snapshot()
	samples, labels := w.labels.TrainingSet(features)

	forest := NewForest(w.params)
	if err := forest.Train(samples, labels); err != nil {
		w.logger.Warn("training failed",
			"state_id", stateID,
			"samples", len(samples),
			"error", err,
		)
		solution.ExitCode = ExitTrainingFailed
		solution.CompletedAt = w.clk.Now()
		return solution
	}

	probabilities, err := forest.Predict(features)
	if err == nil {
		solution.Nodes, solution.Assignments, err = w.agglomerator.Optimize(edges, probabilities)
	}
	if err != nil {
		w.logger.Warn("optimization failed",
			"state_id", stateID,
			"error", err,
		)
		solution.ExitCode = ExitOptimizationFailed
		solution.Nodes = nil
		solution.Assignments = nil
		solution.CompletedAt = w.clk.Now()
		return solution
	}

	solution.ExitCode = ExitSuccess
	solution.Digest = solutionDigest(solution.Nodes, solution.Assignments)
	solution.CompletedAt = w.clk.Now()
	w.logger.Info("solver pass complete",
		"state_id", stateID,
		"nodes", len(solution.Nodes),
		"training_samples", len(samples),
	)
	return solution
}

// publish records the pass outcome and fans it out to subscribers.
func (w *Workflow) publish(solution *Solution) {
	if w.store != nil {
		if err := w.store.SaveSolution(context.Background(), solution); err != nil {
			w.logger.Error("persisting solution failed",
				"state_id", solution.StateID,
				"error", err,
			)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest = solution
	if solution.ExitCode == ExitSuccess {
		w.latestSuccessful = solution
	}
	for id, channel := range w.subscribers {
		select {
		case channel <- *solution:
		default:
			// Slow subscriber: drop it rather than stall the worker.
			delete(w.subscribers, id)
			close(channel)
			w.logger.Debug("dropped slow solution subscriber", "subscriber", id)
		}
	}
}

// solutionDigest is a stable identifier for a partition: BLAKE3 over
// the canonical encoding of the node list and assignments.
func solutionDigest(nodes, assignments []uint64) []byte {
	encoded, err := codec.Marshal(struct {
		Nodes       []uint64 `cbor:"nodes"`
		Assignments []uint64 `cbor:"assignments"`
	}{Nodes: nodes, Assignments: assignments})
	if err != nil {
		// Marshal of plain slices cannot fail; keep the signature
		// honest anyway.
		return nil
	}
	sum := blake3.Sum256(encoded)
	return sum[:]
}
