// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"time"
)

// ExitCode classifies the outcome of one solver pass.
type ExitCode int

const (
	// ExitSuccess: the pass produced a solution.
	ExitSuccess ExitCode = 0
	// ExitMissingClassLabels: training was attempted without examples
	// for every class. Reserved for API compatibility; passes that
	// fail this way currently report ExitTrainingFailed, matching the
	// wire behavior clients depend on.
	ExitMissingClassLabels ExitCode = 1
	// ExitTrainingFailed: the random forest could not be trained.
	ExitTrainingFailed ExitCode = 2
	// ExitOptimizationFailed: the agglomeration step failed.
	ExitOptimizationFailed ExitCode = 3
)

func (c ExitCode) String() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitMissingClassLabels:
		return "missing class labels"
	case ExitTrainingFailed:
		return "training failed"
	case ExitOptimizationFailed:
		return "optimization failed"
	default:
		return "unknown"
	}
}

// Solution is the result of one solver pass. Failed passes have
// ExitCode != ExitSuccess and empty Nodes/Assignments.
type Solution struct {
	// StateID is the pass's sequence number, assigned at request time.
	StateID uint64 `cbor:"state_id"`
	// ExitCode classifies the outcome.
	ExitCode ExitCode `cbor:"exit_code"`
	// Nodes lists the fragment IDs in ascending order.
	Nodes []uint64 `cbor:"nodes,omitempty"`
	// Assignments[i] is the cluster label of Nodes[i]. Labels are
	// dense, assigned in first-seen order over Nodes.
	Assignments []uint64 `cbor:"assignments,omitempty"`
	// Digest identifies the partition: BLAKE3 over the canonical
	// encoding of nodes and assignments. Empty for failed passes.
	Digest []byte `cbor:"digest,omitempty"`
	// CompletedAt is when the pass finished.
	CompletedAt time.Time `cbor:"completed_at"`
}
