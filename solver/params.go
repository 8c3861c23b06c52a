// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// ForestParams configures random forest training. The zero value is
// not valid; start from DefaultForestParams.
type ForestParams struct {
	// Trees is the number of trees in the forest.
	Trees int `json:"n_estimators"`
	// MaxDepth bounds tree depth; zero means unbounded.
	MaxDepth int `json:"max_depth"`
	// MinSamplesLeaf is the minimum number of training samples in a
	// leaf.
	MinSamplesLeaf int `json:"min_samples_leaf"`
	// Seed fixes the training RNG for reproducible forests; zero
	// draws a seed from the system.
	Seed uint64 `json:"seed"`
}

// DefaultForestParams returns the stock training configuration.
func DefaultForestParams() ForestParams {
	return ForestParams{
		Trees:          100,
		MaxDepth:       0,
		MinSamplesLeaf: 1,
	}
}

// Validate checks the parameter ranges.
func (p ForestParams) Validate() error {
	if p.Trees <= 0 {
		return fmt.Errorf("solver: n_estimators must be positive, got %d", p.Trees)
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("solver: max_depth must be non-negative, got %d", p.MaxDepth)
	}
	if p.MinSamplesLeaf <= 0 {
		return fmt.Errorf("solver: min_samples_leaf must be positive, got %d", p.MinSamplesLeaf)
	}
	return nil
}

// LoadForestParams reads a solver parameter file and merges it over
// the defaults. The file is JSONC, so deployments can annotate their
// tuning choices with comments.
func LoadForestParams(path string) (ForestParams, error) {
	params := DefaultForestParams()
	raw, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("reading solver params %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(raw), &params); err != nil {
		return params, fmt.Errorf("parsing solver params %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("solver params %s: %w", path, err)
	}
	return params, nil
}
