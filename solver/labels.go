// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"fmt"
	"sort"
	"sync"
)

// Label values for an edge.
const (
	// LabelMerge marks an edge whose fragments belong together.
	LabelMerge uint64 = 0
	// LabelSeparate marks an edge whose fragments must stay apart.
	LabelSeparate uint64 = 1
)

// ValidLabel reports whether label is one of the two known values.
func ValidLabel(label uint64) bool {
	return label == LabelMerge || label == LabelSeparate
}

// LabelCache holds user-submitted edge labels keyed by dataset edge
// index. Submissions for edges absent from the current index mapping
// are skipped, matching the tolerant ingest the annotation frontend
// expects.
type LabelCache struct {
	mu     sync.Mutex
	labels map[int]uint64
	index  map[Edge]int
}

// NewLabelCache returns an empty cache with no index mapping. Until
// SetIndex is called every submission is skipped.
func NewLabelCache() *LabelCache {
	return &LabelCache{labels: make(map[int]uint64)}
}

// SetIndex installs the edge→index mapping from the feature cache.
// Existing labels keep their indices; labels for indices that no
// longer exist are retained but never selected for training.
func (c *LabelCache) SetIndex(index map[Edge]int) {
	c.mu.Lock()
	c.index = index
	c.mu.Unlock()
}

// Update applies labels to the given edges and returns the number of
// entries accepted. Edges not present in the index mapping are
// skipped. Labels must be valid; the caller validates before calling.
func (c *LabelCache) Update(edges []Edge, labels []uint64) (int, error) {
	if len(edges) != len(labels) {
		return 0, fmt.Errorf("got %d edges but %d labels", len(edges), len(labels))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return 0, nil
	}
	accepted := 0
	for i, edge := range edges {
		position, known := c.index[edge]
		if !known {
			continue
		}
		c.labels[position] = labels[i]
		accepted++
	}
	return accepted, nil
}

// Count returns the number of labeled edges.
func (c *LabelCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.labels)
}

// TrainingSet selects the labeled rows of features and returns them
// with their labels, ordered by edge index for determinism. Labels
// whose index is out of range for features are skipped.
func (c *LabelCache) TrainingSet(features [][]float64) (samples [][]float64, labels []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	indices := make([]int, 0, len(c.labels))
	for position := range c.labels {
		if position >= 0 && position < len(features) {
			indices = append(indices, position)
		}
	}
	sort.Ints(indices)

	samples = make([][]float64, len(indices))
	labels = make([]uint64, len(indices))
	for i, position := range indices {
		samples[i] = features[position]
		labels[i] = c.labels[position]
	}
	return samples, labels
}
