// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"fmt"
	"sync"

	"github.com/pias-project/pias/lib/n5"
)

// Edge is an undirected edge between two fragments, normalized so
// U <= V.
type Edge struct {
	U uint64 `cbor:"u"`
	V uint64 `cbor:"v"`
}

// NormalizeEdge orders the endpoints so equal edges compare equal.
func NormalizeEdge(u, v uint64) Edge {
	if u > v {
		u, v = v, u
	}
	return Edge{U: u, V: v}
}

// FeatureCache holds the edge list and per-edge feature vectors read
// from the N5 container. Reload re-reads both datasets; all accessors
// are safe for concurrent use.
type FeatureCache struct {
	container      *n5.Container
	edgeDataset    string
	featureDataset string

	mu       sync.RWMutex
	edges    []Edge
	features [][]float64
	index    map[Edge]int
}

// NewFeatureCache creates an empty cache over the given datasets.
// Call Reload before using it.
func NewFeatureCache(container *n5.Container, edgeDataset, featureDataset string) *FeatureCache {
	return &FeatureCache{
		container:      container,
		edgeDataset:    edgeDataset,
		featureDataset: featureDataset,
	}
}

// Reload re-reads the edge and feature datasets. The datasets must
// have matching row counts and edges must have exactly two columns.
func (c *FeatureCache) Reload() error {
	rows, err := c.container.ReadUint64Matrix(c.edgeDataset)
	if err != nil {
		return fmt.Errorf("loading edges: %w", err)
	}
	features, err := c.container.ReadFloat64Matrix(c.featureDataset)
	if err != nil {
		return fmt.Errorf("loading edge features: %w", err)
	}
	if len(rows) != len(features) {
		return fmt.Errorf("edge dataset has %d rows but feature dataset has %d",
			len(rows), len(features))
	}

	edges := make([]Edge, len(rows))
	index := make(map[Edge]int, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return fmt.Errorf("edge row %d has %d entries, want 2", i, len(row))
		}
		edge := NormalizeEdge(row[0], row[1])
		edges[i] = edge
		index[edge] = i
	}

	c.mu.Lock()
	c.edges = edges
	c.features = features
	c.index = index
	c.mu.Unlock()
	return nil
}

// Snapshot returns the current edges, features, and edge→index map.
// The returned slices are shared; callers must not mutate them.
func (c *FeatureCache) Snapshot() (edges []Edge, features [][]float64, index map[Edge]int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.edges, c.features, c.index
}

// EdgeCount returns the number of edges currently loaded.
func (c *FeatureCache) EdgeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.edges)
}
