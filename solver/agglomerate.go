// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
)

// probabilityClip keeps log-odds finite for unanimous predictions.
const probabilityClip = 1e-6

// Agglomerator partitions the fragment graph by greedy additive edge
// contraction: every edge gets a log-odds weight from its separation
// probability (attractive when the forest says merge), and cluster
// pairs are contracted in descending order of accumulated weight until
// no pair is attractive. This is the standard greedy multicut
// heuristic; unlike per-edge thresholding it lets strong separation
// evidence on one edge outvote weak merge evidence on a parallel path.
type Agglomerator struct{}

// Optimize partitions the graph spanned by edges. probabilities[i] is
// the separation probability of edges[i]. It returns the node list in
// ascending order and a dense assignment relabeled in first-seen
// order over that list.
func (a Agglomerator) Optimize(edges []Edge, probabilities []float64) (nodes []uint64, assignments []uint64, err error) {
	if len(edges) != len(probabilities) {
		return nil, nil, fmt.Errorf("solver: got %d edges but %d probabilities",
			len(edges), len(probabilities))
	}
	if len(edges) == 0 {
		return nil, nil, fmt.Errorf("solver: no edges to optimize")
	}

	// Dense-index the nodes.
	nodeIndex := make(map[uint64]int)
	for _, edge := range edges {
		for _, endpoint := range [2]uint64{edge.U, edge.V} {
			if _, seen := nodeIndex[endpoint]; !seen {
				nodeIndex[endpoint] = 0
				nodes = append(nodes, endpoint)
			}
		}
	}
	sort.Slice(nodes, func(a, b int) bool { return nodes[a] < nodes[b] })
	for position, node := range nodes {
		nodeIndex[node] = position
	}

	// Accumulate parallel edges up front; duplicate dataset rows sum
	// their weights like any other parallel connection.
	weights := make(map[clusterPair]float64)
	for i, edge := range edges {
		p := min(max(probabilities[i], probabilityClip), 1-probabilityClip)
		pair := makePair(nodeIndex[edge.U], nodeIndex[edge.V])
		if pair.a == pair.b {
			continue
		}
		weights[pair] += math.Log((1 - p) / p)
	}

	contract := newContraction(len(nodes), weights)
	contract.run()

	// Relabel components in first-seen order over the sorted nodes.
	assignments = make([]uint64, len(nodes))
	next := uint64(0)
	componentLabel := make(map[int]uint64, len(nodes))
	for position := range nodes {
		root := contract.find(position)
		label, seen := componentLabel[root]
		if !seen {
			label = next
			componentLabel[root] = label
			next++
		}
		assignments[position] = label
	}
	return nodes, assignments, nil
}

// clusterPair is an unordered pair of cluster representatives.
type clusterPair struct {
	a, b int
}

func makePair(a, b int) clusterPair {
	if a > b {
		a, b = b, a
	}
	return clusterPair{a: a, b: b}
}

// contraction is the working state of one agglomeration run: a
// union-find over clusters, per-cluster adjacency weights, and a lazy
// max-heap of candidate contractions.
type contraction struct {
	parent    []int
	adjacency []map[int]float64
	queue     candidateQueue
}

type candidate struct {
	pair   clusterPair
	weight float64
}

func newContraction(nodeCount int, weights map[clusterPair]float64) *contraction {
	c := &contraction{
		parent:    make([]int, nodeCount),
		adjacency: make([]map[int]float64, nodeCount),
	}
	for i := range c.parent {
		c.parent[i] = i
		c.adjacency[i] = make(map[int]float64)
	}
	for pair, weight := range weights {
		c.adjacency[pair.a][pair.b] = weight
		c.adjacency[pair.b][pair.a] = weight
		if weight > 0 {
			c.queue = append(c.queue, candidate{pair: pair, weight: weight})
		}
	}
	heap.Init(&c.queue)
	return c
}

func (c *contraction) find(node int) int {
	for c.parent[node] != node {
		c.parent[node] = c.parent[c.parent[node]]
		node = c.parent[node]
	}
	return node
}

// run contracts attractive cluster pairs until none remain. Heap
// entries are validated lazily: an entry is stale if either endpoint
// was absorbed or the pair's accumulated weight changed since it was
// pushed.
func (c *contraction) run() {
	for c.queue.Len() > 0 {
		top := heap.Pop(&c.queue).(candidate)
		a, b := c.find(top.pair.a), c.find(top.pair.b)
		if a == b {
			continue
		}
		current, connected := c.adjacency[a][b]
		if !connected || current != top.weight || current <= 0 {
			continue
		}
		c.merge(a, b)
	}
}

// merge absorbs cluster b into cluster a, summing parallel adjacency
// weights and pushing refreshed candidates for changed pairs.
func (c *contraction) merge(a, b int) {
	// Absorb into the larger adjacency set to bound total moves.
	if len(c.adjacency[a]) < len(c.adjacency[b]) {
		a, b = b, a
	}
	c.parent[b] = a
	delete(c.adjacency[a], b)

	for neighbor, weight := range c.adjacency[b] {
		if neighbor == a {
			continue
		}
		delete(c.adjacency[neighbor], b)
		combined := c.adjacency[a][neighbor] + weight
		c.adjacency[a][neighbor] = combined
		c.adjacency[neighbor][a] = combined
		if combined > 0 {
			heap.Push(&c.queue, candidate{pair: makePair(a, neighbor), weight: combined})
		}
	}
	c.adjacency[b] = nil
}

// candidateQueue is a max-heap of contraction candidates.
type candidateQueue []candidate

func (q candidateQueue) Len() int            { return len(q) }
func (q candidateQueue) Less(a, b int) bool  { return q[a].weight > q[b].weight }
func (q candidateQueue) Swap(a, b int)       { q[a], q[b] = q[b], q[a] }
func (q *candidateQueue) Push(x any)         { *q = append(*q, x.(candidate)) }
func (q *candidateQueue) Pop() any {
	old := *q
	last := old[len(old)-1]
	*q = old[:len(old)-1]
	return last
}
