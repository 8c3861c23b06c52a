// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package solver turns user-labeled fragment edges into full fragment
// partitions.
//
// The inputs live in an N5 container: an edge dataset (pairs of
// fragment IDs) and a feature dataset (one feature vector per edge).
// Users label a subset of edges as merge (0) or separate (1). A random
// forest trained on the labeled edges predicts a separation
// probability for every edge, and a greedy agglomeration over the
// resulting log-odds weights produces the partition.
//
// Workflow ties the pieces together: it owns the caches, runs solver
// passes on a single background worker, persists results, and notifies
// subscribers after every pass.
package solver
