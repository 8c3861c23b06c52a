// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// ErrNotTrained is returned by Predict before a successful Train.
var ErrNotTrained = errors.New("solver: model not trained")

// ErrMissingClass is returned by Train when the training set lacks
// examples for at least one class.
var ErrMissingClass = errors.New("solver: labels missing for some classes")

// Forest is a random forest classifier over the two edge labels. It
// predicts the probability that an edge separates its fragments.
//
// Train replaces the model; Predict is safe to call concurrently with
// other Predicts, but not with Train. The workflow serializes both on
// its worker goroutine.
type Forest struct {
	params ForestParams
	trees  []*treeNode
}

// NewForest creates an untrained forest.
func NewForest(params ForestParams) *Forest {
	return &Forest{params: params}
}

// Train fits the forest to the labeled samples. Both classes must be
// present. Each tree is grown on a bootstrap resample with a random
// feature subset of size sqrt(featureCount) considered per split.
func (f *Forest) Train(samples [][]float64, labels []uint64) error {
	if len(samples) != len(labels) {
		return fmt.Errorf("solver: got %d samples but %d labels", len(samples), len(labels))
	}
	if len(samples) == 0 {
		return fmt.Errorf("%w: no training samples", ErrMissingClass)
	}

	var mergeCount, separateCount int
	for _, label := range labels {
		switch label {
		case LabelMerge:
			mergeCount++
		case LabelSeparate:
			separateCount++
		default:
			return fmt.Errorf("solver: unknown label %d", label)
		}
	}
	if mergeCount == 0 || separateCount == 0 {
		return fmt.Errorf("%w: %d merge and %d separate samples",
			ErrMissingClass, mergeCount, separateCount)
	}

	featureCount := len(samples[0])
	if featureCount == 0 {
		return fmt.Errorf("solver: samples have no features")
	}
	for i, sample := range samples {
		if len(sample) != featureCount {
			return fmt.Errorf("solver: sample %d has %d features, want %d",
				i, len(sample), featureCount)
		}
	}

	seed := f.params.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	splitFeatures := max(1, int(math.Sqrt(float64(featureCount))))

	trees := make([]*treeNode, f.params.Trees)
	bootstrap := make([]int, len(samples))
	for t := range trees {
		for i := range bootstrap {
			bootstrap[i] = rng.IntN(len(samples))
		}
		trees[t] = f.growTree(samples, labels, bootstrap, 1, splitFeatures, rng)
	}
	f.trees = trees
	return nil
}

// Predict returns the separation probability for each feature row:
// the mean over trees of the leaf's separate fraction.
func (f *Forest) Predict(features [][]float64) ([]float64, error) {
	if f.trees == nil {
		return nil, ErrNotTrained
	}
	probabilities := make([]float64, len(features))
	for i, row := range features {
		total := 0.0
		for _, tree := range f.trees {
			total += tree.predict(row)
		}
		probabilities[i] = total / float64(len(f.trees))
	}
	return probabilities, nil
}

// treeNode is one node of a decision tree. Leaves have nil children
// and carry the separate-class fraction of their training samples.
type treeNode struct {
	feature     int
	threshold   float64
	left, right *treeNode
	probability float64
}

func (n *treeNode) predict(row []float64) float64 {
	for n.left != nil {
		if row[n.feature] < n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.probability
}

// growTree builds one CART tree on the given sample indices using
// gini impurity. indices may contain repeats (bootstrap draws).
func (f *Forest) growTree(samples [][]float64, labels []uint64, indices []int, depth, splitFeatures int, rng *rand.Rand) *treeNode {
	separate := 0
	for _, index := range indices {
		if labels[index] == LabelSeparate {
			separate++
		}
	}
	leaf := &treeNode{probability: float64(separate) / float64(len(indices))}

	pure := separate == 0 || separate == len(indices)
	if pure || len(indices) < 2*f.params.MinSamplesLeaf {
		return leaf
	}
	if f.params.MaxDepth > 0 && depth > f.params.MaxDepth {
		return leaf
	}

	featureCount := len(samples[0])
	candidates := rng.Perm(featureCount)

	// Inspect a random subset first; fall back to the remaining
	// features when the subset has no informative split.
	feature, threshold, found := bestSplit(samples, labels, indices, candidates[:splitFeatures], f.params.MinSamplesLeaf)
	if !found {
		feature, threshold, found = bestSplit(samples, labels, indices, candidates[splitFeatures:], f.params.MinSamplesLeaf)
	}
	if !found {
		return leaf
	}

	var leftIndices, rightIndices []int
	for _, index := range indices {
		if samples[index][feature] < threshold {
			leftIndices = append(leftIndices, index)
		} else {
			rightIndices = append(rightIndices, index)
		}
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      f.growTree(samples, labels, leftIndices, depth+1, splitFeatures, rng),
		right:     f.growTree(samples, labels, rightIndices, depth+1, splitFeatures, rng),
	}
}

// bestSplit finds the (feature, threshold) with the lowest weighted
// gini impurity among the given features. Thresholds are midpoints
// between consecutive distinct values. found is false when no feature
// admits a split that respects minLeaf.
func bestSplit(samples [][]float64, labels []uint64, indices []int, features []int, minLeaf int) (bestFeature int, bestThreshold float64, found bool) {
	bestImpurity := math.Inf(1)
	ordered := make([]int, len(indices))

	for _, feature := range features {
		copy(ordered, indices)
		sort.Slice(ordered, func(a, b int) bool {
			return samples[ordered[a]][feature] < samples[ordered[b]][feature]
		})

		totalSeparate := 0
		for _, index := range ordered {
			if labels[index] == LabelSeparate {
				totalSeparate++
			}
		}

		leftSeparate := 0
		for position := 1; position < len(ordered); position++ {
			if labels[ordered[position-1]] == LabelSeparate {
				leftSeparate++
			}

			previous := samples[ordered[position-1]][feature]
			current := samples[ordered[position]][feature]
			if previous == current {
				continue
			}
			if position < minLeaf || len(ordered)-position < minLeaf {
				continue
			}

			impurity := weightedGini(position, leftSeparate, len(ordered), totalSeparate)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = (previous + current) / 2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

// weightedGini computes the size-weighted gini impurity of a binary
// split: leftSize samples (leftSeparate of them separate) against the
// remainder.
func weightedGini(leftSize, leftSeparate, total, totalSeparate int) float64 {
	rightSize := total - leftSize
	rightSeparate := totalSeparate - leftSeparate

	gini := func(size, separate int) float64 {
		if size == 0 {
			return 0
		}
		p := float64(separate) / float64(size)
		return 2 * p * (1 - p)
	}

	return (float64(leftSize)*gini(leftSize, leftSeparate) +
		float64(rightSize)*gini(rightSize, rightSeparate)) / float64(total)
}
