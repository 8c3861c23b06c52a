// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"errors"
	"testing"
)

func TestPredictBeforeTrain(t *testing.T) {
	forest := NewForest(DefaultForestParams())
	if _, err := forest.Predict([][]float64{{1, 2}}); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Predict error = %v, want ErrNotTrained", err)
	}
}

func TestTrainRequiresBothClasses(t *testing.T) {
	forest := NewForest(DefaultForestParams())

	err := forest.Train(nil, nil)
	if !errors.Is(err, ErrMissingClass) {
		t.Errorf("Train(empty) error = %v, want ErrMissingClass", err)
	}

	err = forest.Train(
		[][]float64{{0.1, 0.2}, {0.3, 0.4}},
		[]uint64{LabelMerge, LabelMerge},
	)
	if !errors.Is(err, ErrMissingClass) {
		t.Errorf("Train(one class) error = %v, want ErrMissingClass", err)
	}
}

func TestTrainRejectsUnknownLabel(t *testing.T) {
	forest := NewForest(DefaultForestParams())
	err := forest.Train([][]float64{{0.1}}, []uint64{7})
	if err == nil {
		t.Error("Train accepted an unknown label")
	}
}

func TestForestSeparatesClasses(t *testing.T) {
	params := DefaultForestParams()
	params.Seed = 42
	forest := NewForest(params)

	// Merge edges cluster around 0.2 on the first feature, separate
	// edges around 0.8. The second feature is noise.
	var samples [][]float64
	var labels []uint64
	for i := range 10 {
		noise := float64(i) / 10
		samples = append(samples, []float64{0.2 + noise/50, noise})
		labels = append(labels, LabelMerge)
		samples = append(samples, []float64{0.8 - noise/50, 1 - noise})
		labels = append(labels, LabelSeparate)
	}
	if err := forest.Train(samples, labels); err != nil {
		t.Fatalf("Train: %v", err)
	}

	probabilities, err := forest.Predict([][]float64{
		{0.15, 0.5},
		{0.85, 0.5},
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if probabilities[0] >= 0.5 {
		t.Errorf("merge-like row predicted %f, want < 0.5", probabilities[0])
	}
	if probabilities[1] <= 0.5 {
		t.Errorf("separate-like row predicted %f, want > 0.5", probabilities[1])
	}
}

func TestForestDeterministicWithSeed(t *testing.T) {
	samples := [][]float64{{0.5, 1.0, 0.5}, {0.4, 0.1, 0.3}}
	labels := []uint64{LabelMerge, LabelSeparate}
	test := [][]float64{{0.7, 0.9, 0.8}, {0.5, 0.2, 0.6}}

	params := DefaultForestParams()
	params.Seed = 7

	first := NewForest(params)
	if err := first.Train(samples, labels); err != nil {
		t.Fatalf("Train: %v", err)
	}
	firstProbabilities, err := first.Predict(test)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	second := NewForest(params)
	if err := second.Train(samples, labels); err != nil {
		t.Fatalf("Train: %v", err)
	}
	secondProbabilities, err := second.Predict(test)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	for i := range firstProbabilities {
		if firstProbabilities[i] != secondProbabilities[i] {
			t.Errorf("probability %d differs between identically seeded forests: %f vs %f",
				i, firstProbabilities[i], secondProbabilities[i])
		}
	}
}
