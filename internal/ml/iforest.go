// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package ml implements the unsupervised outlier scorer: an isolation
// forest over normalized telemetry feature vectors, calibrated to [0,1] via
// a contamination quantile at train time.
package ml

import (
	"context"
	"math"
	"math/rand"
)

// eulerMascheroni is used in the average BST path length normalization.
const eulerMascheroni = 0.5772156649

// Forest is an isolation forest. Points that isolate in few random splits
// score close to 1; dense inliers score near 0.5 or below.
//
// Fields are exported for snapshot serialization; a fitted Forest is
// immutable and safe for concurrent Score calls.
type Forest struct {
	Trees       []*forestNode `json:"trees"`
	NumTrees    int           `json:"num_trees"`
	SampleSize  int           `json:"sample_size"`
	HeightLimit int           `json:"height_limit"`
}

// forestNode is one node of an isolation tree. Leaf nodes carry the size of
// the residual partition for path length estimation.
type forestNode struct {
	Leaf     bool        `json:"leaf"`
	Size     int         `json:"size,omitempty"`
	Dim      int         `json:"dim,omitempty"`
	SplitVal float64     `json:"split_val,omitempty"`
	Left     *forestNode `json:"left,omitempty"`
	Right    *forestNode `json:"right,omitempty"`
}

// NewForest creates an unfitted forest with the given ensemble shape.
func NewForest(numTrees, sampleSize int) *Forest {
	if numTrees <= 0 {
		numTrees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 256
	}
	return &Forest{
		NumTrees:    numTrees,
		SampleSize:  sampleSize,
		HeightLimit: int(math.Ceil(math.Log2(float64(sampleSize)))),
	}
}

// Fit builds the ensemble from the given feature matrix. The context is
// checked between trees so a long fit can be abandoned; on cancellation the
// forest is left unfitted and must not be used.
func (f *Forest) Fit(ctx context.Context, matrix [][]float64, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	f.Trees = make([]*forestNode, f.NumTrees)

	n := len(matrix)
	for i := 0; i < f.NumTrees; i++ {
		if err := ctx.Err(); err != nil {
			f.Trees = nil
			return err
		}

		// sub-sample without replacement up to SampleSize
		m := f.SampleSize
		if m > n {
			m = n
		}
		idxs := rng.Perm(n)
		sample := make([][]float64, m)
		for j := 0; j < m; j++ {
			sample[j] = matrix[idxs[j]]
		}

		f.Trees[i] = buildTree(rng, sample, 0, f.HeightLimit)
	}
	return nil
}

// buildTree grows one isolation tree by recursive random splits.
func buildTree(rng *rand.Rand, matrix [][]float64, height, limit int) *forestNode {
	if len(matrix) <= 1 || height >= limit {
		return &forestNode{Leaf: true, Size: len(matrix)}
	}

	dim := rng.Intn(len(matrix[0]))
	minV, maxV := matrix[0][dim], matrix[0][dim]
	for _, row := range matrix[1:] {
		if row[dim] < minV {
			minV = row[dim]
		}
		if row[dim] > maxV {
			maxV = row[dim]
		}
	}
	if minV == maxV {
		// constant dimension, cannot split further
		return &forestNode{Leaf: true, Size: len(matrix)}
	}

	split := minV + rng.Float64()*(maxV-minV)
	left := make([][]float64, 0, len(matrix))
	right := make([][]float64, 0, len(matrix))
	for _, row := range matrix {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &forestNode{Leaf: true, Size: len(matrix)}
	}

	return &forestNode{
		Dim:      dim,
		SplitVal: split,
		Left:     buildTree(rng, left, height+1, limit),
		Right:    buildTree(rng, right, height+1, limit),
	}
}

// avgPathLength is c(n): the average path length of an unsuccessful BST
// search, used to normalize isolation depths.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2.0*(math.Log(float64(n-1))+eulerMascheroni) - 2.0*float64(n-1)/float64(n)
}

// pathLength walks one tree and returns the isolation depth for x, with the
// standard leaf-size correction.
func pathLength(node *forestNode, x []float64, depth int) float64 {
	if node.Leaf {
		if node.Size <= 1 {
			return float64(depth)
		}
		return float64(depth) + avgPathLength(node.Size)
	}
	if x[node.Dim] < node.SplitVal {
		return pathLength(node.Left, x, depth+1)
	}
	return pathLength(node.Right, x, depth+1)
}

// Score returns the raw anomaly score in [0,1] for one normalized feature
// vector: s(x) = 2^(-E(h(x))/c(sampleSize)). Higher means more anomalous.
// Returns 0 for an unfitted forest.
func (f *Forest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}

	sum := 0.0
	for _, tree := range f.Trees {
		sum += pathLength(tree, x, 0)
	}
	expected := sum / float64(len(f.Trees))

	c := avgPathLength(f.SampleSize)
	if c <= 0 {
		c = 1
	}
	return math.Pow(2, -expected/c)
}
