package iforest

import (
	"math"
	"math/rand"
)

// Tree is a single isolation tree. Leaves are numbered so that models can attach
// per-leaf state to them.
type Tree struct {
	root   *node
	leaves int
}

// node is a node in the isolation tree.
type node struct {
	// Split parameters (for internal nodes)
	splitFeature int
	splitValue   float64

	// Children
	left  *node
	right *node

	// Leaf information
	size int // number of samples that reached this leaf
	leaf int // leaf index within the tree
}

// DepthLimit returns the default maximum depth for a tree built on n samples.
func DepthLimit(n int) int {
	if n <= 1 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(n))))
}

// BuildTrees builds n isolation trees, each on a random subsample of data drawn
// without replacement.
func BuildTrees(rng *rand.Rand, data [][]float64, n, sampleSize, maxDepth int) []*Tree {
	nSamples := len(data)
	if sampleSize <= 0 || sampleSize > nSamples {
		sampleSize = nSamples
	}

	trees := make([]*Tree, n)
	for i := 0; i < n; i++ {
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}
		trees[i] = buildTree(rng, sample, maxDepth)
	}
	return trees
}

func buildTree(rng *rand.Rand, data [][]float64, maxDepth int) *Tree {
	t := &Tree{}
	t.root = t.buildNode(rng, data, len(data[0]), 0, maxDepth)
	return t
}

func (t *Tree) buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, maxDepth int) *node {
	n := len(data)

	if depth >= maxDepth || n <= 1 {
		return t.newLeaf(n)
	}

	feature := rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// If all values are the same, return leaf
	if minVal == maxVal {
		return t.newLeaf(n)
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         t.buildNode(rng, leftData, nFeatures, depth+1, maxDepth),
		right:        t.buildNode(rng, rightData, nFeatures, depth+1, maxDepth),
	}
}

func (t *Tree) newLeaf(size int) *node {
	n := &node{size: size, leaf: t.leaves}
	t.leaves++
	return n
}

// Leaves returns the number of leaves in the tree.
func (t *Tree) Leaves() int {
	return t.leaves
}

// Walk returns the leaf a sample lands in and its path length, corrected for
// the samples left unisolated in that leaf.
func (t *Tree) Walk(sample []float64) (leaf int, path float64) {
	n := t.root
	depth := 0
	for n.left != nil || n.right != nil {
		if sample[n.splitFeature] < n.splitValue {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return n.leaf, float64(depth) + averagePathLength(float64(n.size))
}

// PathLength returns the corrected path length of a sample.
func (t *Tree) PathLength(sample []float64) float64 {
	_, path := t.Walk(sample)
	return path
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H is harmonic number
	// Approximation: H(n) ~ ln(n) + 0.5772156649 (Euler-Mascheroni constant)
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}
