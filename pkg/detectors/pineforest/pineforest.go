// Package pineforest implements a tree-filtering isolation forest: it grows a
// pool of spare trees and, as labels arrive, keeps the trees that best agree
// with them.
package pineforest

import (
	"math/rand"
	"slices"

	"github.com/hed1ad/activeguard/pkg/detectors"
	"github.com/hed1ad/activeguard/pkg/detectors/iforest"
)

// Forest scores samples by the mean path length over its active trees, so lower
// is more anomalous.
type Forest struct {
	// Configuration
	nTrees          int
	nSpareTrees     int
	sampleSize      int
	maxDepth        int
	regenerateTrees bool
	weightRatio     float64
	seed            int64

	// Trained model
	rng       *rand.Rand
	pool      []*iforest.Tree
	active    []*iforest.Tree
	data      [][]float64
	nFeatures int
	trained   bool

	// Every label seen so far
	known  [][]float64
	labels []detectors.Label
}

var _ detectors.ScoringModel = (*Forest)(nil)

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of trees kept for scoring.
func WithTrees(n int) Option {
	return func(f *Forest) {
		f.nTrees = n
	}
}

// WithSpareTrees sets how many extra trees are grown for filtering.
func WithSpareTrees(n int) Option {
	return func(f *Forest) {
		f.nSpareTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *Forest) {
		f.sampleSize = n
	}
}

// WithMaxDepth limits the depth of every tree. Zero derives it from the sample size.
func WithMaxDepth(d int) Option {
	return func(f *Forest) {
		f.maxDepth = d
	}
}

// WithRegenerateTrees makes every Observe throw away the pool and grow a new one.
func WithRegenerateTrees(regenerate bool) Option {
	return func(f *Forest) {
		f.regenerateTrees = regenerate
	}
}

// WithWeightRatio sets the weight of regular samples relative to anomalies in
// the tree loss.
func WithWeightRatio(r float64) Option {
	return func(f *Forest) {
		f.weightRatio = r
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *Forest) {
		f.seed = seed
	}
}

// New creates a new Forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		nTrees:      100,
		nSpareTrees: 400,
		sampleSize:  256,
		weightRatio: 1.0,
		seed:        42,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.maxDepth <= 0 {
		f.maxDepth = iforest.DepthLimit(f.sampleSize)
	}

	return f
}

// Train grows the tree pool from the seed and forgets every label seen so far.
// Until labels arrive, the first trees of the pool are used for scoring.
func (f *Forest) Train(data [][]float64) error {
	if len(data) == 0 {
		return detectors.ErrEmptyData
	}

	f.data = data
	f.nFeatures = len(data[0])
	f.known = nil
	f.labels = nil
	f.rng = rand.New(rand.NewSource(f.seed))
	f.grow()
	f.trained = true

	return nil
}

func (f *Forest) grow() {
	f.pool = iforest.BuildTrees(f.rng, f.data, f.nTrees+f.nSpareTrees, f.sampleSize, f.maxDepth)
	f.active = f.pool[:min(f.nTrees, len(f.pool))]
}

// Score returns the mean path length over the active trees.
func (f *Forest) Score(data [][]float64) ([]float64, error) {
	if !f.trained {
		return nil, detectors.ErrNotTrained
	}
	if err := f.checkDims(data); err != nil {
		return nil, err
	}

	scores := make([]float64, len(data))
	for i, sample := range data {
		var total float64
		for _, t := range f.active {
			total += t.PathLength(sample)
		}
		scores[i] = total / float64(len(f.active))
	}
	return scores, nil
}

// Observe records the labels and refilters the pool against all labels seen so far.
func (f *Forest) Observe(data [][]float64, labels []detectors.Label) error {
	if err := detectors.CheckObservation(data, labels); err != nil {
		return err
	}
	if !f.trained {
		return detectors.ErrNotTrained
	}
	if err := f.checkDims(data); err != nil {
		return err
	}

	f.known = append(f.known, data...)
	f.labels = append(f.labels, labels...)

	if f.regenerateTrees {
		f.grow()
	}
	f.filter()
	return nil
}

// filter keeps the nTrees trees with the lowest loss. A tree's loss is the sum
// of anomaly path lengths minus weightRatio times the sum of regular ones.
func (f *Forest) filter() {
	type ranked struct {
		tree *iforest.Tree
		loss float64
	}

	pool := make([]ranked, len(f.pool))
	for i, t := range f.pool {
		var loss float64
		for j, sample := range f.known {
			path := t.PathLength(sample)
			switch f.labels[j] {
			case detectors.Anomaly:
				loss += path
			case detectors.Regular:
				loss -= f.weightRatio * path
			}
		}
		pool[i] = ranked{tree: t, loss: loss}
	}

	slices.SortStableFunc(pool, func(a, b ranked) int {
		switch {
		case a.loss < b.loss:
			return -1
		case a.loss > b.loss:
			return 1
		default:
			return 0
		}
	})

	n := min(f.nTrees, len(pool))
	f.active = make([]*iforest.Tree, n)
	for i := range n {
		f.active[i] = pool[i].tree
	}
}

// Active returns the number of trees currently used for scoring.
func (f *Forest) Active() int {
	return len(f.active)
}

func (f *Forest) checkDims(data [][]float64) error {
	for _, row := range data {
		if len(row) != f.nFeatures {
			return detectors.ErrDimensionMismatch
		}
	}
	return nil
}
