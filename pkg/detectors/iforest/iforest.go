// Package iforest implements an isolation forest whose leaf weights are tuned
// by oracle feedback (Active Anomaly Discovery).
package iforest

import (
	"math/rand"
	"slices"

	"github.com/hed1ad/activeguard/pkg/detectors"
)

// minWeight keeps leaf weights positive so that scores stay path-like.
const minWeight = 1e-3

// Forest is an isolation forest with one weight per leaf. Untouched, it ranks
// exactly like a plain isolation forest: the score is the mean path length, so
// lower is more anomalous. Observe moves the weights of the leaves a labeled
// sample reaches so that anomalies fall below the tau quantile and regular
// samples rise above it.
type Forest struct {
	// Configuration
	nTrees       int
	sampleSize   int
	maxDepth     int
	tau          float64
	learningRate float64
	seed         int64

	// Trained model
	trees     []*Tree
	weights   [][]float64
	data      [][]float64
	nFeatures int
	trained   bool
}

var _ detectors.ScoringModel = (*Forest)(nil)

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *Forest) {
		f.nTrees = n
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

// WithTau sets the quantile separating anomalies from regular samples.
func WithTau(tau float64) Option {
	return func(f *Forest) {
		f.tau = tau
	}
}

// WithLearningRate sets the step size of the weight update.
func WithLearningRate(lr float64) Option {
	return func(f *Forest) {
		f.learningRate = lr
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
		nTrees:       100,
		sampleSize:   256,
		tau:          0.97,
		learningRate: 1.0,
		seed:         42,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.maxDepth <= 0 {
		f.maxDepth = DepthLimit(f.sampleSize)
	}

	return f
}

// Train builds the trees and resets every leaf weight to one. Training twice on
// the same data gives the same forest.
func (f *Forest) Train(data [][]float64) error {
	if len(data) == 0 {
		return detectors.ErrEmptyData
	}

	rng := rand.New(rand.NewSource(f.seed))
	f.trees = BuildTrees(rng, data, f.nTrees, f.sampleSize, f.maxDepth)
	f.weights = make([][]float64, len(f.trees))
	for i, t := range f.trees {
		f.weights[i] = make([]float64, t.Leaves())
		for j := range f.weights[i] {
			f.weights[i][j] = 1
		}
	}
	f.data = data
	f.nFeatures = len(data[0])
	f.trained = true

	return nil
}

// Score returns the weighted mean path length of every sample.
func (f *Forest) Score(data [][]float64) ([]float64, error) {
	if !f.trained {
		return nil, detectors.ErrNotTrained
	}
	if err := f.checkDims(data); err != nil {
		return nil, err
	}
	return f.score(data), nil
}

func (f *Forest) score(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.scoreOne(sample)
	}
	return scores
}

func (f *Forest) scoreOne(sample []float64) float64 {
	var total float64
	for t, tree := range f.trees {
		leaf, path := tree.Walk(sample)
		total += f.weights[t][leaf] * path
	}
	return total / float64(len(f.trees))
}

// Observe applies one hinge-loss gradient step per labeled sample. The margin is
// the (1-tau) quantile of the current training scores.
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

	q := percentile(f.score(f.data), 100*(1-f.tau))
	n := float64(len(f.trees))

	for i, sample := range data {
		s := f.scoreOne(sample)

		var sign float64
		switch labels[i] {
		case detectors.Anomaly:
			if s <= q {
				continue
			}
			sign = -1
		case detectors.Regular:
			if s >= q {
				continue
			}
			sign = 1
		default:
			continue
		}

		for t, tree := range f.trees {
			leaf, path := tree.Walk(sample)
			w := f.weights[t][leaf] + sign*f.learningRate*path/n
			f.weights[t][leaf] = max(w, minWeight)
		}
	}

	return nil
}

// Tau returns the configured quantile.
func (f *Forest) Tau() float64 {
	return f.tau
}

func (f *Forest) checkDims(data [][]float64) error {
	for _, row := range data {
		if len(row) != f.nFeatures {
			return detectors.ErrDimensionMismatch
		}
	}
	return nil
}

// percentile calculates the p-th percentile of the data.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := slices.Clone(data)
	slices.Sort(sorted)

	idx := int(float64(len(sorted)-1) * p / 100)
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
