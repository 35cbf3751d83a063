// Package active runs the active anomaly discovery loop: a scoring model ranks
// items, and either the top of the ranking is reported directly or an oracle is
// asked about the most suspicious unlabeled item, one at a time, with every
// answer fed back into the model before the next ranking.
package active

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"slices"

	"go.uber.org/zap"

	"github.com/hed1ad/activeguard/pkg/answers"
	"github.com/hed1ad/activeguard/pkg/detectors"
)

var (
	// ErrMisaligned is returned when identities and feature rows differ in count.
	ErrMisaligned = errors.New("identities and feature rows are misaligned")
	// ErrNoOracle is returned when an interactive run has no oracle to ask.
	ErrNoOracle = errors.New("interactive run requires an oracle")
	// ErrScoreCount is returned when a model does not score every row.
	ErrScoreCount = errors.New("model returned wrong number of scores")
)

// Oracle confirms whether an item is an anomaly. Confirm may block for as long
// as the answer takes.
type Oracle interface {
	Confirm(id uint64) (bool, error)
}

// Record is a single decision produced by a run.
type Record struct {
	ID      uint64
	Anomaly bool
}

// Engine drives a scoring model through one of the two run modes.
// It owns the model for the duration of a run and is not safe for concurrent use.
type Engine struct {
	model          detectors.ScoringModel
	budget         int
	nonInteractive bool
	oracle         Oracle
	logger         *zap.Logger

	known KnownIndex
}

// Option configures an Engine.
type Option func(*Engine)

// WithBudget sets the maximum number of items emitted or queried.
func WithBudget(n int) Option {
	return func(e *Engine) {
		e.budget = n
	}
}

// WithNonInteractive selects the batch mode, which reports the top of the
// ranking without asking anyone.
func WithNonInteractive(v bool) Option {
	return func(e *Engine) {
		e.nonInteractive = v
	}
}

// WithOracle sets the oracle asked in interactive mode.
func WithOracle(o Oracle) Option {
	return func(e *Engine) {
		e.oracle = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine around model.
func New(model detectors.ScoringModel, opts ...Option) *Engine {
	e := &Engine{
		model:  model,
		budget: 40,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Known returns a copy of the rows resolved so far in the current or last run.
func (e *Engine) Known() KnownIndex {
	return e.known.Clone()
}

// Run returns the decisions of one run as a lazy sequence. Nothing happens
// until the sequence is ranged over; every range starts the run from scratch by
// training the model on features. In interactive mode the oracle is asked
// exactly when the next record is pulled. The first error ends the sequence
// and is yielded with a zero Record.
//
// Prior answers seed the model and are never asked about or emitted again in
// interactive mode. Batch mode reports the ranking as is.
func (e *Engine) Run(ids []uint64, features [][]float64, known answers.Known) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		budget, err := e.start(ids, features, known)
		if err != nil {
			yield(Record{}, err)
			return
		}

		if e.nonInteractive {
			e.runBatch(ids, features, budget, yield)
			return
		}
		e.runInteractive(ids, features, budget, yield)
	}
}

func (e *Engine) start(ids []uint64, features [][]float64, known answers.Known) (int, error) {
	if len(ids) != len(features) {
		return 0, fmt.Errorf("%w: %d identities, %d rows", ErrMisaligned, len(ids), len(features))
	}
	if !e.nonInteractive && e.oracle == nil {
		return 0, ErrNoOracle
	}

	if err := e.model.Train(features); err != nil {
		return 0, fmt.Errorf("train: %w", err)
	}

	budget := min(max(e.budget, 0), len(features))

	index, err := SeedKnown(e.model, ids, features, known)
	if err != nil {
		return 0, err
	}
	e.known = index

	e.logger.Info("Run started",
		zap.Int("rows", len(features)),
		zap.Int("budget", budget),
		zap.Int("prior_answers", len(known)),
		zap.Int("prior_rows", len(index)),
		zap.Bool("non_interactive", e.nonInteractive),
	)
	return budget, nil
}

func (e *Engine) runBatch(ids []uint64, features [][]float64, budget int, yield func(Record, error) bool) {
	scores, err := e.score(features)
	if err != nil {
		yield(Record{}, err)
		return
	}

	order := Rank(scores)
	for _, row := range order[:min(budget, len(order))] {
		e.logger.Debug("Selected", zap.Uint64("id", ids[row]), zap.Float64("score", scores[row]))
		if !yield(Record{ID: ids[row], Anomaly: true}, nil) {
			return
		}
	}
}

func (e *Engine) runInteractive(ids []uint64, features [][]float64, budget int, yield func(Record, error) bool) {
	for range budget {
		scores, err := e.score(features)
		if err != nil {
			yield(Record{}, err)
			return
		}

		row, ok := e.nextCandidate(Rank(scores))
		if !ok {
			e.logger.Info("Every item is already labeled")
			return
		}
		id := ids[row]

		e.logger.Debug("Querying oracle", zap.Uint64("id", id), zap.Int("row", row), zap.Float64("score", scores[row]))
		isAnomaly, err := e.oracle.Confirm(id)
		if err != nil {
			yield(Record{}, fmt.Errorf("confirm %d: %w", id, err))
			return
		}
		label := detectors.LabelFromBool(isAnomaly)

		if err := e.model.Observe([][]float64{features[row]}, []detectors.Label{label}); err != nil {
			yield(Record{}, fmt.Errorf("observe %d: %w", id, err))
			return
		}
		e.known[row] = label

		e.logger.Debug("Oracle answered", zap.Uint64("id", id), zap.Stringer("label", label))
		if !yield(Record{ID: id, Anomaly: isAnomaly}, nil) {
			return
		}
	}
}

func (e *Engine) score(features [][]float64) ([]float64, error) {
	scores, err := e.model.Score(features)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	if len(scores) != len(features) {
		return nil, fmt.Errorf("%w: %d for %d rows", ErrScoreCount, len(scores), len(features))
	}
	return scores, nil
}

// nextCandidate returns the first ranked row that is not yet labeled.
func (e *Engine) nextCandidate(order []int) (int, bool) {
	for _, row := range order {
		if _, ok := e.known[row]; !ok {
			return row, true
		}
	}
	return 0, false
}

// Rank returns the row indices ordered by ascending score. Equal scores keep
// their original row order.
func Rank(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[a], scores[b])
	})
	return order
}
