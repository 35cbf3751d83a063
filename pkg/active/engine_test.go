package active

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/activeguard/pkg/answers"
	"github.com/hed1ad/activeguard/pkg/detectors"
	"github.com/hed1ad/activeguard/pkg/detectors/iforest"
	"github.com/hed1ad/activeguard/pkg/detectors/pineforest"
)

// fakeModel scores row i as scores[i]. An observed anomaly pulls itself and the
// next row down by shift, and an observed regular row moves up, so the ranking
// reacts to feedback. Rows are identified by their first feature.
type fakeModel struct {
	scores []float64
	shift  float64

	trainCalls   int
	scoreCalls   int
	observeCalls [][]observation

	trainErr   error
	scoreErr   error
	observeErr error
}

type observation struct {
	row   int
	label detectors.Label
}

func newFakeModel(scores ...float64) *fakeModel {
	return &fakeModel{scores: append([]float64(nil), scores...)}
}

func (m *fakeModel) Train(data [][]float64) error {
	m.trainCalls++
	return m.trainErr
}

func (m *fakeModel) Score(data [][]float64) ([]float64, error) {
	m.scoreCalls++
	if m.scoreErr != nil {
		return nil, m.scoreErr
	}
	out := make([]float64, len(data))
	for i, row := range data {
		out[i] = m.scores[int(row[0])]
	}
	return out, nil
}

func (m *fakeModel) Observe(data [][]float64, labels []detectors.Label) error {
	if err := detectors.CheckObservation(data, labels); err != nil {
		return err
	}
	if m.observeErr != nil {
		return m.observeErr
	}
	batch := make([]observation, len(data))
	for i, row := range data {
		r := int(row[0])
		batch[i] = observation{row: r, label: labels[i]}
		if labels[i] == detectors.Anomaly {
			m.scores[r] -= m.shift
			if r+1 < len(m.scores) {
				m.scores[r+1] -= m.shift
			}
		} else {
			m.scores[r] += m.shift
		}
	}
	m.observeCalls = append(m.observeCalls, batch)
	return nil
}

// rowFeatures returns n rows whose only feature is the row index.
func rowFeatures(n int) [][]float64 {
	features := make([][]float64, n)
	for i := range features {
		features[i] = []float64{float64(i)}
	}
	return features
}

// scriptedOracle answers from a map and records every question.
type scriptedOracle struct {
	answers map[uint64]bool
	asked   []uint64
	err     error
}

func (o *scriptedOracle) Confirm(id uint64) (bool, error) {
	o.asked = append(o.asked, id)
	if o.err != nil {
		return false, o.err
	}
	return o.answers[id], nil
}

func collect(t *testing.T, e *Engine, ids []uint64, features [][]float64, known answers.Known) []Record {
	t.Helper()
	var out []Record
	for rec, err := range e.Run(ids, features, known) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestRunNonInteractiveScenario(t *testing.T) {
	model := newFakeModel(0.9, 0.1, 0.5, 0.2, 0.8)
	e := New(model, WithBudget(2), WithNonInteractive(true))

	got := collect(t, e, []uint64{10, 20, 30, 40, 50}, rowFeatures(5), answers.Known{10: false})

	assert.Equal(t, []Record{{ID: 20, Anomaly: true}, {ID: 40, Anomaly: true}}, got)
	assert.Equal(t, 1, model.trainCalls)
	assert.Equal(t, 1, model.scoreCalls)
	assert.Len(t, model.observeCalls, 1, "only the prior answers are observed")
}

func TestRunBudgetClamp(t *testing.T) {
	tests := []struct {
		name   string
		rows   int
		budget int
		want   int
	}{
		{name: "budget below size", rows: 5, budget: 3, want: 3},
		{name: "budget equals size", rows: 4, budget: 4, want: 4},
		{name: "budget above size", rows: 3, budget: 40, want: 3},
		{name: "zero budget", rows: 3, budget: 0, want: 0},
		{name: "negative budget", rows: 3, budget: -1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := make([]float64, tt.rows)
			ids := make([]uint64, tt.rows)
			for i := range scores {
				scores[i] = float64(tt.rows - i)
				ids[i] = uint64(i + 1)
			}

			e := New(newFakeModel(scores...), WithBudget(tt.budget), WithNonInteractive(true))
			got := collect(t, e, ids, rowFeatures(tt.rows), answers.Known{1: true})
			assert.Len(t, got, tt.want)
		})
	}
}

func TestRunNonInteractiveStableTies(t *testing.T) {
	model := newFakeModel(0.5, 0.1, 0.5, 0.1, 0.5, 0.0)
	e := New(model, WithBudget(6), WithNonInteractive(true))

	got := collect(t, e, []uint64{1, 2, 3, 4, 5, 6}, rowFeatures(6), answers.Known{99: true})

	var ids []uint64
	for _, r := range got {
		ids = append(ids, r.ID)
		assert.True(t, r.Anomaly)
	}
	assert.Equal(t, []uint64{6, 2, 4, 1, 3, 5}, ids)
}

func TestRunNonInteractiveDoesNotSkipKnown(t *testing.T) {
	model := newFakeModel(0.1, 0.2, 0.3)
	e := New(model, WithBudget(2), WithNonInteractive(true))

	got := collect(t, e, []uint64{10, 20, 30}, rowFeatures(3), answers.Known{10: true})

	assert.Equal(t, []Record{{ID: 10, Anomaly: true}, {ID: 20, Anomaly: true}}, got)
}

func TestRunInteractive(t *testing.T) {
	model := newFakeModel(0.9, 0.1, 0.5, 0.2, 0.8)
	oracle := &scriptedOracle{answers: map[uint64]bool{20: true, 40: false, 30: true}}
	e := New(model, WithBudget(3), WithOracle(oracle))

	got := collect(t, e, []uint64{10, 20, 30, 40, 50}, rowFeatures(5), nil)

	assert.Equal(t, []Record{
		{ID: 20, Anomaly: true},
		{ID: 40, Anomaly: false},
		{ID: 30, Anomaly: true},
	}, got)
	assert.Equal(t, []uint64{20, 40, 30}, oracle.asked)
	assert.Equal(t, 3, model.scoreCalls, "the whole matrix is rescored every iteration")
	assert.Equal(t, [][]observation{
		{{row: 1, label: detectors.Anomaly}},
		{{row: 3, label: detectors.Regular}},
		{{row: 2, label: detectors.Anomaly}},
	}, model.observeCalls)
	assert.Equal(t, KnownIndex{1: detectors.Anomaly, 3: detectors.Regular, 2: detectors.Anomaly}, e.Known())
}

func TestRunInteractiveUsesFreshScores(t *testing.T) {
	// Each confirmed anomaly drags the next row to the top of the ranking; a
	// ranking computed once up front would ask 1, 3, 4, 2.
	model := newFakeModel(0.1, 0.5, 0.3, 0.4)
	model.shift = 1
	oracle := &scriptedOracle{answers: map[uint64]bool{1: true, 2: true, 3: true, 4: true}}
	e := New(model, WithBudget(4), WithOracle(oracle))

	got := collect(t, e, []uint64{1, 2, 3, 4}, rowFeatures(4), nil)

	assert.Len(t, got, 4)
	assert.Equal(t, []uint64{1, 2, 3, 4}, oracle.asked)
}

func TestRunInteractiveKnownGrowsByOne(t *testing.T) {
	model := newFakeModel(0.4, 0.3, 0.2, 0.1, 0.0)
	oracle := &scriptedOracle{answers: map[uint64]bool{5: true, 3: true}}
	e := New(model, WithBudget(5), WithOracle(oracle))

	prev := -1
	seen := map[uint64]bool{}
	for rec, err := range e.Run([]uint64{1, 2, 3, 4, 5}, rowFeatures(5), answers.Known{4: false}) {
		require.NoError(t, err)
		known := e.Known()
		if prev >= 0 {
			assert.Equal(t, prev+1, len(known))
		} else {
			assert.Equal(t, 2, len(known), "prior row plus the first answer")
		}
		prev = len(known)

		assert.False(t, seen[rec.ID], "item %d asked twice", rec.ID)
		seen[rec.ID] = true
	}

	assert.Equal(t, []uint64{5, 3, 2, 1}, oracle.asked)
	assert.Len(t, e.Known(), 5)
}

func TestRunInteractiveNeverReportsPriors(t *testing.T) {
	model := newFakeModel(0.9, 0.1, 0.5, 0.2, 0.8)
	oracle := &scriptedOracle{answers: map[uint64]bool{20: true, 40: true, 50: true, 10: true}}
	e := New(model, WithBudget(5), WithOracle(oracle))

	prior := answers.Known{30: true}
	got := collect(t, e, []uint64{10, 20, 30, 40, 50}, rowFeatures(5), prior)

	assert.Len(t, got, 4, "the sequence ends once every row is known")
	for _, r := range got {
		assert.NotEqual(t, uint64(30), r.ID)
	}
	assert.NotContains(t, oracle.asked, uint64(30))
	assert.Equal(t, []observation{{row: 2, label: detectors.Anomaly}}, model.observeCalls[0])
}

func TestRunInteractiveAllKnown(t *testing.T) {
	model := newFakeModel(0.1, 0.2)
	oracle := &scriptedOracle{}
	e := New(model, WithBudget(2), WithOracle(oracle))

	got := collect(t, e, []uint64{1, 2}, rowFeatures(2), answers.Known{1: true, 2: false})

	assert.Empty(t, got)
	assert.Empty(t, oracle.asked)
}

func TestRunLazyAndRestartable(t *testing.T) {
	model := newFakeModel(0.3, 0.2, 0.1)
	oracle := &scriptedOracle{answers: map[uint64]bool{}}
	e := New(model, WithBudget(3), WithOracle(oracle))

	seq := e.Run([]uint64{1, 2, 3}, rowFeatures(3), nil)
	assert.Zero(t, model.trainCalls)
	assert.Empty(t, oracle.asked)

	for rec, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, uint64(3), rec.ID)
		break
	}
	assert.Equal(t, []uint64{3}, oracle.asked, "no question is asked ahead of the consumer")

	for _, err := range seq {
		require.NoError(t, err)
	}
	assert.Equal(t, 2, model.trainCalls)
	assert.Equal(t, []uint64{3, 3, 2, 1}, oracle.asked)
}

// countingModel counts the labels passed to the wrapped model.
type countingModel struct {
	detectors.ScoringModel
	observed int
}

func (m *countingModel) Train(data [][]float64) error {
	m.observed = 0
	return m.ScoringModel.Train(data)
}

func (m *countingModel) Observe(data [][]float64, labels []detectors.Label) error {
	m.observed += len(labels)
	return m.ScoringModel.Observe(data, labels)
}

func TestRunRestartsRealModels(t *testing.T) {
	features := make([][]float64, 40)
	ids := make([]uint64, len(features))
	for i := range features {
		features[i] = []float64{float64(i % 7), float64(i % 5)}
		ids[i] = uint64(100 + i)
	}
	features[17] = []float64{50, 50}
	known := answers.Known{100: false, 117: true}

	tests := []struct {
		name  string
		model detectors.ScoringModel
	}{
		{name: "aad", model: iforest.New(iforest.WithTrees(20), iforest.WithSeed(5))},
		{name: "pineforest", model: pineforest.New(pineforest.WithTrees(10), pineforest.WithSpareTrees(20), pineforest.WithSeed(5))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &countingModel{ScoringModel: tt.model}
			o := &scriptedOracle{answers: map[uint64]bool{101: true}}
			e := New(model, WithBudget(4), WithOracle(o))
			seq := e.Run(ids, features, known)

			var first, second []Record
			for rec, err := range seq {
				require.NoError(t, err)
				first = append(first, rec)
			}
			firstAsked := append([]uint64(nil), o.asked...)
			assert.Equal(t, 6, model.observed)
			assert.Len(t, e.Known(), 6)

			for rec, err := range seq {
				require.NoError(t, err)
				second = append(second, rec)
			}
			assert.Equal(t, 6, model.observed)
			assert.Len(t, e.Known(), 6)

			require.Len(t, first, 4)
			assert.Equal(t, first, second)
			assert.Equal(t, firstAsked, o.asked[len(firstAsked):])
			assert.NotContains(t, o.asked, uint64(100))
			assert.NotContains(t, o.asked, uint64(117))
		})
	}
}

func TestRunErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		setup   func(m *fakeModel, o *scriptedOracle) []Option
		ids     []uint64
		wantErr error
		wantRec int
	}{
		{
			name:    "misaligned input",
			setup:   func(m *fakeModel, o *scriptedOracle) []Option { return []Option{WithOracle(o)} },
			ids:     []uint64{1, 2},
			wantErr: ErrMisaligned,
		},
		{
			name:    "interactive without oracle",
			setup:   func(m *fakeModel, o *scriptedOracle) []Option { return nil },
			wantErr: ErrNoOracle,
		},
		{
			name: "train failure",
			setup: func(m *fakeModel, o *scriptedOracle) []Option {
				m.trainErr = boom
				return []Option{WithOracle(o)}
			},
			wantErr: boom,
		},
		{
			name: "score failure",
			setup: func(m *fakeModel, o *scriptedOracle) []Option {
				m.scoreErr = boom
				return []Option{WithNonInteractive(true)}
			},
			wantErr: boom,
		},
		{
			name: "oracle failure",
			setup: func(m *fakeModel, o *scriptedOracle) []Option {
				o.err = boom
				return []Option{WithOracle(o)}
			},
			wantErr: boom,
		},
		{
			name: "observe failure",
			setup: func(m *fakeModel, o *scriptedOracle) []Option {
				m.observeErr = boom
				return []Option{WithOracle(o)}
			},
			wantErr: boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := newFakeModel(0.1, 0.2, 0.3)
			oracle := &scriptedOracle{answers: map[uint64]bool{}}
			e := New(model, tt.setup(model, oracle)...)

			ids := tt.ids
			if ids == nil {
				ids = []uint64{1, 2, 3}
			}

			var errs []error
			var recs int
			for _, err := range e.Run(ids, rowFeatures(3), nil) {
				if err != nil {
					errs = append(errs, err)
					continue
				}
				recs++
			}

			require.Len(t, errs, 1, "the sequence ends after the first error")
			assert.ErrorIs(t, errs[0], tt.wantErr)
			assert.Equal(t, tt.wantRec, recs)
		})
	}
}

type shortScorer struct{ fakeModel }

func (s *shortScorer) Score(data [][]float64) ([]float64, error) {
	return []float64{0}, nil
}

func TestRunScoreCount(t *testing.T) {
	e := New(&shortScorer{}, WithNonInteractive(true))
	for _, err := range e.Run([]uint64{1, 2}, rowFeatures(2), nil) {
		assert.ErrorIs(t, err, ErrScoreCount)
	}
}

func TestRank(t *testing.T) {
	assert.Equal(t, []int{1, 3, 2, 4, 0}, Rank([]float64{0.9, 0.1, 0.5, 0.2, 0.8}))
	assert.Equal(t, []int{1, 3, 0, 2}, Rank([]float64{1, 0, 1, 0}))
	assert.Empty(t, Rank(nil))
}
