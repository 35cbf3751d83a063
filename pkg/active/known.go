package active

import (
	"fmt"
	"maps"

	"github.com/hed1ad/activeguard/pkg/answers"
	"github.com/hed1ad/activeguard/pkg/detectors"
)

// KnownIndex maps a row of the feature matrix to its resolved label.
type KnownIndex map[int]detectors.Label

// Clone returns a copy of the index.
func (k KnownIndex) Clone() KnownIndex {
	return maps.Clone(k)
}

// SeedKnown pushes prior answers into the model as a single Observe batch and
// returns the rows they resolve. Rows are matched in ascending row order and the
// label of each row is derived from its own identity, so the result does not
// depend on map iteration order. Without prior answers, or when none of them
// match a row, the model is not touched.
func SeedKnown(model detectors.ScoringModel, ids []uint64, features [][]float64, known answers.Known) (KnownIndex, error) {
	index := make(KnownIndex)
	if len(known) == 0 {
		return index, nil
	}

	var rows []int
	for i, id := range ids {
		if _, ok := known[id]; ok {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return index, nil
	}

	data := make([][]float64, len(rows))
	labels := make([]detectors.Label, len(rows))
	for j, row := range rows {
		data[j] = features[row]
		labels[j] = detectors.Anomaly
	}
	for j, row := range rows {
		if !known[ids[row]] {
			labels[j] = detectors.Regular
		}
	}

	if err := model.Observe(data, labels); err != nil {
		return nil, fmt.Errorf("observe prior answers: %w", err)
	}

	for j, row := range rows {
		index[row] = labels[j]
	}
	return index, nil
}
