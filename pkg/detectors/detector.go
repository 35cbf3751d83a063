// Package detectors defines the contract between the active-learning loop and
// the anomaly scoring models it drives.
package detectors

import "errors"

var (
	// ErrEmptyData is returned when a model is trained or scored on no rows.
	ErrEmptyData = errors.New("empty data")
	// ErrNotTrained is returned when a model is used before Train.
	ErrNotTrained = errors.New("model not trained")
	// ErrLabelMismatch is returned when Observe gets a different number of rows and labels.
	ErrLabelMismatch = errors.New("number of rows and labels differ")
	// ErrDimensionMismatch is returned when a row does not have the trained feature count.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
)

// Label is the oracle's verdict on a single item.
type Label int

const (
	// Regular marks an item confirmed as not anomalous.
	Regular Label = -1
	// Anomaly marks an item confirmed as anomalous.
	Anomaly Label = 1
)

// LabelFromBool maps an "is anomaly" answer to a Label.
func LabelFromBool(isAnomaly bool) Label {
	if isAnomaly {
		return Anomaly
	}
	return Regular
}

// Bool reports whether the label is Anomaly.
func (l Label) Bool() bool {
	return l == Anomaly
}

func (l Label) String() string {
	switch l {
	case Anomaly:
		return "anomaly"
	case Regular:
		return "regular"
	default:
		return "unknown"
	}
}

// ScoringModel is a stateful ranking model that can be refined with labels.
type ScoringModel interface {
	// Train builds the model on the full dataset.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Train(data [][]float64) error

	// Score returns one score per row. Lower values are more anomalous.
	Score(data [][]float64) ([]float64, error)

	// Observe feeds labeled rows back into the model. It may be called any
	// number of times with any batch size, and alters subsequent scores.
	Observe(data [][]float64, labels []Label) error
}

// CheckObservation validates the shape of an Observe call.
func CheckObservation(data [][]float64, labels []Label) error {
	if len(data) != len(labels) {
		return ErrLabelMismatch
	}
	if len(data) == 0 {
		return ErrEmptyData
	}
	return nil
}
