// Package io provides input utilities for loading the items the loop ranks.
package io

import (
	"errors"
	"fmt"
)

var (
	// ErrMisaligned is returned when identities and feature rows differ in count.
	ErrMisaligned = errors.New("identities and feature rows are misaligned")
	// ErrRagged is returned when feature rows have different lengths.
	ErrRagged = errors.New("feature rows have different lengths")
)

// Dataset is an ordered feature matrix with one identity per row.
// Row i belongs to IDs[i]; the order is never changed after loading.
type Dataset struct {
	IDs      []uint64
	Features [][]float64
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.IDs)
}

// Validate checks the alignment of identities and rows, and the row width.
func (d *Dataset) Validate() error {
	if len(d.IDs) != len(d.Features) {
		return fmt.Errorf("%w: %d identities, %d rows", ErrMisaligned, len(d.IDs), len(d.Features))
	}
	for i, row := range d.Features {
		if len(row) != len(d.Features[0]) {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrRagged, i, len(row), len(d.Features[0]))
		}
	}
	return nil
}

// Append adds the rows of other after the rows of d.
func (d *Dataset) Append(other *Dataset) {
	d.IDs = append(d.IDs, other.IDs...)
	d.Features = append(d.Features, other.Features...)
}

// Reader is the interface for reading a dataset from a source.
type Reader interface {
	// Read returns the complete dataset.
	Read() (*Dataset, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor extracts numerical features from raw data.
type FeatureExtractor interface {
	// FeatureNames returns the names of extracted features.
	FeatureNames() []string
}
