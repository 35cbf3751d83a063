// Package dat reads raw binary feature dumps: an identity file of little-endian
// uint64 values and a feature file of little-endian floats, reshaped into one
// row per identity.
package dat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	dataio "github.com/hed1ad/activeguard/pkg/io"
)

// ErrPairing is returned when identity and feature file lists differ in length.
var ErrPairing = errors.New("identity and feature file counts differ")

// Precision is the width of a stored feature value.
type Precision int

const (
	Float32 Precision = 4
	Float64 Precision = 8
)

// Reader reads one identity file and its feature file.
type Reader struct {
	oidPath     string
	featurePath string
	precision   Precision
}

var _ dataio.Reader = (*Reader)(nil)

// Option configures a Reader.
type Option func(*Reader)

// WithPrecision sets the width of stored feature values. The default is Float32.
func WithPrecision(p Precision) Option {
	return func(r *Reader) {
		r.precision = p
	}
}

// NewReader creates a reader for a pair of files.
func NewReader(oidPath, featurePath string, opts ...Option) *Reader {
	r := &Reader{
		oidPath:     oidPath,
		featurePath: featurePath,
		precision:   Float32,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read loads both files. The feature count per row is the number of stored
// values divided by the number of identities and must be whole.
func (r *Reader) Read() (*dataio.Dataset, error) {
	raw, err := os.ReadFile(r.oidPath)
	if err != nil {
		return nil, err
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("%s: size %d is not a multiple of 8", r.oidPath, len(raw))
	}
	ids := make([]uint64, len(raw)/8)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}

	raw, err = os.ReadFile(r.featurePath)
	if err != nil {
		return nil, err
	}
	width := int(r.precision)
	if len(raw)%width != 0 {
		return nil, fmt.Errorf("%s: size %d is not a multiple of %d", r.featurePath, len(raw), width)
	}
	values := len(raw) / width
	if len(ids) == 0 {
		if values != 0 {
			return nil, fmt.Errorf("%s: %w", r.featurePath, dataio.ErrMisaligned)
		}
		return &dataio.Dataset{}, nil
	}
	if values%len(ids) != 0 {
		return nil, fmt.Errorf("%s: %d values for %d identities: %w", r.featurePath, values, len(ids), dataio.ErrMisaligned)
	}

	dim := values / len(ids)
	features := make([][]float64, len(ids))
	for i := range features {
		row := make([]float64, dim)
		for j := range row {
			off := (i*dim + j) * width
			if r.precision == Float64 {
				row[j] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
			} else {
				row[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off:])))
			}
		}
		features[i] = row
	}

	return &dataio.Dataset{IDs: ids, Features: features}, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	return nil
}

// Load reads identity and feature files paired by position and concatenates
// them in order.
func Load(oidPaths, featurePaths []string, opts ...Option) (*dataio.Dataset, error) {
	if len(oidPaths) != len(featurePaths) {
		return nil, fmt.Errorf("%w: %d identity files, %d feature files", ErrPairing, len(oidPaths), len(featurePaths))
	}

	ds := &dataio.Dataset{}
	for i := range oidPaths {
		part, err := NewReader(oidPaths[i], featurePaths[i], opts...).Read()
		if err != nil {
			return nil, err
		}
		ds.Append(part)
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
