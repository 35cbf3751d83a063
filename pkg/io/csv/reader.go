// Package csv provides CSV file reading for feature matrices and answer tables.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	dataio "github.com/hed1ad/activeguard/pkg/io"
)

// IDColumns are the header names recognised as the identity column.
var IDColumns = []string{"oid", "identity"}

// Reader reads a feature matrix from a CSV file.
type Reader struct {
	file      *os.File
	reader    *csv.Reader
	name      string
	hasHeader bool
	idColumn  int
}

var _ dataio.Reader = (*Reader)(nil)

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// NewReader creates a new CSV reader. When the header names an identity column,
// that column supplies the row identities; otherwise rows are numbered from 0.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		file:      file,
		reader:    newCSV(file),
		name:      filename,
		hasHeader: true,
		idColumn:  -1,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%s: read header: %w", filename, err)
		}
		r.idColumn = columnIndex(headers, IDColumns...)
	}

	return r, nil
}

// Read returns the whole file as a dataset. A malformed row is an error.
func (r *Reader) Read() (*dataio.Dataset, error) {
	ds := &dataio.Dataset{}

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.name, err)
		}
		line, _ := r.reader.FieldPos(0)

		id := uint64(ds.Len())
		if r.idColumn >= 0 {
			id, err = ParseID(record[r.idColumn])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", r.name, line, err)
			}
			record = slices.Delete(slices.Clone(record), r.idColumn, r.idColumn+1)
		}

		row, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", r.name, line, err)
		}
		ds.IDs = append(ds.IDs, id)
		ds.Features = append(ds.Features, row)
	}

	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	return ds, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Row is a header-keyed record of a table.
type Row struct {
	// Line is the 1-based line number of the record.
	Line   int
	Fields map[string]string
}

// ReadTable reads a CSV file with a header row and returns its records keyed
// by column name. Every column in required must be present in the header.
func ReadTable(filename string, required ...string) ([]Row, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := newCSV(file)
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			err = errors.New("missing header")
		}
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	for _, col := range required {
		if !slices.Contains(headers, col) {
			return nil, fmt.Errorf("%s: missing column %q", filename, col)
		}
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		line, _ := reader.FieldPos(0)

		fields := make(map[string]string, len(headers))
		for i, h := range headers {
			fields[h] = strings.TrimSpace(record[i])
		}
		rows = append(rows, Row{Line: line, Fields: fields})
	}

	return rows, nil
}

// ParseID parses an unsigned 64-bit identity.
func ParseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identity %q: %w", s, err)
	}
	return id, nil
}

// columnIndex returns the position of the first header matching one of names, or -1.
func columnIndex(headers []string, names ...string) int {
	for i, h := range headers {
		if slices.Contains(names, strings.TrimSpace(h)) {
			return i
		}
	}
	return -1
}

func newCSV(r io.Reader) *csv.Reader {
	c := csv.NewReader(r)
	c.TrimLeadingSpace = true
	return c
}

// parseRow converts string slice to float slice.
func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}
