// Package answers loads oracle answers recorded by earlier sessions.
package answers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hed1ad/activeguard/pkg/io/csv"
)

// Column names of an answers table.
const (
	ColumnIdentity  = "identity"
	ColumnLegacyID  = "oid"
	ColumnIsAnomaly = "is_anomaly"
)

// ErrMissingIdentity is returned when a table has no identity column.
var ErrMissingIdentity = errors.New("missing identity column")

// Known maps an item identity to whether it was confirmed as an anomaly.
type Known map[uint64]bool

// Load reads every source in order and merges them. An identity answered in
// several sources takes the value from the last one. Any bad source fails the
// whole load.
func Load(paths []string) (Known, error) {
	known := make(Known)
	for _, path := range paths {
		if err := loadInto(known, path); err != nil {
			return nil, err
		}
	}
	return known, nil
}

func loadInto(known Known, path string) error {
	rows, err := csv.ReadTable(path, ColumnIsAnomaly)
	if err != nil {
		return fmt.Errorf("load answers: %w", err)
	}

	// Parse the whole file before touching the merged map.
	parsed := make(map[uint64]bool, len(rows))
	for _, row := range rows {
		raw, ok := row.Fields[ColumnIdentity]
		if !ok {
			raw, ok = row.Fields[ColumnLegacyID]
		}
		if !ok {
			return fmt.Errorf("load answers: %s: %w", path, ErrMissingIdentity)
		}

		id, err := csv.ParseID(raw)
		if err != nil {
			return fmt.Errorf("load answers: %s:%d: %w", path, row.Line, err)
		}
		isAnomaly, err := ParseBool(row.Fields[ColumnIsAnomaly])
		if err != nil {
			return fmt.Errorf("load answers: %s:%d: %w", path, row.Line, err)
		}
		parsed[id] = isAnomaly
	}

	for id, v := range parsed {
		known[id] = v
	}
	return nil
}

// ParseBool accepts 0/1, true/false and yes/no in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	v, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return v, nil
}
