package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hed1ad/activeguard/internal/config"
	dataio "github.com/hed1ad/activeguard/pkg/io"
	"github.com/hed1ad/activeguard/pkg/io/csv"
	"github.com/hed1ad/activeguard/pkg/io/dat"
	"github.com/hed1ad/activeguard/pkg/io/pcap"
)

// ErrEmptyInput is returned when the inputs hold no items.
var ErrEmptyInput = errors.New("no items in input")

// loadDataset reads every input named by cfg into one dataset, keeping the
// order of the files and of the rows within them.
func loadDataset(cfg config.InputConfig) (*dataio.Dataset, error) {
	if cfg.PCAP != "" {
		r, err := pcap.NewFileReader(cfg.PCAP)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.PCAP, err)
		}
		ds, err := readAll(r)
		if err != nil {
			return nil, err
		}
		if ds.Len() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyInput, cfg.PCAP)
		}
		return ds, nil
	}

	precision := dat.Float32
	if cfg.Precision == "float64" {
		precision = dat.Float64
	}

	ds := &dataio.Dataset{}
	for i, path := range cfg.Features {
		var r dataio.Reader
		if config.IsCSV(path) {
			cr, err := csv.NewReader(path)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			r = cr
		} else {
			r = dat.NewReader(cfg.OIDs[i], path, dat.WithPrecision(precision))
		}

		part, err := readAll(r)
		if err != nil {
			return nil, err
		}
		ds.Append(part)
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyInput, strings.Join(cfg.Features, ", "))
	}
	return ds, nil
}

func readAll(r dataio.Reader) (*dataio.Dataset, error) {
	defer r.Close()
	return r.Read()
}
