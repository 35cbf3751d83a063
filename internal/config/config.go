// Package config holds the settings of an activeguard run.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Algorithms supported by the run commands.
const (
	AlgorithmAAD        = "aad"
	AlgorithmPineForest = "pineforest"
)

// Config holds the settings of a run.
type Config struct {
	Algorithm      string        `yaml:"algorithm" mapstructure:"algorithm"`
	PriorAnswers   []string      `yaml:"prior_answers" mapstructure:"prior_answers"`
	NonInteractive bool          `yaml:"non_interactive" mapstructure:"non_interactive"`
	Budget         int           `yaml:"budget" mapstructure:"budget"`
	RandomSeed     int64         `yaml:"random_seed" mapstructure:"random_seed"`
	Input          InputConfig   `yaml:"input" mapstructure:"input"`
	Output         OutputConfig  `yaml:"output" mapstructure:"output"`
	Model          ModelConfig   `yaml:"model" mapstructure:"model"`
	Oracle         OracleConfig  `yaml:"oracle" mapstructure:"oracle"`
	Logging        LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics        MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// InputConfig selects where items are loaded from.
type InputConfig struct {
	OIDs      []string `yaml:"oid" mapstructure:"oid"`
	Features  []string `yaml:"feature" mapstructure:"feature"`
	PCAP      string   `yaml:"pcap" mapstructure:"pcap"`
	Precision string   `yaml:"precision" mapstructure:"precision"` // float32, float64
}

// OutputConfig names the result files.
type OutputConfig struct {
	Anomalies string `yaml:"anomalies" mapstructure:"anomalies"`
	Answers   string `yaml:"answers" mapstructure:"answers"` // interactive only
}

// ModelConfig holds the tree ensemble hyperparameters.
type ModelConfig struct {
	Trees           int     `yaml:"n_trees" mapstructure:"n_trees"`
	Subsamples      int     `yaml:"n_subsamples" mapstructure:"n_subsamples"`
	MaxDepth        int     `yaml:"max_depth" mapstructure:"max_depth"` // 0 = derived from n_subsamples
	Tau             float64 `yaml:"tau" mapstructure:"tau"`             // aad
	SpareTrees      int     `yaml:"n_spare_trees" mapstructure:"n_spare_trees"`
	RegenerateTrees bool    `yaml:"regenerate_trees" mapstructure:"regenerate_trees"`
	WeightRatio     float64 `yaml:"weight_ratio" mapstructure:"weight_ratio"`
}

// OracleConfig controls how items are presented for review.
type OracleConfig struct {
	ViewURL string `yaml:"view_url" mapstructure:"view_url"`
	Browser bool   `yaml:"browser" mapstructure:"browser"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // console, json
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // empty disables the endpoint
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Algorithm:  AlgorithmAAD,
		Budget:     40,
		RandomSeed: 42,
		Input: InputConfig{
			Precision: "float32",
		},
		Model: ModelConfig{
			Trees:       100,
			Subsamples:  256,
			Tau:         0.97,
			SpareTrees:  400,
			WeightRatio: 1.0,
		},
		Oracle: OracleConfig{
			ViewURL: "https://ztf.snad.space/dr4/view/{}",
			Browser: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults registers the defaults with v so that config files and
// environment variables only need to name what they change.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("algorithm", d.Algorithm)
	v.SetDefault("budget", d.Budget)
	v.SetDefault("random_seed", d.RandomSeed)
	v.SetDefault("non_interactive", d.NonInteractive)
	v.SetDefault("prior_answers", d.PriorAnswers)
	v.SetDefault("input.oid", d.Input.OIDs)
	v.SetDefault("input.feature", d.Input.Features)
	v.SetDefault("input.pcap", d.Input.PCAP)
	v.SetDefault("input.precision", d.Input.Precision)
	v.SetDefault("output.anomalies", d.Output.Anomalies)
	v.SetDefault("output.answers", d.Output.Answers)
	v.SetDefault("model.n_trees", d.Model.Trees)
	v.SetDefault("model.n_subsamples", d.Model.Subsamples)
	v.SetDefault("model.max_depth", d.Model.MaxDepth)
	v.SetDefault("model.tau", d.Model.Tau)
	v.SetDefault("model.n_spare_trees", d.Model.SpareTrees)
	v.SetDefault("model.regenerate_trees", d.Model.RegenerateTrees)
	v.SetDefault("model.weight_ratio", d.Model.WeightRatio)
	v.SetDefault("oracle.view_url", d.Oracle.ViewURL)
	v.SetDefault("oracle.browser", d.Oracle.Browser)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load decodes the settings collected in v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Error is a configuration problem found before any work starts.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Validate checks the settings for contradictions.
func (c Config) Validate() error {
	switch c.Algorithm {
	case AlgorithmAAD, AlgorithmPineForest:
	default:
		return &Error{Field: "algorithm", Reason: fmt.Sprintf("unknown algorithm %q", c.Algorithm)}
	}

	if c.Output.Anomalies == "" {
		return &Error{Field: "anomalies", Reason: "output file is required"}
	}
	if c.NonInteractive && len(c.PriorAnswers) == 0 {
		return &Error{Field: "prior_answers", Reason: "must be supplied when run non-interactively"}
	}
	if c.NonInteractive && c.Output.Answers != "" {
		return &Error{Field: "answers", Reason: "has no sense when run non-interactively"}
	}
	if c.Budget < 0 {
		return &Error{Field: "budget", Reason: "must not be negative"}
	}

	if err := c.Input.validate(); err != nil {
		return err
	}
	return c.Model.validate(c.Algorithm)
}

func (c InputConfig) validate() error {
	if c.PCAP != "" {
		if len(c.Features) > 0 || len(c.OIDs) > 0 {
			return &Error{Field: "pcap", Reason: "cannot be combined with oid or feature files"}
		}
		return nil
	}
	if len(c.Features) == 0 {
		return &Error{Field: "feature", Reason: "at least one feature file or a pcap file is required"}
	}

	binary := false
	for _, f := range c.Features {
		if !IsCSV(f) {
			binary = true
		}
	}
	if binary && len(c.OIDs) != len(c.Features) {
		return &Error{Field: "oid", Reason: fmt.Sprintf("%d oid files for %d feature files", len(c.OIDs), len(c.Features))}
	}

	switch c.Precision {
	case "float32", "float64":
	default:
		return &Error{Field: "precision", Reason: fmt.Sprintf("unknown precision %q", c.Precision)}
	}
	return nil
}

func (c ModelConfig) validate(algorithm string) error {
	if c.Trees <= 0 {
		return &Error{Field: "n_trees", Reason: "must be positive"}
	}
	if c.Subsamples <= 0 {
		return &Error{Field: "n_subsamples", Reason: "must be positive"}
	}
	if c.MaxDepth < 0 {
		return &Error{Field: "max_depth", Reason: "must not be negative"}
	}

	switch algorithm {
	case AlgorithmAAD:
		if c.Tau <= 0 || c.Tau > 1 {
			return &Error{Field: "tau", Reason: "must be in (0, 1]"}
		}
	case AlgorithmPineForest:
		if c.SpareTrees < 0 {
			return &Error{Field: "n_spare_trees", Reason: "must not be negative"}
		}
		if c.WeightRatio < 0 {
			return &Error{Field: "weight_ratio", Reason: "must not be negative"}
		}
	}
	return nil
}

// IsCSV reports whether path names a CSV file.
func IsCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
