// Package cli implements the activeguard command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hed1ad/activeguard/internal/config"
)

// Version is the release of the tool.
const Version = "v0.1.0"

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "activeguard",
		Short: "Active anomaly detection with an oracle in the loop",
		Long: `activeguard ranks items by how anomalous they look and either reports the
top of the ranking, or asks you about the most suspicious item, learns from
your answer and asks again, until the budget is spent.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (ACTIVEGUARD_*)
3. Config file (--config)
4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Accept the underscore spellings of flags (--prior_answers, --n_trees).
	rootCmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	d := config.Default()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", d.Logging.Level, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", d.Logging.Format, "log format (console, json)")

	loader := &configLoader{file: &cfgFile}
	rootCmd.AddCommand(
		newRunCommand(config.AlgorithmAAD, loader),
		newRunCommand(config.AlgorithmPineForest, loader),
		newConfigCommand(loader),
		newVersionCommand(),
	)

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "activeguard %s\n", Version)
		},
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"prior-answers":    "prior_answers",
	"answers":          "output.answers",
	"anomalies":        "output.anomalies",
	"oid":              "input.oid",
	"feature":          "input.feature",
	"pcap":             "input.pcap",
	"precision":        "input.precision",
	"non-interactive":  "non_interactive",
	"budget":           "budget",
	"random-seed":      "random_seed",
	"view-url":         "oracle.view_url",
	"browser":          "oracle.browser",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"metrics-addr":     "metrics.addr",
	"n-trees":          "model.n_trees",
	"n-subsamples":     "model.n_subsamples",
	"max-depth":        "model.max_depth",
	"tau":              "model.tau",
	"n-spare-trees":    "model.n_spare_trees",
	"regenerate-trees": "model.regenerate_trees",
	"weight-ratio":     "model.weight_ratio",
}

// configLoader collects settings from defaults, the config file, the
// environment and the flags of the running command.
type configLoader struct {
	file *string
}

func (l *configLoader) viper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	config.SetDefaults(v)

	v.SetEnvPrefix("ACTIVEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.file != nil && *l.file != "" {
		v.SetConfigFile(*l.file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *l.file, err)
		}
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	return v, nil
}

func (l *configLoader) load(cmd *cobra.Command) (config.Config, error) {
	v, err := l.viper(cmd)
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}
