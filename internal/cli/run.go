package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/activeguard/internal/config"
	"github.com/hed1ad/activeguard/internal/logger"
	"github.com/hed1ad/activeguard/internal/metrics"
	"github.com/hed1ad/activeguard/pkg/active"
	"github.com/hed1ad/activeguard/pkg/answers"
	"github.com/hed1ad/activeguard/pkg/detectors"
	"github.com/hed1ad/activeguard/pkg/detectors/iforest"
	"github.com/hed1ad/activeguard/pkg/detectors/pineforest"
	"github.com/hed1ad/activeguard/pkg/io/pcap"
	"github.com/hed1ad/activeguard/pkg/oracle"
	"github.com/hed1ad/activeguard/pkg/sink"
)

var runDescriptions = map[string]string{
	config.AlgorithmAAD:        "Isolation forest with leaf weights tuned by your answers (Active Anomaly Discovery)",
	config.AlgorithmPineForest: "Isolation forest that keeps the trees agreeing best with your answers",
}

func newRunCommand(algorithm string, loader *configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   algorithm,
		Short: runDescriptions[algorithm],
		Long: runDescriptions[algorithm] + `.

In interactive mode the most suspicious unlabeled item is shown and you are
asked whether it is an anomaly; the answer is fed back before the next item
is picked. With --non-interactive the top of the ranking is written out
without asking.

Example:
  activeguard ` + algorithm + ` --oid oid.dat --feature feature.dat --anomalies anomalies.txt --answers answers.csv
  activeguard ` + algorithm + ` -n --feature features.csv --prior-answers answers.csv --anomalies anomalies.txt --budget 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loader.viper(cmd)
			if err != nil {
				return err
			}
			v.Set("algorithm", algorithm)

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logger.New(cfg.Logging.Format, cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return runSession(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.StringArray("prior-answers", nil, "file with prior oracle answers; shown to the model but not repeated in the output files (repeatable)")
	f.String("answers", "", "file to store oracle answers; usable later as --prior-answers")
	f.String("anomalies", "", "file to store found anomalies")
	f.StringArray("oid", nil, "file with object identities, paired with --feature (repeatable)")
	f.StringArray("feature", nil, "file with features, binary or .csv (repeatable)")
	f.String("pcap", "", "capture file to rank packets from, instead of --oid/--feature")
	f.String("precision", d.Input.Precision, "value width of binary feature files (float32, float64)")
	f.BoolP("non-interactive", "n", d.NonInteractive, "report the top of the ranking without asking")
	f.Int("budget", d.Budget, "number of items to examine")
	f.Int64P("random-seed", "s", d.RandomSeed, "seed for reproducibility")
	f.String("view-url", d.Oracle.ViewURL, "reference page template, {} is replaced by the identity")
	f.Bool("browser", d.Oracle.Browser, "open reference pages in a browser instead of printing them")
	f.String("metrics-addr", d.Metrics.Addr, "serve Prometheus metrics on this address during the session")

	f.Int("n-trees", d.Model.Trees, "number of trees used for scoring")
	f.Int("n-subsamples", d.Model.Subsamples, "subsample size each tree is built from")
	f.Int("max-depth", d.Model.MaxDepth, "maximum depth of every tree (0 derives it from --n-subsamples)")

	switch algorithm {
	case config.AlgorithmAAD:
		f.Float64("tau", d.Model.Tau, "quantile separating anomalies from regular items")
	case config.AlgorithmPineForest:
		f.Int("n-spare-trees", d.Model.SpareTrees, "number of extra trees grown for filtering")
		f.Bool("regenerate-trees", d.Model.RegenerateTrees, "grow a fresh pool of trees on every answer")
		f.Float64("weight-ratio", d.Model.WeightRatio, "weight of regular items relative to anomalies when filtering trees")
	}

	return cmd
}

// newModel builds the scoring model selected by cfg.
func newModel(cfg config.Config) detectors.ScoringModel {
	m := cfg.Model
	if cfg.Algorithm == config.AlgorithmPineForest {
		return pineforest.New(
			pineforest.WithTrees(m.Trees),
			pineforest.WithSpareTrees(m.SpareTrees),
			pineforest.WithSampleSize(m.Subsamples),
			pineforest.WithMaxDepth(m.MaxDepth),
			pineforest.WithRegenerateTrees(m.RegenerateTrees),
			pineforest.WithWeightRatio(m.WeightRatio),
			pineforest.WithSeed(cfg.RandomSeed),
		)
	}
	return iforest.New(
		iforest.WithTrees(m.Trees),
		iforest.WithSampleSize(m.Subsamples),
		iforest.WithMaxDepth(m.MaxDepth),
		iforest.WithTau(m.Tau),
		iforest.WithSeed(cfg.RandomSeed),
	)
}

// runSession loads the inputs, runs the loop and records every decision.
// Answers are read from in and prompts written to out.
func runSession(cfg config.Config, in io.Reader, out io.Writer, log *zap.Logger) (err error) {
	known, err := answers.Load(cfg.PriorAnswers)
	if err != nil {
		return err
	}

	ds, err := loadDataset(cfg.Input)
	if err != nil {
		return err
	}
	log.Info("Loaded dataset",
		zap.Int("rows", ds.Len()),
		zap.Int("prior_answers", len(known)),
		zap.String("algorithm", cfg.Algorithm),
	)
	if cfg.Input.PCAP != "" {
		log.Debug("Packet features", zap.Strings("names", pcap.NewFeatureExtractor().FeatureNames()))
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv, err := m.Serve(cfg.Metrics.Addr, log)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Error("Error during metrics shutdown", zap.Error(err))
			}
		}()
	}

	opts := []active.Option{
		active.WithBudget(cfg.Budget),
		active.WithNonInteractive(cfg.NonInteractive),
		active.WithLogger(log),
	}
	if !cfg.NonInteractive {
		opts = append(opts, active.WithOracle(m.Oracle(newTerminal(cfg.Oracle, in, out))))
	}
	engine := active.New(m.Model(newModel(cfg)), opts...)

	s, err := sink.New(cfg.Output.Anomalies, cfg.Output.Answers)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	var emitted, found int
	for rec, runErr := range engine.Run(ds.IDs, ds.Features, known) {
		if runErr != nil {
			return runErr
		}
		if err := s.Record(rec.ID, rec.Anomaly); err != nil {
			return err
		}
		m.RecordEmitted(rec.Anomaly)
		emitted++
		if rec.Anomaly {
			found++
		}
	}

	log.Info("Session finished", zap.Int("records", emitted), zap.Int("anomalies", found))
	return nil
}

func newTerminal(cfg config.OracleConfig, in io.Reader, out io.Writer) *oracle.Terminal {
	opts := []oracle.Option{oracle.WithViewURL(cfg.ViewURL)}
	if cfg.Browser {
		opts = append(opts, oracle.WithViewer(oracle.BrowserViewer{}))
	}
	return oracle.NewTerminal(in, out, opts...)
}
