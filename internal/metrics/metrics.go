// Package metrics exposes Prometheus metrics about a running session.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hed1ad/activeguard/pkg/active"
	"github.com/hed1ad/activeguard/pkg/detectors"
)

const namespace = "activeguard"

// Metrics holds the collectors of one session on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	Queries       *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	Observed      *prometheus.CounterVec
	ScoreDuration prometheus.Histogram
	Emitted       *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_queries_total",
				Help:      "Total number of oracle queries by answer",
			},
			[]string{"answer"}, // "anomaly" / "regular" / "error"
		),
		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "oracle_query_duration_seconds",
				Help:      "Time the oracle took to answer",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		Observed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observed_labels_total",
				Help:      "Total number of labels fed into the model",
			},
			[]string{"label"},
		),
		ScoreDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "score_duration_seconds",
				Help:      "Time taken to score the full dataset",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		Emitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emitted_records_total",
				Help:      "Total number of records written to the sink",
			},
			[]string{"decision"},
		),
	}

	m.Registry.MustRegister(m.Queries, m.QueryDuration, m.Observed, m.ScoreDuration, m.Emitted)
	return m
}

// RecordEmitted counts a record written to the sink.
func (m *Metrics) RecordEmitted(decision bool) {
	m.Emitted.WithLabelValues(detectors.LabelFromBool(decision).String()).Inc()
}

// Model wraps a scoring model so that scoring time and observed labels are recorded.
func (m *Metrics) Model(inner detectors.ScoringModel) detectors.ScoringModel {
	return &instrumentedModel{inner: inner, m: m}
}

// Oracle wraps an oracle so that queries are counted and timed. A nil oracle
// stays nil.
func (m *Metrics) Oracle(inner active.Oracle) active.Oracle {
	if inner == nil {
		return nil
	}
	return &instrumentedOracle{inner: inner, m: m}
}

type instrumentedModel struct {
	inner detectors.ScoringModel
	m     *Metrics
}

func (p *instrumentedModel) Train(data [][]float64) error {
	return p.inner.Train(data)
}

func (p *instrumentedModel) Score(data [][]float64) ([]float64, error) {
	start := time.Now()
	scores, err := p.inner.Score(data)
	p.m.ScoreDuration.Observe(time.Since(start).Seconds())
	return scores, err
}

func (p *instrumentedModel) Observe(data [][]float64, labels []detectors.Label) error {
	if err := p.inner.Observe(data, labels); err != nil {
		return err
	}
	for _, l := range labels {
		p.m.Observed.WithLabelValues(l.String()).Inc()
	}
	return nil
}

type instrumentedOracle struct {
	inner active.Oracle
	m     *Metrics
}

func (p *instrumentedOracle) Confirm(id uint64) (bool, error) {
	start := time.Now()
	answer, err := p.inner.Confirm(id)
	p.m.QueryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.m.Queries.WithLabelValues("error").Inc()
		return false, err
	}
	p.m.Queries.WithLabelValues(detectors.LabelFromBool(answer).String()).Inc()
	return answer, nil
}
