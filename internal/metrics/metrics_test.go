package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hed1ad/activeguard/pkg/detectors"
	"github.com/hed1ad/activeguard/pkg/oracle"
)

type stubModel struct{ observeErr error }

func (stubModel) Train([][]float64) error { return nil }

func (stubModel) Score(data [][]float64) ([]float64, error) {
	return make([]float64, len(data)), nil
}

func (s stubModel) Observe([][]float64, []detectors.Label) error { return s.observeErr }

func TestInstrumentedModel(t *testing.T) {
	m := New()
	model := m.Model(stubModel{})

	require.NoError(t, model.Train([][]float64{{1}}))
	_, err := model.Score([][]float64{{1}, {2}})
	require.NoError(t, err)
	require.NoError(t, model.Observe(
		[][]float64{{1}, {2}, {3}},
		[]detectors.Label{detectors.Anomaly, detectors.Regular, detectors.Anomaly},
	))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Observed.WithLabelValues("anomaly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Observed.WithLabelValues("regular")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ScoreDuration))
}

func TestInstrumentedModelObserveError(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	model := m.Model(stubModel{observeErr: boom})

	err := model.Observe([][]float64{{1}}, []detectors.Label{detectors.Anomaly})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Observed.WithLabelValues("anomaly")))
}

func TestInstrumentedOracle(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	o := m.Oracle(oracle.Func(func(id uint64) (bool, error) {
		if id == 0 {
			return false, boom
		}
		return id%2 == 1, nil
	}))

	for _, id := range []uint64{1, 2, 3} {
		_, err := o.Confirm(id)
		require.NoError(t, err)
	}
	_, err := o.Confirm(0)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Queries.WithLabelValues("anomaly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("regular")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("error")))

	assert.Nil(t, m.Oracle(nil))
}

func TestRecordEmitted(t *testing.T) {
	m := New()
	m.RecordEmitted(true)
	m.RecordEmitted(true)
	m.RecordEmitted(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Emitted.WithLabelValues("anomaly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Emitted.WithLabelValues("regular")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordEmitted(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `activeguard_emitted_records_total{decision="anomaly"} 1`)
}

func TestServe(t *testing.T) {
	m := New()
	s, err := m.Serve("127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = m.Serve(s.Addr(), zap.NewNop())
	assert.Error(t, err, "address already in use")
}
