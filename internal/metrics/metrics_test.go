package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"estimo/server/internal/valuation"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSuccess},
		{valuation.ErrBusy, OutcomeBusy},
		{fmt.Errorf("wrapped: %w", valuation.ErrBusy), OutcomeBusy},
		{&valuation.Error{Kind: valuation.KindValidation}, "validation"},
		{&valuation.Error{Kind: valuation.KindGeocode}, "geocode"},
		{&valuation.Error{Kind: valuation.KindPrediction, Transport: true}, "prediction"},
		{&valuation.Error{Kind: valuation.KindNetwork, Transport: true}, "network"},
		{errors.New("boom"), OutcomeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err))
	}
}

func TestObserveEstimate(t *testing.T) {
	m := New()

	m.ObserveEstimate(nil)
	m.ObserveEstimate(nil)
	m.ObserveEstimate(&valuation.Error{Kind: valuation.KindGeocode})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.estimates.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.estimates.WithLabelValues("geocode")))
}

func TestStageObserver(t *testing.T) {
	m := New()
	observe := m.StageObserver()

	for _, s := range []valuation.State{
		valuation.StateValidating,
		valuation.StateGeocoding,
		valuation.StatePredicting,
		valuation.StateSucceeded,
	} {
		observe(s)
	}

	assert.Equal(t, 3, testutil.CollectAndCount(m.stageDuration))
}

func TestImportCounters(t *testing.T) {
	m := New()
	m.AddImported(120)
	m.AddImported(5)
	m.AddSkipped("missing_price", 3)

	assert.Equal(t, 125.0, testutil.ToFloat64(m.importedSales))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.skippedRows.WithLabelValues("missing_price")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest("POST", "/api/estimate", 200, 30*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `estimo_http_requests_total{method="POST",route="/api/estimate",status="200"} 1`)
	assert.Contains(t, string(body), "estimo_http_request_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewIsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.AddImported(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.importedSales))
}
