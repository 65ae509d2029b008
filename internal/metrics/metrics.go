// Package metrics exposes Prometheus instruments for the estimate pipeline,
// the HTTP API and the DVF import.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"estimo/server/internal/valuation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "estimo"

// Outcome labels of estimates_total.
const (
	OutcomeSuccess = "success"
	OutcomeBusy    = "busy"
	OutcomeUnknown = "unknown"
)

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	estimates     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	importedSales prometheus.Counter
	skippedRows   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_total",
			Help:      "Estimate submissions by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimate_stage_duration_seconds",
			Help:      "Time spent in each stage of an estimate.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		importedSales: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_sales_total",
			Help:      "DVF sales written to the database.",
		}),
		skippedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_skipped_rows_total",
			Help:      "DVF rows rejected during import, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.estimates,
		m.stageDuration,
		m.requests,
		m.latency,
		m.importedSales,
		m.skippedRows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests and for registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome maps an estimate error to its estimates_total label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, valuation.ErrBusy) {
		return OutcomeBusy
	}
	if e, ok := valuation.AsError(err); ok {
		return e.Kind.String()
	}
	return OutcomeUnknown
}

func (m *Metrics) ObserveEstimate(err error) {
	m.estimates.WithLabelValues(Outcome(err)).Inc()
}

// StageObserver returns a valuation.Observer timing each busy state until
// the next one is entered.
func (m *Metrics) StageObserver() valuation.Observer {
	var (
		current valuation.State
		since   time.Time
	)
	return func(next valuation.State) {
		now := time.Now()
		if current.Busy() {
			m.stageDuration.WithLabelValues(current.String()).Observe(now.Sub(since).Seconds())
		}
		current, since = next, now
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) AddImported(n int) {
	m.importedSales.Add(float64(n))
}

func (m *Metrics) AddSkipped(reason string, n int) {
	m.skippedRows.WithLabelValues(reason).Add(float64(n))
}
