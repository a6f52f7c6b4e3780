package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for pipeline runs and the dashboard.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsGenerated prometheus.Counter
	BytesEncoded     prometheus.Counter

	// Rows each sink reported as loaded
	SinkRows *prometheus.CounterVec

	// Runs by outcome
	Runs *prometheus.CounterVec

	RunDuration prometheus.Histogram

	// Dashboard query latency by endpoint
	QueryLatency *prometheus.HistogramVec

	// KPI cache lookups by result
	CacheLookups *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates a Metrics instance registered on reg. A *prometheus.Registry
// also serves as the gatherer for Handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		RecordsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightgen_records_generated_total",
			Help: "Total number of flight records generated",
		}),

		BytesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "flightgen_ndjson_bytes_total",
			Help: "Total number of NDJSON bytes encoded",
		}),

		SinkRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flightgen_sink_rows_total",
			Help: "Rows loaded by each sink",
		}, []string{"sink"}),

		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flightgen_runs_total",
			Help: "Pipeline runs by outcome",
		}, []string{"outcome"}), // outcome: "success", "failure"

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flightgen_run_duration_seconds",
			Help:    "Duration of a full pipeline run",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		QueryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flightgen_dashboard_query_duration_seconds",
			Help:    "Duration of dashboard queries by endpoint",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"endpoint"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flightgen_kpi_cache_lookups_total",
			Help: "KPI cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss", "error"
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// AddRecords counts generated records and their encoded size
func (m *Metrics) AddRecords(n int, bytes int64) {
	if m != nil {
		m.RecordsGenerated.Add(float64(n))
		m.BytesEncoded.Add(float64(bytes))
	}
}

// AddSinkRows records the rows a sink reported
func (m *Metrics) AddSinkRows(sink string, n int64) {
	if m != nil {
		m.SinkRows.WithLabelValues(sink).Add(float64(n))
	}
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// ObserveQuery records the latency of a dashboard endpoint
func (m *Metrics) ObserveQuery(endpoint string, d time.Duration) {
	if m != nil {
		m.QueryLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// IncrementCacheLookup records a KPI cache hit, miss or error
func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

// Handler serves the registered metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
