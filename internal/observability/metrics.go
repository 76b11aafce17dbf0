package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for EirLedger.
type Metrics struct {
	// --- Runs ---
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec
	RunActive    prometheus.Gauge

	// --- Batches ---
	BatchDuration *prometheus.HistogramVec
	BatchesDone   *prometheus.CounterVec

	// --- Exposures ---
	ExposuresCalculated prometheus.Counter
	ExposuresFailed     *prometheus.CounterVec

	// --- Rate solver ---
	SolverIterations   prometheus.Histogram
	SolverNonConverged prometheus.Counter

	// --- Persistence ---
	RowsWritten  *prometheus.CounterVec
	WriteErrors  prometheus.Counter
	WriteLatency prometheus.Histogram

	// --- Reads ---
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// --- Status fan-out ---
	StatusPublished  prometheus.Counter
	StatusPublishErr prometheus.Counter
}

// NewMetrics registers every metric with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "eir_runs_started_total",
			Help: "Calculation runs started",
		}),

		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eir_runs_finished_total",
			Help: "Calculation runs finished by outcome",
		}, []string{"outcome"}),

		RunActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "eir_run_active",
			Help: "1 while a calculation run is active",
		}),

		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eir_batch_duration_seconds",
			Help:    "Time to load, calculate and write one batch",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		BatchesDone: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eir_batches_total",
			Help: "Batches completed by outcome",
		}, []string{"outcome"}),

		ExposuresCalculated: f.NewCounter(prometheus.CounterOpts{
			Name: "eir_exposures_calculated_total",
			Help: "Exposures calculated successfully",
		}),

		ExposuresFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eir_exposures_failed_total",
			Help: "Exposure calculations that failed, by error kind",
		}, []string{"kind"}),

		SolverIterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eir_solver_iterations",
			Help:    "Iterations per effective rate solve",
			Buckets: []float64{10, 25, 50, 100, 250, 1000, 10000, 100000},
		}),

		SolverNonConverged: f.NewCounter(prometheus.CounterOpts{
			Name: "eir_solver_nonconverged_total",
			Help: "Rate solves that hit the iteration cap",
		}),

		RowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eir_rows_written_total",
			Help: "Output rows written by table",
		}, []string{"table"}),

		WriteErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "eir_write_errors_total",
			Help: "Failed batch write-backs",
		}),

		WriteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "eir_write_duration_seconds",
			Help:    "Batch write-back latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eir_cache_hits_total",
			Help: "Read cache hits by query",
		}, []string{"query"}),

		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eir_cache_misses_total",
			Help: "Read cache misses by query",
		}, []string{"query"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eir_query_duration_seconds",
			Help:    "Read query latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"query"}),

		StatusPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "eir_status_published_total",
			Help: "Run status records published to NATS",
		}),

		StatusPublishErr: f.NewCounter(prometheus.CounterOpts{
			Name: "eir_status_publish_errors_total",
			Help: "Run status records that failed to publish",
		}),
	}
}
