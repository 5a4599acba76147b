package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nitrate_forecast"

// Metrics holds the Prometheus counters, histograms, and gauges for a forecast run.
type Metrics struct {
	SeriesLoaded    prometheus.Counter
	SeriesAligned   prometheus.Counter
	GapCells        *prometheus.CounterVec // labels: kind={short,long,unfillable}
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram

	// Rolling evaluation metrics.
	Windows        *prometheus.CounterVec // labels: outcome={scored,skipped}
	WindowSkips    *prometheus.CounterVec // labels: cause
	WindowDuration prometheus.Histogram
	FitIterations  prometheus.Histogram

	// Output metrics.
	RowsPublished *prometheus.CounterVec // labels: sink

	// Historian metrics.
	HistorianRequests    *prometheus.CounterVec   // labels: endpoint={points,recorded}, outcome={success,error}
	HistorianCache       *prometheus.CounterVec   // labels: result={hit,miss}
	HistorianAPIDuration *prometheus.HistogramVec // labels: endpoint
}

func newMetrics() *Metrics {
	return &Metrics{
		SeriesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_loaded_total",
			Help:      "Raw series read from sources.",
		}),
		SeriesAligned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "series_aligned_total",
			Help:      "Series resampled onto the grid.",
		}),
		GapCells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gap_cells_total",
			Help:      "Missing grid cells by the fill they received.",
		}, []string{"kind"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a forecast run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete align-evaluate-report run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		Windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_total",
			Help:      "Forecast windows evaluated by outcome.",
		}, []string{"outcome"}),
		WindowSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_skips_total",
			Help:      "Skipped forecast windows by cause.",
		}, []string{"cause"}),
		WindowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_duration_seconds",
			Help:      "Fit, forecast and score duration of one window.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		FitIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_iterations",
			Help:      "Estimation passes used by successful fits.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}),
		RowsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_published_total",
			Help:      "Dataset and report rows written, by sink.",
		}, []string{"sink"}),
		HistorianRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "historian_requests_total",
			Help:      "PI Web API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		HistorianCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "historian_webid_cache_total",
			Help:      "WebId cache lookups by result.",
		}, []string{"result"}),
		HistorianAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "historian_api_duration_seconds",
			Help:      "PI Web API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered nowhere, so tests can build
// as many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// Register adds every metric to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SeriesLoaded,
		m.SeriesAligned,
		m.GapCells,
		m.PipelineRunning,
		m.RunDuration,
		m.Windows,
		m.WindowSkips,
		m.WindowDuration,
		m.FitIterations,
		m.RowsPublished,
		m.HistorianRequests,
		m.HistorianCache,
		m.HistorianAPIDuration,
	}
}
