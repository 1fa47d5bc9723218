package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gfs_forecast"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// model-run orchestrator and forecast service.
type Metrics struct {
	OrchestratorRunning prometheus.Gauge

	// Cycle discovery.
	Probes *prometheus.CounterVec // labels: outcome={found,missing,error}

	// Downloads.
	Downloads     *prometheus.CounterVec // labels: kind={wave,wind,bulletin}, outcome={success,error,undersized,not_available}
	DownloadBytes prometheus.Counter
	LimiterWait   prometheus.Histogram

	// Decoding.
	BulletinLinesSkipped prometheus.Counter
	GridStepsSkipped     prometheus.Counter

	// Builds and swaps.
	Builds        *prometheus.CounterVec // labels: outcome={success,partial,failed}
	BuildDuration prometheus.Histogram
	ActiveCycle   prometheus.Gauge
	Swaps         prometheus.Counter

	// Forecast cache.
	CacheLookups *prometheus.CounterVec // labels: kind={wave,wind}, result={hit,miss}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.OrchestratorRunning,
		m.Probes,
		m.Downloads,
		m.DownloadBytes,
		m.LimiterWait,
		m.BulletinLinesSkipped,
		m.GridStepsSkipped,
		m.Builds,
		m.BuildDuration,
		m.ActiveCycle,
		m.Swaps,
		m.CacheLookups,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		OrchestratorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orchestrator_running",
			Help:      "1 when the orchestrator loop is active, 0 when shut down.",
		}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_probes_total",
			Help:      "Cycle availability probes by outcome.",
		}, []string{"outcome"}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Upstream file downloads by kind and outcome.",
		}, []string{"kind", "outcome"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written to the file store.",
		}),
		LimiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent blocked in the rate limiter per request.",
			Buckets:   []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		BulletinLinesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulletin_lines_skipped_total",
			Help:      "Bulletin data lines discarded as unparseable.",
		}),
		GridStepsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_steps_skipped_total",
			Help:      "Grid time steps skipped during extraction.",
		}),
		Builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Model run state builds by outcome.",
		}, []string{"outcome"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of a complete model run state build.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		ActiveCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_cycle_timestamp_seconds",
			Help:      "Start time of the active model run as a Unix timestamp.",
		}),
		Swaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_swaps_total",
			Help:      "Number of times a new model run state became active.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_cache_total",
			Help:      "Forecast cache lookups by kind and result.",
		}, []string{"kind", "result"}),
	}
}
