package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Provider fan-out.
	ProviderRequests  *prometheus.CounterVec   // labels: provider, outcome={success,error,timeout}
	ProviderDuration  *prometheus.HistogramVec // labels: provider
	EventsFetched     *prometheus.CounterVec   // labels: provider
	DuplicatesDropped prometheus.Counter

	// Store.
	Fetches        *prometheus.CounterVec // labels: outcome={success,error,stale}
	RawEvents      prometheus.Gauge
	FilteredEvents prometheus.Gauge
	AnomalyEvents  prometheus.Gauge

	// Live updates and anomaly publication.
	UpdatesApplied     *prometheus.CounterVec // labels: type
	UpdateErrors       prometheus.Counter
	AnomaliesPublished prometheus.Counter
	PipelineRunning    prometheus.Gauge
	BatchSize          prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "provider_requests_total",
			Help:      "Provider fetches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quake_etl",
			Name:      "provider_request_duration_seconds",
			Help:      "Provider fetch duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		EventsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "events_fetched_total",
			Help:      "Events returned by providers before deduplication.",
		}, []string{"provider"}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "duplicates_dropped_total",
			Help:      "Events dropped because another provider reported the same fingerprint.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "store_fetches_total",
			Help:      "Store fetches by outcome; stale results are discarded.",
		}, []string{"outcome"}),
		RawEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_etl",
			Name:      "raw_events",
			Help:      "Events currently held in the raw list.",
		}),
		FilteredEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_etl",
			Name:      "filtered_events",
			Help:      "Events passing the active filter.",
		}),
		AnomalyEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_etl",
			Name:      "anomaly_events",
			Help:      "Anomalous events in the filtered view.",
		}),
		UpdatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "updates_applied_total",
			Help:      "Live record updates applied to the store, by type.",
		}, []string{"type"}),
		UpdateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "update_errors_total",
			Help:      "Live record updates that could not be parsed or applied.",
		}),
		AnomaliesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "anomalies_published_total",
			Help:      "Anomalous events written to the anomaly topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_etl",
			Name:      "pipeline_running",
			Help:      "1 when the live-update pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_etl",
			Name:      "update_batch_size",
			Help:      "Number of live updates per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_etl",
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_etl",
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ProviderRequests,
		m.ProviderDuration,
		m.EventsFetched,
		m.DuplicatesDropped,
		m.Fetches,
		m.RawEvents,
		m.FilteredEvents,
		m.AnomalyEvents,
		m.UpdatesApplied,
		m.UpdateErrors,
		m.AnomaliesPublished,
		m.PipelineRunning,
		m.BatchSize,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
	}
}
