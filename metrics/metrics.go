package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ExtractionStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booknook_extraction_stage_total",
			Help: "Metadata pipeline stage outcomes",
		},
		[]string{"stage", "outcome"},
	)

	ExtractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booknook_extraction_duration_seconds",
			Help:    "End-to-end metadata extraction duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	CatalogRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booknook_catalog_requests_total",
			Help: "External catalog lookups",
		},
		[]string{"source", "status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booknook_circuit_breaker_state",
			Help: "Catalog circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	Recommendations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booknook_recommendations_total",
			Help: "Recommendations served per source branch",
		},
		[]string{"variant", "source"},
	)

	RecommendationFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booknook_recommendation_fallbacks_total",
			Help: "Recommendation calls answered by the popularity fallback",
		},
		[]string{"variant"},
	)

	ActivityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booknook_activity_events_total",
			Help: "Tracked user activity events",
		},
		[]string{"action", "status"},
	)

	UploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "booknook_upload_bytes_total",
			Help: "Bytes of EPUB data stored",
		},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booknook_cache_lookups_total",
			Help: "Cache lookups by namespace and result",
		},
		[]string{"namespace", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		ExtractionStages,
		ExtractionDuration,
		CatalogRequests,
		CircuitBreakerState,
		Recommendations,
		RecommendationFallbacks,
		ActivityEvents,
		UploadBytes,
		CacheLookups,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
