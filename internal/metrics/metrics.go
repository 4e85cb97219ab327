// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calmcorners_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calmcorners_http_active_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	ReviewMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calmcorners_review_mutations_total",
			Help: "Committed review mutations by event kind",
		},
		[]string{"event"},
	)

	LocationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calmcorners_location_cache_hits_total",
			Help: "Location list requests served from Redis",
		},
	)

	LocationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calmcorners_location_cache_misses_total",
			Help: "Location list requests that fell through to the store",
		},
	)

	ReconcileCorrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calmcorners_reconcile_corrections_total",
			Help: "Locations whose aggregates were repaired by the reconciler",
		},
	)

	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calmcorners_event_publish_failures_total",
			Help: "Review events that could not be handed to Kafka",
		},
	)
)

// RecordHTTPRequest observes one served request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
