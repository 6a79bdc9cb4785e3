package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/bicing-station-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Watch for: p95/p99 increases; nearby queries wait on both feeds.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// GBFS feed calls by feed and outcome.
	FeedCallsTotal *prometheus.CounterVec

	// GBFS feed latency. Watch for: p99 approaching the 10s fetch timeout.
	FeedDurationSeconds *prometheus.HistogramVec

	// Retry attempts per feed. Zero unless retries are configured.
	FeedRetriesTotal *prometheus.CounterVec

	// Feed errors by category (timeout, network, upstream_5xx, malformed_payload...).
	FeedErrorsTotal *prometheus.CounterVec

	// Station records dropped because they were not JSON objects.
	FeedRecordsSkippedTotal *prometheus.CounterVec

	// Requests answered from metadata only because station_status was unavailable.
	FeedDegradedTotal prometheus.Counter

	// Station list builds that joined one already in flight.
	SnapshotCoalescedTotal prometheus.Counter

	// Stations whose mechanical count came out negative (ebikes > total bikes upstream).
	StationInconsistentStatusTotal prometheus.Counter

	// Feed cache lookups by dataset and result (hit, miss, error).
	CacheLookupsTotal *prometheus.CounterVec

	// Feed cache errors by operation. Cache errors never fail a request.
	CacheErrorsTotal *prometheus.CounterVec

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Nearby searches, split by whether the query point is inside the service area.
	NearbyQueriesTotal *prometheus.CounterVec

	// Stations returned per nearby search.
	NearbyResultsCount prometheus.Histogram

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per feed: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	FeedCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedCallsTotal",
			Help: "Total number of GBFS feed calls",
		},
		[]string{"feed", "status"},
	)
	FeedDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedDurationSeconds",
			Help:    "GBFS feed latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"feed", "status"},
	)
	FeedRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedRetriesTotal",
			Help: "Total number of retry attempts for GBFS feed calls",
		},
		[]string{"feed"},
	)
	FeedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedErrorsTotal",
			Help: "GBFS feed failures by error category",
		},
		[]string{"feed", "category"},
	)
	FeedRecordsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedRecordsSkippedTotal",
			Help: "Station records dropped from a feed because they were not objects",
		},
		[]string{"feed"},
	)
	FeedDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedDegradedTotal",
			Help: "Station lists built without live status because station_status was unavailable",
		},
	)
	SnapshotCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshotCoalescedTotal",
			Help: "Station list requests served by joining an in-flight feed fetch",
		},
	)
	StationInconsistentStatusTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stationInconsistentStatusTotal",
			Help: "Merged stations reporting more ebikes than total bikes",
		},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Feed cache lookups by dataset and result",
		},
		[]string{"dataset", "result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Feed cache errors by operation",
		},
		[]string{"operation"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed dataset",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	NearbyQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nearbyQueriesTotal",
			Help: "Nearby station searches by service-area membership of the query point",
		},
		[]string{"inServiceArea"},
	)
	NearbyResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nearbyResultsCount",
			Help:    "Stations returned per nearby search",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 20},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per feed (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		FeedCallsTotal, FeedDurationSeconds, FeedRetriesTotal, FeedErrorsTotal, FeedRecordsSkippedTotal,
		FeedDegradedTotal, SnapshotCoalescedTotal, StationInconsistentStatusTotal,
		CacheLookupsTotal, CacheErrorsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		NearbyQueriesTotal, NearbyResultsCount,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RegisterTrafficGauges registers sliding-window gauges over the traffic tracker.
// Call from main after config load.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "requestsInWindow",
					Help: "Station requests (success, error, denied) in the sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition updates breaker metrics for a state change.
// State values follow circuitbreaker.State ordering.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordNearbyQuery records one nearby search and its result size.
func RecordNearbyQuery(inServiceArea bool, results int) {
	label := "false"
	if inServiceArea {
		label = "true"
	}
	NearbyQueriesTotal.WithLabelValues(label).Inc()
	NearbyResultsCount.Observe(float64(results))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
