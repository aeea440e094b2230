package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the region service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Region metrics
	RegionMutationsTotal *prometheus.CounterVec
	RegionReloadsTotal   *prometheus.CounterVec
	RegionReloadDuration *prometheus.HistogramVec
	RegionsActive        prometheus.Gauge

	// Selection metrics
	SelectionRequestsTotal   *prometheus.CounterVec
	SelectionRequestDuration *prometheus.HistogramVec

	// Responses superseded by a newer request
	StaleResponsesTotal *prometheus.CounterVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec

	// Cache metrics
	MetadataCacheHitsTotal   prometheus.Counter
	MetadataCacheMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataregion_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataregion_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataregion_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataregion_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Regions
		RegionMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataregion_region_mutations_total",
			Help: "Total number of region state changes by outcome.",
		}, []string{"region", "change", "outcome"}),
		RegionReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataregion_region_reloads_total",
			Help: "Total number of asynchronous region reloads by status.",
		}, []string{"region", "status"}),
		RegionReloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataregion_region_reload_duration_seconds",
			Help:    "Asynchronous region reload duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"region"}),
		RegionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dataregion_regions_active",
			Help: "Number of regions currently registered.",
		}),

		// Selection
		SelectionRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataregion_selection_requests_total",
			Help: "Total number of selection requests by operation and status.",
		}, []string{"op", "status"}),
		SelectionRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataregion_selection_request_duration_seconds",
			Help:    "Selection request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"op"}),

		StaleResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataregion_stale_responses_total",
			Help: "Total number of responses dropped because a newer request was issued.",
		}, []string{"component"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataregion_backend_requests_total",
			Help: "Total number of remote server requests.",
		}, []string{"endpoint", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dataregion_backend_request_duration_seconds",
			Help:    "Remote server request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"endpoint"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dataregion_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataregion_backend_retries_total",
			Help: "Total number of remote server request retries.",
		}, []string{"endpoint"}),

		// Cache
		MetadataCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataregion_metadata_cache_hits_total",
			Help: "Total query details cache hits.",
		}),
		MetadataCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataregion_metadata_cache_misses_total",
			Help: "Total query details cache misses.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Regions
		m.RegionMutationsTotal,
		m.RegionReloadsTotal,
		m.RegionReloadDuration,
		m.RegionsActive,
		// Selection
		m.SelectionRequestsTotal,
		m.SelectionRequestDuration,
		m.StaleResponsesTotal,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		// Cache
		m.MetadataCacheHitsTotal,
		m.MetadataCacheMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRegionMutation records a region state change. Outcome is one of
// navigate, reload, vetoed or noop.
func (m *Metrics) RecordRegionMutation(region, change, outcome string) {
	m.RegionMutationsTotal.WithLabelValues(region, change, outcome).Inc()
}

// RecordRegionReload records a completed asynchronous reload.
func (m *Metrics) RecordRegionReload(region, status string, duration time.Duration) {
	m.RegionReloadsTotal.WithLabelValues(region, status).Inc()
	m.RegionReloadDuration.WithLabelValues(region).Observe(duration.Seconds())
}

// SetRegionsActive sets the number of registered regions.
func (m *Metrics) SetRegionsActive(count float64) {
	m.RegionsActive.Set(count)
}

// RecordSelectionRequest records a completed selection request.
func (m *Metrics) RecordSelectionRequest(op, status string, duration time.Duration) {
	m.SelectionRequestsTotal.WithLabelValues(op, status).Inc()
	m.SelectionRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordStaleResponse records a response dropped in favour of a newer one.
func (m *Metrics) RecordStaleResponse(component string) {
	m.StaleResponsesTotal.WithLabelValues(component).Inc()
}

// RecordBackendRequest records a remote server request.
func (m *Metrics) RecordBackendRequest(endpoint string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records a remote server request retry.
func (m *Metrics) RecordBackendRetry(endpoint string) {
	m.BackendRetriesTotal.WithLabelValues(endpoint).Inc()
}

// RecordMetadataCacheHit records a query details cache hit.
func (m *Metrics) RecordMetadataCacheHit() {
	m.MetadataCacheHitsTotal.Inc()
}

// RecordMetadataCacheMiss records a query details cache miss.
func (m *Metrics) RecordMetadataCacheMiss() {
	m.MetadataCacheMissesTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
