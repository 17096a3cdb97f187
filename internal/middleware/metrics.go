package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Go runtime and process metrics are automatically registered by promhttp.Handler()
// so we don't need to register them explicitly here

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealserve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealserve_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealserve_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealserve_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)

	// Prediction metrics
	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealserve_predictions_total",
			Help: "Total number of prediction requests",
		},
		[]string{"model", "source", "endpoint", "status"},
	)

	predictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealserve_prediction_duration_seconds",
			Help:    "Prediction latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"model", "endpoint"},
	)

	imagesPerRequest = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealserve_images_per_request",
			Help:    "Number of images submitted per request",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"endpoint"},
	)

	// Cache metrics
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealserve_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealserve_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"tier"},
	)

	localCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mealserve_local_cache_entries",
			Help: "Current number of entries in the local prediction cache",
		},
	)

	// Active connections
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mealserve_active_connections",
			Help: "Number of active connections",
		},
	)

	// Model availability
	modelAvailability = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mealserve_model_availability",
			Help: "Model availability status (1 = available, 0 = unavailable)",
		},
		[]string{"model", "version"},
	)

	// Error metrics
	errorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealserve_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "endpoint"},
	)
)

// MetricsMiddleware collects Prometheus metrics
func MetricsMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Track active connections
			activeConnections.Inc()
			defer activeConnections.Dec()

			// Get the route pattern
			routePattern := getRoutePattern(r)

			// Track request size
			requestSize := computeRequestSize(r)
			httpRequestSize.WithLabelValues(r.Method, routePattern).Observe(float64(requestSize))

			wrapped := NewResponseRecorder(w)

			// Process request
			next.ServeHTTP(wrapped, r)

			// Calculate duration
			duration := time.Since(start).Seconds()

			// Record metrics
			status := strconv.Itoa(wrapped.StatusCode())
			httpRequestsTotal.WithLabelValues(r.Method, routePattern, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, routePattern, status).Observe(duration)
			httpResponseSize.WithLabelValues(r.Method, routePattern).Observe(float64(wrapped.BytesWritten()))

			// Log slow requests
			if duration > 10 {
				logger.Warn("Slow request detected",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Float64("duration", duration),
					zap.Int("status", wrapped.StatusCode()),
				)
			}
		})
	}
}

// RecordPrediction records the outcome of classifying one image
func RecordPrediction(model, source, endpoint, status string) {
	predictionsTotal.WithLabelValues(model, source, endpoint, status).Inc()
}

// RecordPredictionLatency records how long a prediction request took end to end
func RecordPredictionLatency(model, endpoint string, seconds float64) {
	predictionDuration.WithLabelValues(model, endpoint).Observe(seconds)
}

// RecordImageCount records how many images a request carried
func RecordImageCount(endpoint string, count int) {
	imagesPerRequest.WithLabelValues(endpoint).Observe(float64(count))
}

// RecordCacheHit records a cache hit for a tier ("local" or "shared")
func RecordCacheHit(tier string) {
	cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a cache miss for a tier
func RecordCacheMiss(tier string) {
	cacheMisses.WithLabelValues(tier).Inc()
}

// RecordError records an error
func RecordError(errorType, endpoint string) {
	errorCount.WithLabelValues(errorType, endpoint).Inc()
}

// UpdateModelAvailability updates model availability status
func UpdateModelAvailability(model, version string, available bool) {
	value := 0.0
	if available {
		value = 1.0
	}
	modelAvailability.WithLabelValues(model, version).Set(value)
}

// UpdateLocalCacheEntries updates the local cache size metric
func UpdateLocalCacheEntries(entries int) {
	localCacheEntries.Set(float64(entries))
}

// Helper functions

func getRoutePattern(r *http.Request) string {
	// Try to get the route pattern from chi context
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	// Fallback to normalizing the path
	return normalizePath(r.URL.Path)
}

func normalizePath(path string) string {
	// Normalize common patterns
	if strings.HasPrefix(path, "/v1/predict/batch") {
		return "/v1/predict/batch"
	}
	if strings.HasPrefix(path, "/v1/predict") {
		return "/v1/predict"
	}
	if strings.HasPrefix(path, "/v1/meals/analyze") {
		return "/v1/meals/analyze"
	}
	if strings.HasPrefix(path, "/v1/models") {
		return "/v1/models"
	}
	if strings.HasPrefix(path, "/v1/status") {
		return "/v1/status"
	}
	if strings.HasPrefix(path, "/health") {
		return "/health"
	}
	if strings.HasPrefix(path, "/ready") {
		return "/ready"
	}
	if strings.HasPrefix(path, "/metrics") {
		return "/metrics"
	}

	// For other paths, remove IDs and parameters
	parts := strings.Split(path, "/")
	for i, part := range parts {
		// Replace UUIDs, numbers, and hash-like segments with placeholders
		if len(part) > 0 && (isUUID(part) || isNumeric(part) || isHexHash(part)) {
			parts[i] = "{id}"
		}
	}

	return strings.Join(parts, "/")
}

func computeRequestSize(r *http.Request) int64 {
	size := int64(0)

	// Add method and URL
	size += int64(len(r.Method))
	size += int64(len(r.URL.String()))

	// Add headers
	for name, values := range r.Header {
		size += int64(len(name))
		for _, value := range values {
			size += int64(len(value))
		}
	}

	// Add content length if available
	if r.ContentLength > 0 {
		size += r.ContentLength
	}

	return size
}

func isUUID(s string) bool {
	// Simple UUID check (32 hex chars with optional hyphens)
	if len(s) < 32 || len(s) > 36 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == '-') {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isHexHash(s string) bool {
	// Content hashes and model versions appear as bare hex segments
	if len(s) < 12 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
