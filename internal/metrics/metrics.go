package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_notifications_created_total",
			Help: "Notifications written by origin and severity",
		},
		[]string{"origin", "severity"},
	)

	webhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_webhooks_received_total",
			Help: "Accepted webhook calls by source type and outcome",
		},
		[]string{"source_type", "outcome"},
	)

	pushDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_push_dispatches_total",
			Help: "Push dispatch outcomes by status and reason",
		},
		[]string{"status", "reason"},
	)

	pushLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_push_latency_seconds",
			Help:    "Push provider request latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	ordersSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_orders_synced_total",
			Help: "Orders upserted by realm",
		},
		[]string{"realm"},
	)

	orderSyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_order_sync_errors_total",
			Help: "Order sync failures by realm",
		},
		[]string{"realm"},
	)

	syntheticSteps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_synthetic_step_duration_seconds",
			Help:    "Synthetic journey step duration by site and status",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"site", "status"},
	)

	invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_invocations_total",
			Help: "Downstream invocations by target and result",
		},
		[]string{"target", "result"},
	)

	messagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_messages_in_flight",
			Help: "Invocation messages currently being handled by the consumer",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"key"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_db_connections_active",
			Help: "Database connections checked out of the pool",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationCreated counts a written notification. origin is
// "api" or the webhook source type.
func RecordNotificationCreated(origin, severity string) {
	notificationsCreated.WithLabelValues(origin, severity).Inc()
}

// RecordWebhook counts an accepted webhook call
func RecordWebhook(sourceType, outcome string) {
	webhooksReceived.WithLabelValues(sourceType, outcome).Inc()
}

// RecordPushDispatch counts a push dispatch outcome
func RecordPushDispatch(status, reason string) {
	pushDispatches.WithLabelValues(status, reason).Inc()
}

// RecordPushLatency records how long the provider call took
func RecordPushLatency(d time.Duration) {
	pushLatency.Observe(d.Seconds())
}

// SetCircuitState publishes a breaker's state
func SetCircuitState(name string, state int) {
	circuitState.WithLabelValues(name).Set(float64(state))
}

// RecordOrdersSynced adds to the synced-order count of a realm
func RecordOrdersSynced(realm string, n int) {
	ordersSynced.WithLabelValues(realm).Add(float64(n))
}

// RecordOrderSyncError counts a failed realm
func RecordOrderSyncError(realm string) {
	orderSyncErrors.WithLabelValues(realm).Inc()
}

// RecordSyntheticStep records a synthetic journey step
func RecordSyntheticStep(site, status string, d time.Duration) {
	syntheticSteps.WithLabelValues(site, status).Observe(d.Seconds())
}

// RecordInvocation counts a downstream invocation attempt
func RecordInvocation(target, result string) {
	invocations.WithLabelValues(target, result).Inc()
}

// SetMessagesInFlight sets the current in-flight message count
func SetMessagesInFlight(count int) {
	messagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// SetDBConnections sets the checked-out database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. The
// path label is the matched chi route pattern when there is one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
