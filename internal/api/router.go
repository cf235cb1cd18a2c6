package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/circuitbreaker"
	"github.com/lalithlochan/pulse/internal/metrics"
)

// HealthFunc reports whether the service's dependencies are reachable.
type HealthFunc func(r *http.Request) error

// CircuitReporter exposes a breaker's counters on /health.
type CircuitReporter interface {
	Stats() circuitbreaker.Stats
}

// HealthReport is the /health body.
type HealthReport struct {
	Status   string                 `json:"status"`
	Circuits []circuitbreaker.Stats `json:"circuits"`
}

// NewRouter wires the HTTP surface. limiter and health may be nil.
func NewRouter(h *Handler, limiter Limiter, health HealthFunc, logger *zap.Logger, circuits ...CircuitReporter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(CORS)
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Post("/notifications", h.CreateNotification)
	r.With(RateLimitMiddleware(limiter, logger, SourceKeyFunc)).Post("/webhooks", h.ReceiveWebhook)
	r.HandleFunc("/topics/subscribers", h.TopicSubscribers)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		report := HealthReport{Status: "ok", Circuits: make([]circuitbreaker.Stats, 0, len(circuits))}
		for _, c := range circuits {
			report.Circuits = append(report.Circuits, c.Stats())
		}
		h.writeJSON(w, http.StatusOK, report)
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
