package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/cordonlabs/sentra/internal/adapter/otel"
	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/middleware"
)

// NewRouter builds the full HTTP surface: the guardian and orchestrator
// APIs, telemetry ingest and query, the kill switch, memory, change
// records, the service directory, health probes and the live log socket.
// kv enables Idempotency-Key deduplication on mutating requests and may be
// nil when NATS is not available.
func NewRouter(h *Handlers, cfg config.Config, kv jetstream.KeyValue) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.Server.RateLimit > 0 {
		r.Use(middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst).Handler)
	}
	if kv != nil {
		r.Use(middleware.Idempotency(kv))
	}
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.Server.CORSOrigin))
	r.Use(Logger)
	r.Use(middleware.SharedSecret(cfg.Server.SharedSecret))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/guardian", func(r chi.Router) {
			r.Post("/validate-action", h.ValidateAction)
			r.Post("/validate-plan", h.ValidatePlan)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.InvokeTask)
			r.Get("/", h.ListTasks)
			r.Get("/{id}", h.GetTask)
			r.Post("/{id}/approve", h.ApproveTask)
			r.Post("/{id}/replan", h.ReplanTask)
		})

		r.Post("/log/event", h.IngestLogEvent)
		r.Get("/logs", h.QueryLogs)

		r.Route("/control", func(r chi.Router) {
			r.Post("/kill", h.ControlKill)
			r.Get("/status", h.ControlStatus)
		})

		r.Route("/memory/{task_id}", func(r chi.Router) {
			r.Post("/", h.SaveMemory)
			r.Get("/", h.GetMemory)
		})

		r.Route("/changes", func(r chi.Router) {
			r.Get("/", h.ListChanges)
			r.Post("/", h.UpsertChange)
		})

	})

	// Directory endpoints stay flat so agent-side clients only need the
	// base URL.
	r.Post("/register", h.RegisterService)
	r.Post("/deregister", h.DeregisterService)
	r.Get("/discover", h.DiscoverService)
	r.Get("/list", h.ListServices)

	r.Get("/ws/logs", h.Hub.HandleWS)

	return r
}
