package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/support-copilot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/support-copilot/internal/http/middleware"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes
// unmounted.
type Config struct {
	Logger         *logging.Logger
	Health         *handlers.HealthHandler
	Ingest         *handlers.IngestHandler
	QueueAdmin     *handlers.QueueAdminHandler
	Status         *handlers.StatusHandler
	Drafts         *handlers.DraftsHandler
	MetricsHandler http.Handler

	// Queue admin routes are mounted only when a secret is set.
	AdminAuthSecret   string
	AdminAuthAudience string

	// Optional per-client limiter on message intake.
	IngestLimiter *httpmiddleware.RateLimiter

	RequestTimeout time.Duration
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Health)
		} else {
			public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"status":"ok"}`))
			})
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.Ingest != nil {
			v1.With(httpmiddleware.RateLimit(cfg.IngestLimiter)).Post("/messages", cfg.Ingest.Ingest)
		}
		if cfg.Status != nil {
			v1.Get("/messages/{messageID}/status", cfg.Status.GetStatus)
		}
		if cfg.Drafts != nil {
			v1.Get("/drafts", cfg.Drafts.List)
			v1.Get("/drafts/{draftID}", cfg.Drafts.Get)
		}

		// Queue administration (operator JWT)
		if cfg.QueueAdmin != nil && cfg.AdminAuthSecret != "" {
			v1.Route("/queue", func(admin chi.Router) {
				admin.Use(httpmiddleware.OperatorJWT(cfg.AdminAuthSecret, cfg.AdminAuthAudience))
				admin.Get("/", cfg.QueueAdmin.List)
				admin.Post("/export", cfg.QueueAdmin.Export)
				admin.Post("/import", cfg.QueueAdmin.Import)
				admin.Post("/drain", cfg.QueueAdmin.Drain)
			})
		} else if cfg.QueueAdmin != nil && cfg.Logger != nil {
			cfg.Logger.Warn("queue admin routes disabled: ADMIN_JWT_SECRET not set")
		}
	})

	return r
}
