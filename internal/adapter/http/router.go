package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iho/schoolbilling/internal/adapter/http/handler"
	"github.com/iho/schoolbilling/internal/adapter/http/middleware"
	"github.com/iho/schoolbilling/internal/infrastructure/metrics"
	"github.com/iho/schoolbilling/internal/usecase"
)

// RouterConfig holds dependencies for the router. RateLimiter, IdempotencyStore,
// Metrics and MetricsHandler are optional.
type RouterConfig struct {
	PaymentHandler   *handler.PaymentHandler
	BillingHandler   *handler.BillingHandler
	ReportHandler    *handler.ReportHandler
	HealthHandler    *handler.HealthHandler
	Authenticator    *middleware.Authenticator
	RateLimiter      *middleware.RateLimiter
	IdempotencyStore usecase.IdempotencyStore
	Metrics          *metrics.Metrics
	MetricsHandler   http.Handler
	Logger           zerolog.Logger
	IdempotencyTTL   time.Duration
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cfg.Authenticator.Wrap)
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}

		// Billing records
		r.Route("/billing-records", func(r chi.Router) {
			r.With(middleware.RequirePaymentRole).Post("/", cfg.BillingHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.BillingHandler.Get)
				r.Get("/transactions", cfg.BillingHandler.ListTransactions)
				r.Get("/audit", cfg.BillingHandler.ListAudit)
				r.Get("/reconciliation", cfg.ReportHandler.ReconcileRecord)

				r.Route("/payments", func(r chi.Router) {
					r.Use(middleware.RequirePaymentRole)
					if cfg.IdempotencyStore != nil {
						r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger).Wrap)
					}

					r.Post("/full", cfg.PaymentHandler.RecordFull)
					r.Post("/partial", cfg.PaymentHandler.RecordPartial)
				})
			})
		})

		// School-wide reports
		r.Route("/billing", func(r chi.Router) {
			r.Get("/dashboard", cfg.ReportHandler.Dashboard)
			r.Get("/metrics", cfg.ReportHandler.Metrics)
			r.Get("/reconciliation", cfg.ReportHandler.ReconcileSchool)
		})
	})

	return r
}
