package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inalterahq/inaltera-backend/api/controllers"
	"github.com/inalterahq/inaltera-backend/api/middleware"
	"github.com/inalterahq/inaltera-backend/internal/audit"
	"github.com/inalterahq/inaltera-backend/internal/ledger"
	"github.com/inalterahq/inaltera-backend/internal/quota"
	"github.com/inalterahq/inaltera-backend/internal/rectification"
	"github.com/inalterahq/inaltera-backend/internal/verification"
	"github.com/inalterahq/inaltera-backend/pkg/config"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/redis"
)

// Deps groups everything the router wires into handlers.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	Redis        *redis.Client
	Pingers      map[string]controllers.Pinger
	Ledger       ledger.Service
	Rectify      rectification.Service
	Verify       verification.Service
	Quota        quota.Service
	Audit        audit.Service
	MetricsAlive bool
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	if deps.MetricsAlive {
		r.Handle("/metrics", promhttp.Handler())
	}

	verifyHandler := controllers.PublicVerify(deps.Verify, logg)
	if deps.Redis != nil {
		verifyPolicy := middleware.RateLimitPolicy{
			Name:   "verify",
			Window: cfg.RateLimit.VerifyWindow,
			Limit:  cfg.RateLimit.VerifyLimit,
		}
		verifyHandler = middleware.PublicRateLimit(verifyPolicy, deps.Redis, logg)(verifyHandler).ServeHTTP
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/verificar/{hash}", verifyHandler)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/ping", controllers.PrivatePing())

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", controllers.IssueInvoice(deps.Ledger, logg))
			r.Get("/", controllers.ListInvoices(deps.Ledger, logg))
			r.Get("/{entryId}", controllers.InvoiceDetail(deps.Ledger, logg))
			r.Post("/{entryId}/cancel", controllers.CancelInvoice(deps.Rectify, logg))
			r.Get("/{entryId}/traceability", controllers.InvoiceTraceability(deps.Ledger, logg))
		})

		r.Get("/quota", controllers.QuotaStatus(deps.Quota, logg))
		r.Get("/plans", controllers.Plans(deps.Quota, logg))
		r.Get("/audit", controllers.AuditList(deps.Audit, logg))
	})

	return r
}
