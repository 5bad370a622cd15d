package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/projectrefill/refill-backend/api/controllers"
	"github.com/projectrefill/refill-backend/api/middleware"
	"github.com/projectrefill/refill-backend/internal/events"
	"github.com/projectrefill/refill-backend/internal/reconciliation"
	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          controllers.Pinger
	Idempotency    redis.IdempotencyStore
	Events         events.Service
	Inventory      controllers.InventoryReader
	Reconciliation reconciliation.Service
	Audit          controllers.AuditLister
	Gatherer       prometheus.Gatherer
	Clock          func() time.Time
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"postgres": deps.DB,
			"redis":    deps.Redis,
		}))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))
		r.Use(middleware.Idempotency(deps.Idempotency, cfg.Idempotency.TTL, logg))

		r.Route("/events", func(r chi.Router) {
			r.Get("/", controllers.EventList(deps.Events, logg))
			r.Post("/", controllers.EventCreate(deps.Events, logg))
			r.Get("/{eventId}", controllers.EventGet(deps.Events, logg))
			r.Put("/{eventId}/line-items", controllers.EventReplaceLineItems(deps.Events, logg))
			r.Post("/{eventId}/confirm", controllers.EventConfirm(deps.Events, logg))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/snapshots", controllers.SnapshotList(deps.Inventory, logg))
			r.Get("/ledger", controllers.LedgerList(deps.Inventory, logg))
			r.Get("/proof", controllers.PairProof(deps.Inventory, logg))
		})

		r.Route("/reconciliations", func(r chi.Router) {
			r.Get("/", controllers.ReconciliationList(deps.Reconciliation, logg))
			r.Post("/", controllers.ReconciliationRun(deps.Reconciliation, deps.Clock, logg))
			r.Get("/{runDate}", controllers.ReconciliationGet(deps.Reconciliation, logg))
		})

		r.Get("/audit", controllers.AuditList(deps.Audit, logg))
	})

	return r
}
