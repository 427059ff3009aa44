package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/membership-portal/api/controllers"
	catalogcontrollers "github.com/angelmondragon/membership-portal/api/controllers/catalog"
	creditcontrollers "github.com/angelmondragon/membership-portal/api/controllers/credits"
	ordercontrollers "github.com/angelmondragon/membership-portal/api/controllers/orders"
	pickupcontrollers "github.com/angelmondragon/membership-portal/api/controllers/pickups"
	"github.com/angelmondragon/membership-portal/api/middleware"
	"github.com/angelmondragon/membership-portal/internal/catalog"
	checkoutsvc "github.com/angelmondragon/membership-portal/internal/checkout"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/internal/orders"
	"github.com/angelmondragon/membership-portal/internal/pickups"
	"github.com/angelmondragon/membership-portal/pkg/auth/session"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
)

// RedisStore is the Redis surface the HTTP layer needs.
type RedisStore interface {
	middleware.ReplayStore
	Ping(ctx context.Context) error
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Params wires the HTTP surface. Sessions may be nil to skip session revocation checks.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       RedisStore
	Sessions    session.Verifier
	Catalog     catalog.Service
	Checkout    checkoutsvc.Service
	Orders      orders.Service
	Pickups     pickups.Service
	Ledger      ledger.Service
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idempotencyStore middleware.ReplayStore
		limiter          RedisStore
		deps             = map[string]controllers.Pinger{}
	)
	if p.DB != nil {
		deps["database"] = p.DB
	}
	if p.Redis != nil {
		idempotencyStore = p.Redis
		limiter = p.Redis
		deps["redis"] = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	authenticate := middleware.Auth(cfg.JWT, p.Sessions, logg)
	idempotent := middleware.Idempotency(idempotencyStore, logg)

	r.Route("/api/v1/store", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(middleware.IPRateLimit(cfg.RateLimit.PublicIPLimit, cfg.RateLimit.PublicWindow, limiter, logg))
			}
			r.Use(middleware.OptionalAuth(cfg.JWT, p.Sessions, logg))

			r.Get("/collection", catalogcontrollers.ListCollections(p.Catalog, logg))
			r.Get("/collection/{uuid}", catalogcontrollers.GetCollection(p.Catalog, logg))
			r.Get("/merchandise/{uuid}", catalogcontrollers.GetItem(p.Catalog, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate, idempotent)

			r.Get("/order", ordercontrollers.List(p.Orders, logg))
			r.Post("/order", ordercontrollers.Place(p.Checkout, logg))
			r.Get("/order/{uuid}", ordercontrollers.Detail(p.Orders, logg))
			r.Post("/order/{uuid}/cancel", ordercontrollers.Cancel(p.Orders, logg))

			r.Get("/order/pickup/future", pickupcontrollers.ListFuture(p.Pickups, logg))
			r.Get("/order/pickup/past", pickupcontrollers.ListPast(p.Pickups, logg))
			r.Get("/order/pickup/{uuid}", pickupcontrollers.Get(p.Pickups, logg))

			r.Get("/credits/history", creditcontrollers.History(p.Ledger, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate, middleware.RequireAdmin(logg), idempotent)

			r.Post("/collection", catalogcontrollers.CreateCollection(p.Catalog, logg))
			r.Patch("/collection/{uuid}", catalogcontrollers.EditCollection(p.Catalog, logg))
			r.Delete("/collection/{uuid}", catalogcontrollers.DeleteCollection(p.Catalog, logg))

			r.Post("/merchandise", catalogcontrollers.CreateItem(p.Catalog, logg))
			r.Patch("/merchandise/{uuid}", catalogcontrollers.EditItem(p.Catalog, logg))
			r.Delete("/merchandise/{uuid}", catalogcontrollers.DeleteItem(p.Catalog, logg))
			r.Post("/merchandise/{uuid}/option", catalogcontrollers.CreateOption(p.Catalog, logg))
			r.Patch("/merchandise/option/{uuid}", catalogcontrollers.EditOption(p.Catalog, logg))
			r.Delete("/merchandise/option/{uuid}", catalogcontrollers.DeleteOption(p.Catalog, logg))
			r.Post("/merchandise/option/{uuid}/restock", catalogcontrollers.Restock(p.Catalog, logg))

			r.Patch("/order", ordercontrollers.Fulfill(p.Orders, logg))
			r.Patch("/order/{uuid}", ordercontrollers.Fulfill(p.Orders, logg))

			r.Post("/order/pickup", pickupcontrollers.Create(p.Pickups, logg))
			r.Patch("/order/pickup/{uuid}", pickupcontrollers.Edit(p.Pickups, logg))
			r.Delete("/order/pickup/{uuid}", pickupcontrollers.Delete(p.Pickups, logg))
			r.Post("/order/pickup/{uuid}/cancel", pickupcontrollers.Cancel(p.Pickups, logg))
			r.Post("/order/pickup/{uuid}/complete", pickupcontrollers.Complete(p.Pickups, logg))
		})
	})

	return r
}
