package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jbelamor/donormark-backend/api/controllers"
	webhookcontrollers "github.com/jbelamor/donormark-backend/api/controllers/webhooks"
	"github.com/jbelamor/donormark-backend/api/middleware"
	"github.com/jbelamor/donormark-backend/internal/donations"
	"github.com/jbelamor/donormark-backend/internal/identity"
	"github.com/jbelamor/donormark-backend/internal/orders"
	stripewebhook "github.com/jbelamor/donormark-backend/internal/webhooks/stripe"
	"github.com/jbelamor/donormark-backend/pkg/config"
	"github.com/jbelamor/donormark-backend/pkg/logger"
	"github.com/jbelamor/donormark-backend/pkg/stripe"
)

type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DBPinger controllers.Pinger
	RedisP   controllers.Pinger

	Donations *donations.Service
	Identity  *identity.Service
	Orders    *orders.Service

	StripeClient  *stripe.Client
	StripeWebhook *stripewebhook.Service

	Gatherer prometheus.Gatherer
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadinessChecks(deps.DBPinger, deps.RedisP)))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeClient, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/donations", func(r chi.Router) {
			r.Get("/", controllers.DonationsWall(deps.Donations, logg))
			r.Post("/", controllers.DonationsRecord(deps.Donations, logg))
			r.Post("/intent", controllers.DonationsIntent(deps.StripeClient, logg))
		})

		r.Get("/payments/confirm", controllers.DonationsConfirm(deps.Orders, deps.StripeClient, logg))

		r.Route("/handles", func(r chi.Router) {
			r.Get("/{handle}/available", controllers.IdentityHandleAvailable(deps.Identity, logg))
			r.Post("/claim", controllers.IdentityClaim(deps.Identity, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrdersCreate(deps.Orders, logg))
			r.Get("/{orderID}", controllers.OrdersGet(deps.Orders, logg))
			r.Post("/{orderID}/intent", controllers.OrdersAttachIntent(deps.Orders, logg))
			r.Post("/{orderID}/reconcile", controllers.OrdersReconcile(deps.Orders, logg))
		})
	})

	return r
}
