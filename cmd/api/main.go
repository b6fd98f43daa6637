package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jbelamor/donormark-backend/api/controllers"
	"github.com/jbelamor/donormark-backend/api/routes"
	"github.com/jbelamor/donormark-backend/internal/donations"
	"github.com/jbelamor/donormark-backend/internal/identity"
	"github.com/jbelamor/donormark-backend/internal/orders"
	"github.com/jbelamor/donormark-backend/internal/registry"
	stripewebhook "github.com/jbelamor/donormark-backend/internal/webhooks/stripe"
	"github.com/jbelamor/donormark-backend/pkg/config"
	"github.com/jbelamor/donormark-backend/pkg/db"
	"github.com/jbelamor/donormark-backend/pkg/logger"
	"github.com/jbelamor/donormark-backend/pkg/metrics"
	"github.com/jbelamor/donormark-backend/pkg/migrate"
	"github.com/jbelamor/donormark-backend/pkg/redis"
	"github.com/jbelamor/donormark-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	collector := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)

	var store registry.Store
	var dbPinger controllers.Pinger
	switch cfg.Registry.NormalizedBackend() {
	case config.RegistryBackendDB:
		if cfg.FeatureFlags.UseSQLite {
			cfg.DB.Driver = "sqlite"
		}
		dbClient, err := db.New(context.Background(), cfg.DB, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap database", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}()

		if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
			logg.Error(context.Background(), "failed to run dev migrations", err)
			os.Exit(1)
		}

		store, err = registry.NewDBStore(dbClient.DB(), logg, collector)
		if err != nil {
			logg.Error(context.Background(), "failed to create registry db store", err)
			os.Exit(1)
		}
		dbPinger = dbClient
	default:
		fileStore, err := registry.NewFileStore(cfg.Registry.FilePath, logg, collector)
		if err != nil {
			logg.Error(context.Background(), "failed to create registry file store", err)
			os.Exit(1)
		}
		store = fileStore
	}
	reg := registry.New(store)

	var redisClient *redis.Client
	var redisPinger controllers.Pinger
	if cfg.Redis.URL != "" || cfg.Redis.Address != "" {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisPinger = redisClient
	}

	var stripeClient *stripe.Client
	if cfg.Stripe.APIKey != "" {
		stripeClient, err = stripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap stripe", err)
			os.Exit(1)
		}
	}

	donationService, err := donations.NewService(donations.ServiceParams{
		Registry:   reg,
		MarkSecret: cfg.Registry.MarkSecret,
		Metrics:    collector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create donation service", err)
		os.Exit(1)
	}

	identityService, err := identity.NewService(identity.ServiceParams{
		Registry:          reg,
		DisposableDomains: cfg.Identity.DisposableDomains,
		AllowHandleChange: cfg.Identity.AllowHandleChange,
		Metrics:           collector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create identity service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Registry:  reg,
		Donations: donationService,
		Processor: stripeClient,
		Metrics:   collector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	var webhookGuard *stripewebhook.IdempotencyGuard
	if redisClient != nil {
		webhookGuard, err = stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.WebhookIdemTTL, "stripe")
		if err != nil {
			logg.Error(context.Background(), "failed to create webhook guard", err)
			os.Exit(1)
		}
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Settler: orderService,
		Guard:   webhookGuard,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"addr":    addr,
		"backend": cfg.Registry.NormalizedBackend(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:        cfg,
			Logger:        logg,
			DBPinger:      dbPinger,
			RedisP:        redisPinger,
			Donations:     donationService,
			Identity:      identityService,
			Orders:        orderService,
			StripeClient:  stripeClient,
			StripeWebhook: webhookService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
