package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/joho/godotenv"

	"github.com/jbelamor/donormark-backend/internal/registry"
	"github.com/jbelamor/donormark-backend/internal/repair"
	"github.com/jbelamor/donormark-backend/pkg/config"
	"github.com/jbelamor/donormark-backend/pkg/db"
	"github.com/jbelamor/donormark-backend/pkg/logger"
)

// repair normalizes legacy registry records in place: missing visibility
// flags, all-hidden wall entries, and bound handles without a stored value.
func main() {
	logg := logger.New(logger.Options{ServiceName: "repair"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "repair",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
	})

	var store registry.Store
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
		defer dbClient.Close()

		store, err = registry.NewDBStore(dbClient.DB(), logg, nil)
		if err != nil {
			logg.Error(context.Background(), "failed to create registry db store", err)
			os.Exit(1)
		}
	default:
		fileStore, err := registry.NewFileStore(cfg.Registry.FilePath, logg, nil)
		if err != nil {
			logg.Error(context.Background(), "failed to create registry file store", err)
			os.Exit(1)
		}
		store = fileStore
	}

	svc, err := repair.NewService(repair.ServiceParams{
		Registry: registry.New(store),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create repair service", err)
		os.Exit(1)
	}

	report, runErr := svc.Run(context.Background())

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		logg.Error(context.Background(), "failed to print report", err)
	}

	if runErr != nil {
		logg.Error(context.Background(), "repair finished with unrepairable records", runErr)
		os.Exit(1)
	}
}
