package controllers

import (
	"context"
	"net/http"

	"github.com/jbelamor/donormark-backend/api/responses"
	"github.com/jbelamor/donormark-backend/pkg/config"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/logger"
)

const envHeader = "X-DonorMark-Env"

type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the wired dependencies. Nil checks are skipped, so the
// file-backed deployment with no redis stays ready with zero checks.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx := r.Context()

		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dependency not ready").
						WithDetails(map[string]any{"check": name}))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}

// ReadinessChecks builds the name-to-pinger map the ready endpoint walks.
func ReadinessChecks(dbP Pinger, redisP Pinger) map[string]Pinger {
	checks := map[string]Pinger{}
	if dbP != nil {
		checks["db"] = dbP
	}
	if redisP != nil {
		checks["redis"] = redisP
	}
	return checks
}
