package controllers

import (
	"net/http"

	"github.com/estatelink/estatelink-backend/api/responses"
	"github.com/estatelink/estatelink-backend/pkg/config"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
	"github.com/estatelink/estatelink-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-EstateLink-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports readiness including the redis dependency when one is
// wired. The database is checked implicitly by the first request that hits it.
func HealthReady(cfg *config.Config, cache redis.Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-EstateLink-Env", cfg.App.Env)
		if cache != nil {
			if err := cache.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
