package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/vcledger/api/responses"
	"github.com/angelmondragon/vcledger/pkg/config"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

const (
	envHeader    = "X-Vcledger-Env"
	readyTimeout = 2 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when the database and redis answer a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, db pinger, cache pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		failed := false
		if db == nil || db.Ping(ctx) != nil {
			checks["database"] = "unavailable"
			failed = true
		}
		if cache == nil || cache.Ping(ctx) != nil {
			checks["redis"] = "unavailable"
			failed = true
		}
		if failed {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
