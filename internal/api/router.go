// Package api assembles the lending HTTP surface from the per-package handlers.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"libracirc/internal/audit"
	"libracirc/internal/circulation"
	"libracirc/internal/inventory"
	"libracirc/internal/membership"
	"libracirc/internal/platform/httpx"
	"libracirc/internal/platform/logger"
	"libracirc/internal/review"
	"libracirc/internal/store"
)

const Prefix = "/api/v1"

// Services are the workflows mounted under Prefix.
type Services struct {
	Inventory inventory.Service
	Lending   circulation.Service
	Reviews   review.Service
	Directory membership.Directory
	Audit     store.Reader
}

// Config controls the middleware chain. Zero values disable rate limiting,
// metrics and the health probe, and trust the X-Actor-Id header.
type Config struct {
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *slog.Logger
	Gatherer       prometheus.Gatherer
	Health         func(ctx context.Context) error
}

func NewRouter(cfg Config, svc Services) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	r := chi.NewRouter()
	r.Use(httpx.RequestIDMiddleware)
	r.Use(httpx.AccessLogMiddleware(log))
	r.Use(httpx.RecoveryMiddleware(log))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Health != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Health(ctx); err != nil {
				log.WarnContext(req.Context(), "health check failed", "error", err)
				httpx.JSONError(w, req, http.StatusServiceUnavailable, "UNHEALTHY", "dependency unavailable", nil)
				return
			}
		}
		httpx.JSONSuccess(w, req, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route(Prefix, func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(httpx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)
		}
		r.Use(httpx.ActorMiddleware(cfg.JWTSecret))

		inventory.NewHandler(svc.Inventory).Routes(r)
		circulation.NewHandler(svc.Lending).Routes(r)
		review.NewHandler(svc.Reviews).Routes(r)
		membership.NewHandler(svc.Directory).Routes(r)
		audit.NewHandler(svc.Audit, svc.Directory).Routes(r)
	})
	return r
}
