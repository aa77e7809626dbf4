// cmd/membership/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"libracirc/internal/api"
	"libracirc/internal/membership"
	"libracirc/internal/platform/config"
	"libracirc/internal/platform/httpx"
	"libracirc/internal/platform/logger"
	"libracirc/internal/store/postgres"
)

// The membership service answers directory lookups for circulation
// instances started with MEMBERSHIP_SERVICE_URL=http://<host>:8083/api/v1.
func main() {
	config.LoadEnvFiles()
	cfg, err := config.FromEnv()
	log := logger.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	addr := os.Getenv("MEMBERSHIP_ADDR")
	if addr == "" {
		addr = ":8083"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL, 10, 2)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	r := chi.NewRouter()
	r.Use(httpx.RequestIDMiddleware)
	r.Use(httpx.AccessLogMiddleware(log))
	r.Use(httpx.RecoveryMiddleware(log))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			httpx.JSONError(w, req, http.StatusServiceUnavailable, "UNHEALTHY", "database unavailable", nil)
			return
		}
		httpx.JSONSuccess(w, req, map[string]string{"status": "ok"})
	})
	r.Route(api.Prefix, membership.NewHandler(membership.NewPostgresDirectory(db)).Routes)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting membership service", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("membership service stopped", "error", err)
		os.Exit(1)
	}
}
