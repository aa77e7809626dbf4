// cmd/circulation/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"libracirc/internal/api"
	"libracirc/internal/audit"
	"libracirc/internal/circulation"
	"libracirc/internal/clients"
	"libracirc/internal/guard"
	"libracirc/internal/inventory"
	"libracirc/internal/membership"
	"libracirc/internal/platform/config"
	"libracirc/internal/platform/logger"
	"libracirc/internal/platform/metrics"
	"libracirc/internal/platform/tracing"
	"libracirc/internal/review"
	"libracirc/internal/snapshot"
	"libracirc/internal/store"
	"libracirc/internal/store/postgres"
)

const relayCursor = "kafka-audit"

func main() {
	config.LoadEnvFiles()
	cfg, err := config.FromEnv()
	log := logger.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("circulation service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, "libracirc-circulation", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	db, err := postgres.Open(ctx, cfg.DatabaseURL, 25, 5)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection OK")

	pg := postgres.New(db,
		postgres.WithLockTimeout(cfg.LockTimeout),
		postgres.WithInspector(guard.New(guard.WithLogger(log), guard.WithMetrics(m))),
		postgres.WithMetrics(m),
		postgres.WithLogger(log),
	)

	var st store.Store = pg
	health := []func(context.Context) error{pg.Ping}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		st = snapshot.New(pg, rdb, snapshot.WithTTL(cfg.SnapshotTTL), snapshot.WithLogger(log))
		log.Info("book snapshot cache enabled", "ttl", cfg.SnapshotTTL)
	}

	var directory membership.Directory
	if cfg.MembershipServiceURL != "" {
		directory = clients.NewMembershipClient(cfg.MembershipServiceURL)
		log.Info("using remote membership service", "url", cfg.MembershipServiceURL)
	} else {
		directory = membership.NewPostgresDirectory(db)
	}

	policy := circulation.DefaultPolicy()
	policy.FeePerDay = cfg.LateFeePerDay
	policy.MaxActiveLoans = cfg.MaxActiveLoans
	policy.MaxLoanPeriodDays = cfg.MaxLoanPeriodDays
	policy.DefaultPeriodDays = cfg.DefaultLoanPeriodDays
	policy.Location = cfg.Location

	services := api.Services{
		Inventory: inventory.NewService(st, directory, inventory.WithLogger(log), inventory.WithMetrics(m)),
		Lending: circulation.NewService(st, directory,
			circulation.WithPolicy(policy), circulation.WithLogger(log), circulation.WithMetrics(m)),
		Reviews:   review.NewService(st, directory, review.WithLogger(log), review.WithMetrics(m)),
		Directory: directory,
		Audit:     st,
	}

	var publisher audit.Publisher = audit.LogPublisher{Logger: log}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		health = append(health, kafka.Ping)
		publisher = kafka
		log.Info("relaying audit entries to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.AuditTopic)
	}
	relay := audit.NewRelay(pg, publisher, relayCursor,
		audit.WithBatchSize(cfg.AuditRelayBatch),
		audit.WithInterval(cfg.AuditRelayInterval),
		audit.WithRelayLogger(log),
		audit.WithRelayMetrics(m),
	)

	router := api.NewRouter(api.Config{
		JWTSecret:      cfg.JWTSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         log,
		Gatherer:       registry,
		Health: func(ctx context.Context) error {
			for _, check := range health {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}, services)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting circulation service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
