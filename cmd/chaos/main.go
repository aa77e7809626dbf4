// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libracirc/internal/chaos"
	"libracirc/internal/clients"
	"libracirc/internal/membership"
	"libracirc/internal/platform/config"
	"libracirc/internal/platform/logger"
	"libracirc/internal/platform/tracing"
	"libracirc/internal/store/postgres"
)

func main() {
	var (
		target  = flag.String("target", "http://localhost:8080/api/v1", "Base URL of the lending API")
		readers = flag.Int("readers", 10, "Synthetic readers to register")
		rps     = flag.Float64("rps", 200, "Request rate across all workers")
		workers = flag.Int("workers", 32, "Maximum in-flight requests")
		window  = flag.Duration("window", 10*time.Second, "Observation window per experiment")
		pause   = flag.Duration("pause", 30*time.Second, "Pause between experiments")
		report  = flag.String("report", "", "Write the JSON results to this file")
	)
	flag.Parse()

	config.LoadEnvFiles()
	cfg, err := config.FromEnv()
	log := logger.NewWithWriter(os.Stdout, cfg.LogLevel, "text")
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := tracing.Setup(ctx, "libracirc-chaos", cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdown(context.Background()) }()

	// The target trusts X-Actor-Id, so members are registered straight in
	// the shared members table.
	db, err := postgres.Open(ctx, cfg.DatabaseURL, 4, 2)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	fixture, err := registerMembers(ctx, membership.NewPostgresDirectory(db), *readers)
	if err != nil {
		log.Error("failed to register chaos members", "error", err)
		os.Exit(1)
	}

	suite, err := chaos.NewSuite(clients.NewLendingClient(*target), fixture,
		chaos.WithRate(*rps, *workers),
		chaos.WithWorkers(*workers),
		chaos.WithWindow(*window),
		chaos.WithSuiteLogger(log),
	)
	if err != nil {
		log.Error("invalid chaos fixture", "error", err)
		os.Exit(1)
	}

	engine := chaos.NewEngine(chaos.WithLogger(log), chaos.WithPause(*pause))
	engine.Register(suite.All()...)
	gameDayErr := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:         "Weekly Lending Game Day",
		Date:         time.Now(),
		Scenarios:    engine.Experiments(),
		Participants: []string{"circulation"},
	})

	if *report != "" {
		if err := writeReport(*report, engine.Results()); err != nil {
			log.Error("failed to write report", "error", err)
		}
	}
	if gameDayErr != nil {
		log.Error("game day failed", "error", gameDayErr)
		os.Exit(1)
	}
	log.Info("game day passed", "experiments", len(engine.Results()))
}

func registerMembers(ctx context.Context, registry membership.Registry, readers int) (chaos.Fixture, error) {
	run := uuid.NewString()[:8]
	staff, err := registry.RegisterMember(ctx, membership.Member{
		Email: fmt.Sprintf("chaos-staff-%s@example.invalid", run),
		Name:  "Chaos Staff",
		Role:  membership.RoleStaff,
	})
	if err != nil {
		return chaos.Fixture{}, err
	}
	f := chaos.Fixture{Staff: staff.ID}
	for i := 0; i < readers; i++ {
		m, err := registry.RegisterMember(ctx, membership.Member{
			Email: fmt.Sprintf("chaos-reader-%s-%d@example.invalid", run, i),
			Name:  fmt.Sprintf("Chaos Reader %d", i),
			Role:  membership.RoleMember,
		})
		if err != nil {
			return chaos.Fixture{}, err
		}
		f.Readers = append(f.Readers, m.ID)
	}
	return f, nil
}

func writeReport(path string, results []chaos.Result) error {
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
