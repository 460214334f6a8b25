// Command queue runs the run_queue subcommand: a supervisor process that
// claims and executes jobs from the durable queue until it receives
// SIGINT/SIGTERM (after which it drains in-flight work before exiting) or
// until a background component crashes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/rezkam/dbqueue/internal/config"
	"github.com/rezkam/dbqueue/internal/handlerregistry"
	"github.com/rezkam/dbqueue/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/dbqueue/internal/supervisor"
	"github.com/rezkam/dbqueue/pkg/observability"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] != "run_queue" {
		log.Fatalf("usage: %s run_queue [--rescan-period seconds] [--job-runners n]", os.Args[0])
	}

	// -1 means "flag not supplied" so an explicit --rescan-period 0 (which
	// disables the periodic waker, per spec) is distinguishable from the
	// flag being absent entirely.
	const notSupplied = -1
	fs := flag.NewFlagSet("run_queue", flag.ExitOnError)
	rescanPeriod := fs.Int("rescan-period", notSupplied, "seconds between periodic run-event wake-ups (default 60); 0 disables the periodic waker")
	jobRunners := fs.Int("job-runners", notSupplied, "number of concurrent claim-loop workers (default 1); must be at least 1")
	_ = fs.Parse(os.Args[2:])

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if *rescanPeriod != notSupplied {
		cfg.RescanPeriod = time.Duration(*rescanPeriod) * time.Second
	}
	if *jobRunners != notSupplied {
		cfg.JobRunners = *jobRunners
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	tp, err := observability.InitTracerProvider(ctx, "dbqueue", cfg.Observability.OTelEnabled)
	if err != nil {
		log.Fatalf("failed to init tracer provider: %v", err)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	mp, err := observability.InitMeterProvider(ctx, "dbqueue", cfg.Observability.OTelEnabled)
	if err != nil {
		log.Fatalf("failed to init meter provider: %v", err)
	}
	defer func() { _ = mp.Shutdown(ctx) }()

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		ChannelName:     cfg.ChannelName,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	registry := handlerregistry.New()
	registerBuiltinHandlers(registry)

	slog.InfoContext(ctx, "starting run_queue",
		"job_runners", cfg.JobRunners,
		"rescan_period", cfg.RescanPeriod,
		"notifications_enabled", cfg.NotificationsEnabled,
		"channel", cfg.ChannelName)

	err = supervisor.Run(ctx, supervisor.Deps{
		Store:    store,
		Pool:     store.Pool(),
		Registry: registry,
		Config:   cfg,
	})
	if err != nil {
		slog.ErrorContext(ctx, "run_queue exiting with error", "error", err)
		os.Exit(1)
	}
}

func registerBuiltinHandlers(registry *handlerregistry.Registry) {
	registry.Register("noop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})
	registry.Register("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("echo: expected at least one positional argument")
		}
		return args[0], nil
	})
}
