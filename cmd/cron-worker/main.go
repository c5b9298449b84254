package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/vcledger/internal/bootstrap"
	"github.com/angelmondragon/vcledger/internal/cron"
	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/metrics"
	"github.com/angelmondragon/vcledger/pkg/migrate"
	"github.com/angelmondragon/vcledger/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	services, err := bootstrap.NewServices(cfg, logg, dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, services)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.LockName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildRegistry registers jobs in run order: holds are swept before overdue
// invoices are closed, and chain verification runs after every writer.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services) (*cron.Registry, error) {
	sweep, err := cron.NewReservationSweepJob(cron.ReservationSweepJobParams{
		Logger:  logg,
		Sweeper: services.Reservations,
		TTL:     cfg.Reservation.TTL,
	})
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewInvoiceExpiryJob(cron.InvoiceExpiryJobParams{Logger: logg, Settlement: services.Settlement})
	if err != nil {
		return nil, err
	}
	resume, err := cron.NewSettlementResumeJob(cron.SettlementResumeJobParams{Logger: logg, Settlement: services.Settlement})
	if err != nil {
		return nil, err
	}
	verify, err := cron.NewChainVerifyJob(cron.ChainVerifyJobParams{Logger: logg, Ledger: services.Ledger})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    services.OutboxRepo,
		RetentionDays: cfg.Outbox.RetentionDays,
		BatchSize:     cfg.Outbox.RetentionBatch,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(sweep, expiry, resume, verify, retention), nil
}
