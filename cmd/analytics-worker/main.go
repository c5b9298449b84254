package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/vcledger/internal/analytics/router"
	"github.com/angelmondragon/vcledger/internal/analytics/types"
	"github.com/angelmondragon/vcledger/internal/analytics/worker"
	"github.com/angelmondragon/vcledger/internal/analytics/writer"
	"github.com/angelmondragon/vcledger/pkg/bigquery"
	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/idempotency"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/pubsub"
	"github.com/angelmondragon/vcledger/pkg/redis"
)

const flushTimeout = 10 * time.Second

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "analytics-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "analytics-worker"

	logg = logger.New(logger.Options{
		ServiceName: "analytics-worker",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()
	requireResource(ctx, logg, "analytics subscription", pubsubClient.EnsureSubscription(ctx, cfg.PubSub.AnalyticsSubscription))

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	err = bqClient.EnsureTables(ctx,
		bigquery.TableSpec{Name: cfg.BigQuery.SettlementEventsTable, Schema: types.SettlementEventSchema(), PartitionField: "occurred_at"},
		bigquery.TableSpec{Name: cfg.BigQuery.ChainAlertsTable, Schema: types.ChainAlertSchema(), PartitionField: "occurred_at"},
	)
	requireResource(ctx, logg, "bigquery export tables", err)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "analytics subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	exportWriter, err := writer.New(bqClient, writer.Config{
		SettlementTable: cfg.BigQuery.SettlementEventsTable,
		ChainAlertTable: cfg.BigQuery.ChainAlertsTable,
		BatchSize:       cfg.BigQuery.BatchSize,
	})
	requireResource(ctx, logg, "analytics bigquery writer", err)

	routingHandler, err := router.NewRouter(exportWriter, logg, nil)
	requireResource(ctx, logg, "analytics router", err)

	service, err := worker.NewService(subscription, routingHandler, manager, logg)
	requireResource(ctx, logg, "analytics worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "analytics worker ready")

	runErr := service.Run(runCtx)

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := exportWriter.Flush(flushCtx); err != nil {
		logg.Error(flushCtx, "failed to flush buffered analytics rows", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", runErr)
		os.Exit(1)
	}
	logg.Info(runCtx, "analytics worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
