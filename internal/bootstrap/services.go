// Package bootstrap wires the domain services shared by the api and
// cron-worker binaries.
package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/vcledger/internal/inventory"
	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/internal/payments"
	"github.com/angelmondragon/vcledger/internal/reservation"
	"github.com/angelmondragon/vcledger/internal/settlement"
	"github.com/angelmondragon/vcledger/internal/stock"
	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/credentials"
	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/ecocash"
	"github.com/angelmondragon/vcledger/pkg/enums"
	"github.com/angelmondragon/vcledger/pkg/idempotency"
	"github.com/angelmondragon/vcledger/pkg/logger"
	"github.com/angelmondragon/vcledger/pkg/metrics"
	"github.com/angelmondragon/vcledger/pkg/outbox"
	"github.com/angelmondragon/vcledger/pkg/redis"
)

type Services struct {
	Outbox       *outbox.Service
	OutboxRepo   *outbox.Repository
	DeadLetters  *outbox.DLQRepository
	Ledger       ledger.Service
	Projector    *stock.Projector
	Inventory    inventory.Service
	Reservations reservation.Engine
	Settlement   settlement.Service
	Reconciler   *payments.Reconciler
	Ecocash      *ecocash.Client
}

// NewServices builds the service graph on top of an open database and redis
// client. Metrics are registered on reg.
func NewServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	if cfg == nil || dbClient == nil || redisClient == nil {
		return nil, fmt.Errorf("config, database and redis are required")
	}

	ledgerMetrics := metrics.NewLedgerMetrics(reg)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:              dbClient,
		Repo:            ledger.NewRepository(dbClient.DB()),
		Outbox:          outboxSvc,
		Metrics:         ledgerMetrics,
		Logger:          logg,
		VerifyBatchSize: cfg.Ledger.VerifyBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	projector, err := stock.NewProjector(dbClient.DB(), stock.NewRedisCache(redisClient, cfg.Ledger.ProjectionCacheTTL), logg)
	if err != nil {
		return nil, fmt.Errorf("stock projector: %w", err)
	}

	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repo:   inventory.NewRepository(dbClient.DB()),
		Ledger: ledgerSvc,
		Stock:  projector,
		Logger: logg,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}

	engine, err := reservation.NewEngine(reservation.EngineParams{
		DB:      dbClient.DB(),
		Ledger:  ledgerSvc,
		Stock:   projector,
		Metrics: ledgerMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("reservation engine: %w", err)
	}

	ecocashClient, err := ecocash.NewClient(cfg.Ecocash)
	if err != nil {
		return nil, fmt.Errorf("ecocash client: %w", err)
	}
	credentialClient, err := credentials.NewClient(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("credentials client: %w", err)
	}

	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		DB:              dbClient,
		Repo:            settlement.NewRepository(dbClient.DB()),
		Reservations:    engine,
		Credentials:     credentialClient,
		Gateway:         ecocashClient,
		Outbox:          outboxSvc,
		Metrics:         metrics.NewSettlementMetrics(reg),
		Logger:          logg,
		QuoteValidity:   cfg.Settlement.QuoteValidity,
		InvoiceDueAfter: cfg.Settlement.InvoiceDueAfter,
		DefaultCurrency: enums.Currency(cfg.Settlement.DefaultCurrency),
		IssueQuoteVC:    cfg.FeatureFlags.IssueQuoteVC,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook idempotency: %w", err)
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		Settlement: settlementSvc,
		Guard:      guard,
		Metrics:    metrics.NewWebhookMetrics(reg),
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payment reconciler: %w", err)
	}

	return &Services{
		Outbox:       outboxSvc,
		OutboxRepo:   outboxRepo,
		DeadLetters:  outbox.NewDLQRepository(dbClient.DB()),
		Ledger:       ledgerSvc,
		Projector:    projector,
		Inventory:    inventorySvc,
		Reservations: engine,
		Settlement:   settlementSvc,
		Reconciler:   reconciler,
		Ecocash:      ecocashClient,
	}, nil
}
