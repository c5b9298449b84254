package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/vcledger/api/controllers"
	webhookcontrollers "github.com/angelmondragon/vcledger/api/controllers/webhooks"
	"github.com/angelmondragon/vcledger/api/middleware"
	"github.com/angelmondragon/vcledger/internal/inventory"
	"github.com/angelmondragon/vcledger/internal/ledger"
	"github.com/angelmondragon/vcledger/internal/reservation"
	"github.com/angelmondragon/vcledger/internal/settlement"
	"github.com/angelmondragon/vcledger/pkg/config"
	"github.com/angelmondragon/vcledger/pkg/db"
	"github.com/angelmondragon/vcledger/pkg/enums"
	"github.com/angelmondragon/vcledger/pkg/logger"
	pkgredis "github.com/angelmondragon/vcledger/pkg/redis"
)

// CacheClient is the redis surface the HTTP layer needs.
type CacheClient interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

type Dependencies struct {
	DB              db.Pinger
	Cache           CacheClient
	Inventory       inventory.Service
	Ledger          ledger.Service
	Reservations    reservation.Engine
	Settlement      settlement.Service
	Reconciler      webhookcontrollers.Reconciler
	WebhookVerifier webhookcontrollers.SignatureVerifier
	DeadLetters     controllers.DeadLetters
	MetricsHandler  http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	webhookPolicy := middleware.RateLimitPolicy{
		Name:    "webhook",
		Window:  cfg.RateLimit.WebhookWindow,
		Limit:   cfg.RateLimit.WebhookLimit,
		KeyFunc: middleware.ByClientIP,
	}
	tenantPolicy := middleware.RateLimitPolicy{
		Name:    "tenant",
		Window:  cfg.RateLimit.TenantWindow,
		Limit:   cfg.RateLimit.TenantLimit,
		KeyFunc: middleware.ByTenant,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Cache))
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, deps.Cache, logg))
		r.Post("/ecocash", webhookcontrollers.EcocashWebhook(deps.Reconciler, deps.WebhookVerifier, cfg.FeatureFlags.RequireWebhook, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(tenantPolicy, deps.Cache, logg))
		r.Use(middleware.Idempotency(deps.Cache, logg))

		r.Route("/inventory", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, enums.ActorRoleOperator))
				r.Post("/locations", controllers.CreateLocation(deps.Inventory, logg))
				r.Post("/locations/{locationId}/deactivate", controllers.DeactivateLocation(deps.Inventory, logg))
				r.Post("/receipts", controllers.ReceiveGoods(deps.Inventory, logg))
				r.Post("/adjustments", controllers.AdjustStock(deps.Inventory, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, enums.ActorRoleOperator, enums.ActorRoleCashier, enums.ActorRoleAuditor))
				r.Get("/locations", controllers.ListLocations(deps.Inventory, logg))
				r.Get("/lots", controllers.ListLots(deps.Inventory, logg))
				r.Get("/lots/{lotId}", controllers.GetLot(deps.Inventory, logg))
				r.Get("/levels", controllers.GetStockLevel(deps.Inventory, logg))
			})
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Use(middleware.RequireRoles(logg, enums.ActorRoleOperator, enums.ActorRoleCashier))
			r.Post("/", controllers.Reserve(deps.Reservations, logg))
			r.Post("/{cartId}/release", controllers.ReleaseReservation(deps.Reservations, logg))
			r.Post("/{cartId}/fulfill", controllers.FulfillReservation(deps.Reservations, logg))
		})

		r.Route("/carts", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, enums.ActorRoleOperator, enums.ActorRoleCashier))
				r.Post("/", controllers.CreateCart(deps.Settlement, logg))
				r.Post("/{cartId}/items", controllers.AddCartItem(deps.Settlement, logg))
				r.Post("/{cartId}/quote", controllers.IssueQuote(deps.Settlement, logg))
				r.Post("/{cartId}/checkout", controllers.Checkout(deps.Settlement, logg))
				r.Post("/{cartId}/cancel", controllers.CancelCart(deps.Settlement, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, enums.ActorRoleOperator, enums.ActorRoleCashier, enums.ActorRoleAuditor))
				r.Get("/{cartId}", controllers.GetCart(deps.Settlement, logg))
				r.Get("/{cartId}/audit", controllers.CartAudit(deps.Settlement, logg))
			})
		})

		r.Route("/ledger/{tenantId}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, enums.ActorRoleOperator, enums.ActorRoleAuditor))
				r.Get("/head", controllers.ChainHead(deps.Ledger, logg))
				r.Get("/events", controllers.ListChainEvents(deps.Ledger, logg))
				r.Get("/verify", controllers.VerifyChain(deps.Ledger, logg))
			})
			r.With(middleware.RequireRoles(logg)).Post("/resume", controllers.ResumeChain(deps.Ledger, logg))
		})

		r.Route("/admin/outbox/dlq", func(r chi.Router) {
			r.Use(middleware.RequireRoles(logg))
			r.Get("/", controllers.ListDeadLetters(deps.DeadLetters, logg))
			r.Post("/{eventId}/requeue", controllers.RequeueDeadLetter(deps.DeadLetters, logg))
		})
	})

	return r
}
