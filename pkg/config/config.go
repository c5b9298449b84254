package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	Reservation  ReservationConfig
	Settlement   SettlementConfig
	Credentials  CredentialsConfig
	Ecocash      EcocashConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VCLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"VCLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"VCLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VCLEDGER_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"VCLEDGER_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VCLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VCLEDGER_DB_DSN"`
	Driver string `envconfig:"VCLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VCLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"VCLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VCLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"VCLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"VCLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"VCLEDGER_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"VCLEDGER_SQLITE_PATH" default:"vcledger.db"`

	MaxOpenConns    int           `envconfig:"VCLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VCLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VCLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VCLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"VCLEDGER_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxMaxAttempts      int           `envconfig:"VCLEDGER_DB_TX_MAX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VCLEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VCLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"VCLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"VCLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VCLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VCLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VCLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VCLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VCLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"VCLEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"VCLEDGER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"VCLEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite      bool `envconfig:"VCLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate    bool `envconfig:"VCLEDGER_AUTO_MIGRATE" default:"false"`
	IssueQuoteVC   bool `envconfig:"VCLEDGER_FEATURE_QUOTE_VC" default:"true"`
	RequireWebhook bool `envconfig:"VCLEDGER_FEATURE_REQUIRE_WEBHOOK_SIGNATURE" default:"false"`
}

type LedgerConfig struct {
	// ProjectionCacheTTL bounds how long a cached stock level lives in Redis.
	ProjectionCacheTTL time.Duration `envconfig:"VCLEDGER_LEDGER_PROJECTION_CACHE_TTL" default:"10m"`
	VerifyBatchSize    int           `envconfig:"VCLEDGER_LEDGER_VERIFY_BATCH_SIZE" default:"500"`
}

type ReservationConfig struct {
	TTL time.Duration `envconfig:"VCLEDGER_RESERVATION_TTL" default:"30m"`
}

type SettlementConfig struct {
	QuoteValidity   time.Duration `envconfig:"VCLEDGER_QUOTE_VALIDITY" default:"15m"`
	InvoiceDueAfter time.Duration `envconfig:"VCLEDGER_INVOICE_DUE_AFTER" default:"24h"`
	DefaultCurrency string        `envconfig:"VCLEDGER_DEFAULT_CURRENCY" default:"USD"`
}

type CredentialsConfig struct {
	BaseURL             string        `envconfig:"VCLEDGER_CREDENTIALS_BASE_URL" required:"true"`
	APIKey              string        `envconfig:"VCLEDGER_CREDENTIALS_API_KEY"`
	Timeout             time.Duration `envconfig:"VCLEDGER_CREDENTIALS_TIMEOUT" default:"10s"`
	Format              string        `envconfig:"VCLEDGER_CREDENTIALS_FORMAT" default:"anoncreds"`
	QuoteDefinitionID   string        `envconfig:"VCLEDGER_CREDENTIALS_QUOTE_DEFINITION_ID"`
	InvoiceDefinitionID string        `envconfig:"VCLEDGER_CREDENTIALS_INVOICE_DEFINITION_ID" required:"true"`
	ReceiptDefinitionID string        `envconfig:"VCLEDGER_CREDENTIALS_RECEIPT_DEFINITION_ID" required:"true"`
}

type EcocashConfig struct {
	BaseURL       string        `envconfig:"VCLEDGER_ECOCASH_BASE_URL" required:"true"`
	APIKey        string        `envconfig:"VCLEDGER_ECOCASH_API_KEY"`
	WebhookSecret string        `envconfig:"VCLEDGER_ECOCASH_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"VCLEDGER_ECOCASH_TIMEOUT" default:"10s"`
	Reason        string        `envconfig:"VCLEDGER_ECOCASH_REASON" default:"Purchase"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"VCLEDGER_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
	OutboxIdempotencyTTL  time.Duration `envconfig:"VCLEDGER_EVENTING_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"VCLEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"VCLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic       string `envconfig:"VCLEDGER_PUBSUB_SETTLEMENT_TOPIC" default:"vc-settlement-events"`
	LedgerTopic           string `envconfig:"VCLEDGER_PUBSUB_LEDGER_TOPIC" default:"vc-ledger-events"`
	AnalyticsSubscription string `envconfig:"VCLEDGER_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"vc-analytics-sub"`
}

type BigQueryConfig struct {
	Dataset               string `envconfig:"VCLEDGER_BIGQUERY_DATASET" default:"vcledger"`
	SettlementEventsTable string `envconfig:"VCLEDGER_BIGQUERY_SETTLEMENT_EVENTS_TABLE" default:"settlement_events"`
	ChainAlertsTable      string `envconfig:"VCLEDGER_BIGQUERY_CHAIN_ALERTS_TABLE" default:"chain_alerts"`
	BatchSize             int    `envconfig:"VCLEDGER_BIGQUERY_BATCH_SIZE" default:"1"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VCLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VCLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VCLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"VCLEDGER_OUTBOX_RETENTION_DAYS" default:"30"`
	RetentionBatch int `envconfig:"VCLEDGER_OUTBOX_RETENTION_BATCH" default:"1000"`
}

// RateLimitConfig bounds request rates with Redis fixed windows. A zero limit
// disables the policy.
type RateLimitConfig struct {
	WebhookWindow time.Duration `envconfig:"VCLEDGER_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookLimit  int           `envconfig:"VCLEDGER_RATE_LIMIT_WEBHOOK_LIMIT" default:"300"`
	TenantWindow  time.Duration `envconfig:"VCLEDGER_RATE_LIMIT_TENANT_WINDOW" default:"1m"`
	TenantLimit   int           `envconfig:"VCLEDGER_RATE_LIMIT_TENANT_LIMIT" default:"600"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"VCLEDGER_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"VCLEDGER_CRON_LOCK_TTL" default:"5m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
