package config

const (
	EnvPrefix = "VCLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "VCLEDGER_APP_ENV"
	EnvPort     = "VCLEDGER_APP_PORT"
	EnvLogLevel = "VCLEDGER_LOG_LEVEL"

	EnvDBDSN  = "VCLEDGER_DB_DSN"
	EnvDBHost = "VCLEDGER_DB_HOST"
	EnvDBUser = "VCLEDGER_DB_USER"
	EnvDBName = "VCLEDGER_DB_NAME"

	EnvUseSQLite = "VCLEDGER_USE_SQLITE"

	EnvRedisURL = "VCLEDGER_REDIS_URL"

	EnvJWTSecret = "VCLEDGER_JWT_SECRET"
	EnvJWTIssuer = "VCLEDGER_JWT_ISSUER"

	EnvCredentialsBaseURL      = "VCLEDGER_CREDENTIALS_BASE_URL"
	EnvCredentialsInvoiceDefID = "VCLEDGER_CREDENTIALS_INVOICE_DEFINITION_ID"
	EnvCredentialsReceiptDefID = "VCLEDGER_CREDENTIALS_RECEIPT_DEFINITION_ID"

	EnvEcocashBaseURL = "VCLEDGER_ECOCASH_BASE_URL"

	EnvReservationTTL = "VCLEDGER_RESERVATION_TTL"
	EnvQuoteValidity  = "VCLEDGER_QUOTE_VALIDITY"
)

var legacyDBEnvVars = []string{
	EnvDBHost,
	EnvDBUser,
	EnvDBName,
}
