package config

const (
	EnvPrefix = "STOCKLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "STOCKLEDGER_APP_ENV"
	EnvPort     = "STOCKLEDGER_APP_PORT"
	EnvLogLevel = "STOCKLEDGER_LOG_LEVEL"

	EnvDBDSN  = "STOCKLEDGER_DB_DSN"
	EnvDBHost = "STOCKLEDGER_DB_HOST"
	EnvDBUser = "STOCKLEDGER_DB_USER"
	EnvDBName = "STOCKLEDGER_DB_NAME"

	EnvRedisURL = "STOCKLEDGER_REDIS_URL"

	EnvReservationTTL  = "STOCKLEDGER_RESERVATION_TTL"
	EnvReaperInterval  = "STOCKLEDGER_REAPER_INTERVAL"
	EnvReaperBatchSize = "STOCKLEDGER_REAPER_BATCH_SIZE"

	EnvPaymentWebhookSecret = "STOCKLEDGER_PAYMENT_WEBHOOK_SECRET"
	EnvBigQueryDataset      = "STOCKLEDGER_BIGQUERY_DATASET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
