package config

const (
	EnvPrefix = "REFILL"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
	DefaultSQLiteDSN = "file:refill.db?cache=shared&_busy_timeout=5000"

	EnvAppEnv   = "REFILL_APP_ENV"
	EnvPort     = "REFILL_APP_PORT"
	EnvLogLevel = "REFILL_LOG_LEVEL"

	EnvDBDSN      = "REFILL_DB_DSN"
	EnvDBDriver   = "REFILL_DB_DRIVER"
	EnvDBHost     = "REFILL_DB_HOST"
	EnvDBPort     = "REFILL_DB_PORT"
	EnvDBUser     = "REFILL_DB_USER"
	EnvDBPassword = "REFILL_DB_PASSWORD"
	EnvDBName     = "REFILL_DB_NAME"
	EnvDBSSLMode  = "REFILL_DB_SSLMODE"

	EnvRedisURL = "REFILL_REDIS_URL"

	EnvUseSQLite   = "REFILL_USE_SQLITE"
	EnvAutoMigrate = "REFILL_AUTO_MIGRATE"

	EnvNumberingDistributionPrefix = "REFILL_NUMBERING_DISTRIBUTION_PREFIX"
	EnvNumberingTransactionPrefix  = "REFILL_NUMBERING_TRANSACTION_PREFIX"
	EnvNumberingResetDaily         = "REFILL_NUMBERING_RESET_DAILY"

	EnvReconciliationInterval = "REFILL_RECONCILIATION_INTERVAL"
	EnvReconciliationActor    = "REFILL_RECONCILIATION_ACTOR"
	EnvReconciliationTimezone = "REFILL_RECONCILIATION_TIMEZONE"

	EnvGCPProjectID            = "REFILL_GCP_PROJECT_ID"
	EnvPubSubInventoryTopic    = "REFILL_PUBSUB_INVENTORY_TOPIC"
	EnvPubSubDriftSubscription = "REFILL_PUBSUB_DRIFT_SUBSCRIPTION"
	EnvBigQueryDataset         = "REFILL_BIGQUERY_DATASET"

	EnvDriftStreakThreshold = "REFILL_DRIFT_STREAK_THRESHOLD"
	EnvDriftStreakTTL       = "REFILL_DRIFT_STREAK_TTL"
	EnvDriftProcessedTTL    = "REFILL_DRIFT_PROCESSED_TTL"
	EnvDriftProcessingLease = "REFILL_DRIFT_PROCESSING_LEASE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
