package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	FeatureFlags   FeatureFlagsConfig
	Numbering      NumberingConfig
	Reconciliation ReconciliationConfig
	Idempotency    IdempotencyConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	BigQuery       BigQueryConfig
	DriftWatch     DriftWatchConfig
	Outbox         OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Reconciliation.validate(); err != nil {
		return nil, err
	}
	if err := cfg.DriftWatch.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REFILL_APP_ENV" required:"true"`
	Port         string `envconfig:"REFILL_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"REFILL_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"REFILL_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"REFILL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"REFILL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"REFILL_DB_DSN"`
	Driver string `envconfig:"REFILL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"REFILL_DB_HOST"`
	LegacyPort     int    `envconfig:"REFILL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REFILL_DB_USER"`
	LegacyPassword string `envconfig:"REFILL_DB_PASSWORD"`
	LegacyName     string `envconfig:"REFILL_DB_NAME"`
	LegacySSLMode  string `envconfig:"REFILL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REFILL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REFILL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REFILL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REFILL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	LockTimeout     time.Duration `envconfig:"REFILL_DB_LOCK_TIMEOUT" default:"5s"`
}

// IsSQLite reports whether the configured driver targets SQLite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"REFILL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REFILL_REDIS_ADDR"`
	Password     string        `envconfig:"REFILL_REDIS_PASSWORD"`
	DB           int           `envconfig:"REFILL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REFILL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REFILL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REFILL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REFILL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REFILL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"REFILL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"REFILL_AUTO_MIGRATE" default:"false"`
}

type NumberingConfig struct {
	DistributionPrefix string `envconfig:"REFILL_NUMBERING_DISTRIBUTION_PREFIX" default:"DIST"`
	TransactionPrefix  string `envconfig:"REFILL_NUMBERING_TRANSACTION_PREFIX" default:"TXN"`
	ResetDaily         bool   `envconfig:"REFILL_NUMBERING_RESET_DAILY" default:"true"`
}

type ReconciliationConfig struct {
	Interval time.Duration `envconfig:"REFILL_RECONCILIATION_INTERVAL" default:"1h"`
	Actor    string        `envconfig:"REFILL_RECONCILIATION_ACTOR" default:"system:reconciliation"`
	Timezone string        `envconfig:"REFILL_RECONCILIATION_TIMEZONE" default:"UTC"`
	LockTTL  time.Duration `envconfig:"REFILL_RECONCILIATION_LOCK_TTL" default:"30m"`

	// RunOnce makes the cron worker run a single cycle and exit, for
	// schedulers that start a fresh container per run. OnlyJob narrows that
	// cycle to one registered job.
	RunOnce bool   `envconfig:"REFILL_CRON_RUN_ONCE" default:"false"`
	OnlyJob string `envconfig:"REFILL_CRON_ONLY_JOB"`
}

// Location resolves the configured timezone used to pick the run date.
func (r ReconciliationConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(r.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

func (r ReconciliationConfig) validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("%s must be positive", EnvReconciliationInterval)
	}
	if strings.TrimSpace(r.Actor) == "" {
		return fmt.Errorf("%s is required", EnvReconciliationActor)
	}
	if _, err := r.Location(); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvReconciliationTimezone, err)
	}
	return nil
}

type IdempotencyConfig struct {
	TTL time.Duration `envconfig:"REFILL_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"REFILL_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"REFILL_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"REFILL_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	InventoryTopic    string `envconfig:"REFILL_PUBSUB_INVENTORY_TOPIC" default:"refill-inventory-events"`
	DriftSubscription string `envconfig:"REFILL_PUBSUB_DRIFT_SUBSCRIPTION" default:"refill-drift-watch-sub"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"REFILL_BIGQUERY_DATASET"`
	DriftEventsTable    string `envconfig:"REFILL_BIGQUERY_DRIFT_EVENTS_TABLE" default:"inventory_drift_events"`
	ReconciliationTable string `envconfig:"REFILL_BIGQUERY_RECONCILIATION_TABLE" default:"reconciliation_runs"`
	CreateTables        bool   `envconfig:"REFILL_BIGQUERY_CREATE_TABLES" default:"false"`
}

// Enabled reports whether a dataset is configured; without one the drift watcher skips row export.
func (b BigQueryConfig) Enabled() bool {
	return strings.TrimSpace(b.Dataset) != ""
}

type DriftWatchConfig struct {
	StreakThreshold int           `envconfig:"REFILL_DRIFT_STREAK_THRESHOLD" default:"3"`
	StreakTTL       time.Duration `envconfig:"REFILL_DRIFT_STREAK_TTL" default:"720h"`
	ProcessedTTL    time.Duration `envconfig:"REFILL_DRIFT_PROCESSED_TTL" default:"168h"`
	ProcessingLease time.Duration `envconfig:"REFILL_DRIFT_PROCESSING_LEASE" default:"5m"`
}

func (d DriftWatchConfig) validate() error {
	if d.StreakThreshold < 2 {
		return fmt.Errorf("%s must be at least 2", EnvDriftStreakThreshold)
	}
	if d.StreakTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvDriftStreakTTL)
	}
	if d.ProcessingLease <= 0 {
		return fmt.Errorf("%s must be positive", EnvDriftProcessingLease)
	}
	if d.ProcessedTTL < d.ProcessingLease {
		return fmt.Errorf("%s must be at least %s", EnvDriftProcessedTTL, EnvDriftProcessingLease)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"REFILL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"REFILL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"REFILL_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"REFILL_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DBDriverSQLite
		if db.DSN == "" {
			db.DSN = DefaultSQLiteDSN
		}
		return nil
	}
	if db.DSN != "" {
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
