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
	Ledger       LedgerConfig
	Quota        QuotaConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"INALTERA_APP_ENV" required:"true"`
	Port         string `envconfig:"INALTERA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"INALTERA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"INALTERA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"INALTERA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"INALTERA_DB_DSN"`
	Driver string `envconfig:"INALTERA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"INALTERA_DB_HOST"`
	LegacyPort     int    `envconfig:"INALTERA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"INALTERA_DB_USER"`
	LegacyPassword string `envconfig:"INALTERA_DB_PASSWORD"`
	LegacyName     string `envconfig:"INALTERA_DB_NAME"`
	LegacySSLMode  string `envconfig:"INALTERA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"INALTERA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INALTERA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INALTERA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INALTERA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"INALTERA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"INALTERA_REDIS_ADDR"`
	Password     string        `envconfig:"INALTERA_REDIS_PASSWORD"`
	DB           int           `envconfig:"INALTERA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INALTERA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INALTERA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INALTERA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INALTERA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INALTERA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"INALTERA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"INALTERA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"INALTERA_JWT_EXPIRATION_MINUTES" default:"60"`
}

// LedgerConfig tunes the hash chain and per-tenant serialization.
type LedgerConfig struct {
	// HashAlgorithm is fixed for the life of a chain; changing it requires a
	// versioned genesis marker, never a per-call switch.
	HashAlgorithm   string        `envconfig:"INALTERA_LEDGER_HASH_ALGORITHM" default:"sha256"`
	LockTTL         time.Duration `envconfig:"INALTERA_LEDGER_LOCK_TTL" default:"10s"`
	LockWaitTimeout time.Duration `envconfig:"INALTERA_LEDGER_LOCK_WAIT_TIMEOUT" default:"3s"`
	LockRetryDelay  time.Duration `envconfig:"INALTERA_LEDGER_LOCK_RETRY_DELAY" default:"25ms"`
}

type QuotaConfig struct {
	DefaultPlan string `envconfig:"INALTERA_QUOTA_DEFAULT_PLAN" default:"free"`
}

// RateLimitConfig throttles the public verification surface per client IP.
type RateLimitConfig struct {
	VerifyWindow time.Duration `envconfig:"INALTERA_RATE_LIMIT_VERIFY_WINDOW" default:"1m"`
	VerifyLimit  int64         `envconfig:"INALTERA_RATE_LIMIT_VERIFY_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"INALTERA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"INALTERA_AUTO_MIGRATE" default:"false"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"INALTERA_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"INALTERA_CRON_LOCK_TTL" default:"55m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"INALTERA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"INALTERA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"INALTERA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic string `envconfig:"INALTERA_PUBSUB_LEDGER_TOPIC" default:"inaltera-ledger-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"INALTERA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"INALTERA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"INALTERA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
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
