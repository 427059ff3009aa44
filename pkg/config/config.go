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
	RateLimit    RateLimitConfig
	Store        StoreConfig
	Cron         CronConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Email        EmailConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Store.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"PORTAL_APP_ENV" required:"true"`
	Port         string   `envconfig:"PORTAL_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"PORTAL_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"PORTAL_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"PORTAL_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"PORTAL_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PORTAL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"PORTAL_DB_DSN"`

	Host     string `envconfig:"PORTAL_DB_HOST"`
	Port     int    `envconfig:"PORTAL_DB_PORT" default:"5432"`
	User     string `envconfig:"PORTAL_DB_USER"`
	Password string `envconfig:"PORTAL_DB_PASSWORD"`
	Name     string `envconfig:"PORTAL_DB_NAME"`
	SSLMode  string `envconfig:"PORTAL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PORTAL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PORTAL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PORTAL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PORTAL_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PORTAL_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PORTAL_REDIS_URL"`
	Address      string        `envconfig:"PORTAL_REDIS_ADDR"`
	Password     string        `envconfig:"PORTAL_REDIS_PASSWORD"`
	DB           int           `envconfig:"PORTAL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PORTAL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PORTAL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PORTAL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PORTAL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PORTAL_REDIS_WRITE_TIMEOUT" default:"5s"`
	// KeyPrefix namespaces every key so environments can share one instance.
	KeyPrefix string `envconfig:"PORTAL_REDIS_KEY_PREFIX" default:"portal"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PORTAL_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PORTAL_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PORTAL_JWT_EXPIRATION_MINUTES" default:"60"`
	SessionTTLMinutes int    `envconfig:"PORTAL_SESSION_TTL_MINUTES" default:"10080"`
}

// SessionTTL returns how long an access session stays valid in Redis.
func (j JWTConfig) SessionTTL() time.Duration {
	if j.SessionTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.SessionTTLMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PORTAL_AUTO_MIGRATE" default:"false"`
	// SessionCheck toggles the Redis session lookup in the auth middleware.
	SessionCheck bool `envconfig:"PORTAL_SESSION_CHECK" default:"true"`
}

// RateLimitConfig throttles anonymous catalog reads per client IP.
type RateLimitConfig struct {
	PublicIPLimit int64         `envconfig:"PORTAL_RATE_LIMIT_PUBLIC_IP" default:"120"`
	PublicWindow  time.Duration `envconfig:"PORTAL_RATE_LIMIT_PUBLIC_WINDOW" default:"1m"`
}

// StoreConfig tunes the merchandise store engine.
type StoreConfig struct {
	PurchaseLimitWindow time.Duration `envconfig:"PORTAL_STORE_LIMIT_WINDOW" default:"720h"`
	PlaceMaxAttempts    int           `envconfig:"PORTAL_STORE_PLACE_MAX_ATTEMPTS" default:"3"`
	PlaceInitialBackoff time.Duration `envconfig:"PORTAL_STORE_PLACE_INITIAL_BACKOFF" default:"50ms"`
	PlaceMaximumBackoff time.Duration `envconfig:"PORTAL_STORE_PLACE_MAX_BACKOFF" default:"500ms"`
	// PlaceRateLimit caps placements per member per PlaceRateWindow; 0 disables it.
	PlaceRateLimit  int64         `envconfig:"PORTAL_STORE_PLACE_RATE_LIMIT" default:"10"`
	PlaceRateWindow time.Duration `envconfig:"PORTAL_STORE_PLACE_RATE_WINDOW" default:"1m"`
	// ProcessedEventTTL bounds how long consumers remember delivered events.
	ProcessedEventTTL time.Duration `envconfig:"PORTAL_STORE_PROCESSED_EVENT_TTL" default:"168h"`
}

func (s StoreConfig) validate() error {
	if s.PurchaseLimitWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvStoreLimitWindow)
	}
	if s.PlaceMaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvStorePlaceMaxAttempts)
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PORTAL_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"PORTAL_CRON_LOCK_TTL" default:"10m"`
	// OutboxRetention controls how long published outbox rows are kept.
	OutboxRetention time.Duration `envconfig:"PORTAL_CRON_OUTBOX_RETENTION" default:"720h"`
	// OutboxRetentionEvery spaces retention runs; the pickup sweep runs every cycle.
	OutboxRetentionEvery time.Duration `envconfig:"PORTAL_CRON_OUTBOX_RETENTION_EVERY" default:"24h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PORTAL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PORTAL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PORTAL_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PORTAL_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	StoreTopic string `envconfig:"PORTAL_PUBSUB_STORE_TOPIC" default:"portal-store-events"`
	// StoreSubscription feeds the store mailer worker.
	StoreSubscription string `envconfig:"PORTAL_PUBSUB_STORE_SUBSCRIPTION" default:"portal-store-events-mailer"`
}

type EmailConfig struct {
	Enabled     bool   `envconfig:"PORTAL_EMAIL_ENABLED" default:"false"`
	DefaultFrom string `envconfig:"PORTAL_EMAIL_FROM" default:"store@localhost"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
