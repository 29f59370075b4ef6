package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"herald/cmd/internal/dbschema"
)

// Rate limiter backends.
const (
	BackendAuto     = "auto"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"HERALD_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"HERALD_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"HERALD_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HERALD_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HERALD_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HERALD_HTTP_WRITE_TIMEOUT" envDefault:"45s"`
	IdleTimeout       time.Duration `env:"HERALD_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HERALD_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	DatabaseURL string `env:"HERALD_DATABASE_URL"`
	DBSchema    string `env:"HERALD_DB_SCHEMA" envDefault:"herald"`
	DBMaxConns  int32  `env:"HERALD_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"HERALD_DB_MIN_CONNS" envDefault:"0"`
	RedisURL    string `env:"HERALD_REDIS_URL"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"HERALD_READINESS_REQUIRE_DB" envDefault:"false"`

	TokenSecret   string `env:"HERALD_TOKEN_SECRET"`
	WebhookSecret string `env:"HERALD_WEBHOOK_SECRET"`
	BaseURL       string `env:"HERALD_BASE_URL"`
	ProductName   string `env:"HERALD_PRODUCT_NAME" envDefault:"Herald"`

	ResendAPIKey     string        `env:"HERALD_RESEND_API_KEY"`
	ResendEndpoint   string        `env:"HERALD_RESEND_ENDPOINT"`
	EmailFrom        string        `env:"HERALD_EMAIL_FROM"`
	EmailFromName    string        `env:"HERALD_EMAIL_FROM_NAME"`
	SendTimeout      time.Duration `env:"HERALD_SEND_TIMEOUT" envDefault:"30s"`
	ProviderMaxTries uint          `env:"HERALD_PROVIDER_MAX_TRIES" envDefault:"3"`

	DLQMaxAttempts    int           `env:"HERALD_DLQ_MAX_ATTEMPTS" envDefault:"5"`
	ReplayInterval    time.Duration `env:"HERALD_REPLAY_INTERVAL" envDefault:"5m"`
	ReplayBatchSize   int           `env:"HERALD_REPLAY_BATCH_SIZE" envDefault:"100"`
	ReplayConcurrency int           `env:"HERALD_REPLAY_CONCURRENCY" envDefault:"4"`

	RateLimitBackend      string        `env:"HERALD_RATELIMIT_BACKEND" envDefault:"auto"`
	RateLimitFailOpen     bool          `env:"HERALD_RATELIMIT_FAIL_OPEN" envDefault:"true"`
	RateLimitCacheTTL     time.Duration `env:"HERALD_RATELIMIT_CACHE_TTL" envDefault:"5s"`
	RateLimitStoreTimeout time.Duration `env:"HERALD_RATELIMIT_STORE_TIMEOUT" envDefault:"2s"`
	RateLimitMaxKeys      int           `env:"HERALD_RATELIMIT_MAX_KEYS" envDefault:"10000"`
	SweepInterval         time.Duration `env:"HERALD_SWEEP_INTERVAL" envDefault:"1m"`

	WebhookReplayWindow time.Duration `env:"HERALD_WEBHOOK_REPLAY_WINDOW" envDefault:"1h"`

	MetricsEnabled  bool   `env:"HERALD_METRICS_ENABLED" envDefault:"true"`
	OTelEndpoint    string `env:"HERALD_OTEL_ENDPOINT"`
	OTelServiceName string `env:"HERALD_OTEL_SERVICE_NAME" envDefault:"herald"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.DBSchema = strings.TrimSpace(c.DBSchema)
	if c.DBSchema == "" {
		c.DBSchema = dbschema.DefaultSchema
	}
	if c.DLQMaxAttempts <= 0 {
		c.DLQMaxAttempts = 5
	}
	if c.ReplayBatchSize <= 0 {
		c.ReplayBatchSize = 100
	}
	if c.ReplayConcurrency <= 0 {
		c.ReplayConcurrency = 4
	}
	if c.RateLimitStoreTimeout <= 0 {
		c.RateLimitStoreTimeout = 2 * time.Second
	}
	if c.RateLimitCacheTTL < 0 {
		c.RateLimitCacheTTL = 0
	}

	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	switch c.RateLimitBackend {
	case "", BackendAuto:
		c.RateLimitBackend = BackendAuto
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimitBackend)
	}
	return nil
}

// rateLimitBackend resolves "auto" to redis, then postgres, then memory.
func (c Config) rateLimitBackend() string {
	if c.RateLimitBackend != BackendAuto && c.RateLimitBackend != "" {
		return c.RateLimitBackend
	}
	switch {
	case c.RedisURL != "":
		return BackendRedis
	case c.DatabaseURL != "":
		return BackendPostgres
	default:
		return BackendMemory
	}
}

// emailEnabled reports whether a provider is configured.
func (c Config) emailEnabled() bool {
	return strings.TrimSpace(c.ResendAPIKey) != ""
}
