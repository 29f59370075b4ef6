package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	authapi "herald/cmd/internal/auth/api"
	"herald/cmd/internal/delivery"
	"herald/cmd/internal/invite"
	"herald/cmd/internal/ratelimit"
	"herald/cmd/internal/waitlist"
	"herald/cmd/internal/webhook"
)

// ErrEmailDisabled is returned by operations that need a configured provider.
var ErrEmailDisabled = errors.New("email provider not configured")

// Components holds the wired services shared by the server and the CLI.
// Postgres-backed stores are used when a database is configured, in-memory
// ones otherwise.
type Components struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry

	Tokens      *invite.Service
	Redemptions invite.RedemptionStore
	Waitlist    *waitlist.Service
	DeadLetters delivery.DeadLetterStore
	Renderer    *delivery.Renderer
	// Pipeline and Replayer are nil when no provider is configured.
	Pipeline *delivery.Pipeline
	Replayer *delivery.Replayer

	Limiter      *ratelimit.Limiter
	RateStore    ratelimit.Store
	RateMetrics  *ratelimit.Metrics
	Webhook      *webhook.Handler
	Audit        authapi.AuditSink
	RateBackend  string
	HTTPMetrics  *httpMetrics
	dbEnabled    bool
	closeTracing func(context.Context) error
}

// Build connects to the configured backends and wires every service.
func Build(ctx context.Context, cfg Config, log *slog.Logger) (_ *Components, err error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Components{Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			c.Close(context.Background())
		}
	}()

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if c.HTTPMetrics, err = newHTTPMetrics(c.Registry); err != nil {
		return nil, err
	}

	if c.closeTracing, err = SetupTracing(ctx, cfg); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	if cfg.DatabaseURL != "" {
		if c.Pool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, err
		}
		c.dbEnabled = true
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	} else {
		log.Info("db.disabled.inmemory_store")
	}
	if cfg.RedisURL != "" {
		if c.Redis, err = NewRedisClient(ctx, cfg.RedisURL); err != nil {
			return nil, err
		}
	}

	wlStore, err := c.buildStores(cfg)
	if err != nil {
		return nil, err
	}
	if c.Waitlist, err = waitlist.NewService(wlStore); err != nil {
		return nil, err
	}

	if c.Tokens, err = invite.NewService(cfg.TokenSecret,
		invite.WithBaseURL(cfg.BaseURL),
		invite.WithRedemptionStore(c.Redemptions),
	); err != nil {
		return nil, err
	}

	if err := c.buildDelivery(cfg, log, wlStore); err != nil {
		return nil, err
	}
	if err := c.buildLimiter(cfg, log); err != nil {
		return nil, err
	}
	if err := c.buildWebhook(cfg, log, wlStore); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Components) buildStores(cfg Config) (waitlist.Store, error) {
	if c.Pool == nil {
		c.Redemptions = invite.NewMemoryRedemptionStore()
		c.DeadLetters = delivery.NewMemoryDeadLetterStore()
		return waitlist.NewMemoryStore(), nil
	}

	wl, err := waitlist.NewPostgresStore(c.Pool, waitlist.WithSchema(cfg.DBSchema))
	if err != nil {
		return nil, err
	}
	if c.Redemptions, err = invite.NewPostgresRedemptionStore(c.Pool, invite.WithSchema(cfg.DBSchema)); err != nil {
		return nil, err
	}
	if c.DeadLetters, err = delivery.NewPostgresDeadLetterStore(c.Pool, delivery.WithSchema(cfg.DBSchema)); err != nil {
		return nil, err
	}
	if c.Audit, err = authapi.NewPostgresAuditLog(c.Pool, authapi.WithAuditSchema(cfg.DBSchema)); err != nil {
		return nil, err
	}
	return wl, nil
}

func (c *Components) buildDelivery(cfg Config, log *slog.Logger, wl waitlist.Store) error {
	var err error
	if c.Renderer, err = delivery.NewRenderer(cfg.ProductName); err != nil {
		return err
	}
	metrics, err := delivery.NewMetrics(c.Registry)
	if err != nil {
		return err
	}

	if !cfg.emailEnabled() {
		log.Warn("delivery.disabled", "reason", "HERALD_RESEND_API_KEY not set")
		return nil
	}
	provider, err := delivery.NewResendProvider(delivery.ResendConfig{
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
		Endpoint: cfg.ResendEndpoint,
		MaxTries: cfg.ProviderMaxTries,
	})
	if err != nil {
		return err
	}
	c.Pipeline, err = delivery.NewPipeline(provider, c.Renderer, wl, c.DeadLetters,
		delivery.WithMaxAttempts(cfg.DLQMaxAttempts),
		delivery.WithSendTimeout(cfg.SendTimeout),
		delivery.WithMetrics(metrics),
		delivery.WithLogger(log),
	)
	if err != nil {
		return err
	}
	c.Replayer = &delivery.Replayer{
		Pipeline:    c.Pipeline,
		BatchSize:   cfg.ReplayBatchSize,
		Concurrency: cfg.ReplayConcurrency,
	}
	return nil
}

func (c *Components) buildLimiter(cfg Config, log *slog.Logger) error {
	c.RateBackend = cfg.rateLimitBackend()

	var err error
	switch c.RateBackend {
	case BackendRedis:
		if c.Redis == nil {
			return errors.New("rate limit backend redis requires HERALD_REDIS_URL")
		}
		c.RateStore, err = ratelimit.NewRedisStore(c.Redis, "")
	case BackendPostgres:
		if c.Pool == nil {
			return errors.New("rate limit backend postgres requires HERALD_DATABASE_URL")
		}
		c.RateStore, err = ratelimit.NewPostgresStore(c.Pool, ratelimit.WithSchema(cfg.DBSchema))
	default:
		c.RateStore = ratelimit.NewMemoryStore(cfg.RateLimitMaxKeys)
	}
	if err != nil {
		return err
	}

	if c.RateMetrics, err = ratelimit.NewMetrics(c.Registry); err != nil {
		return err
	}
	c.Limiter, err = ratelimit.NewLimiter(c.RateStore,
		ratelimit.WithFailOpen(cfg.RateLimitFailOpen),
		ratelimit.WithCacheTTL(cfg.RateLimitCacheTTL),
		ratelimit.WithStoreTimeout(cfg.RateLimitStoreTimeout),
		ratelimit.WithMetrics(c.RateMetrics),
		ratelimit.WithLogger(log),
	)
	if err != nil {
		return err
	}
	log.Info("ratelimit.backend", "backend", c.RateBackend, "fail_open", cfg.RateLimitFailOpen)
	return nil
}

func (c *Components) buildWebhook(cfg Config, log *slog.Logger, wl waitlist.Store) error {
	if cfg.WebhookSecret == "" {
		log.Warn("webhook.disabled", "reason", "HERALD_WEBHOOK_SECRET not set")
		return nil
	}
	auth, err := webhook.NewAuthenticator(cfg.WebhookSecret)
	if err != nil {
		return err
	}

	var guard webhook.ReplayGuard = webhook.NewMemoryReplayGuard(cfg.WebhookReplayWindow)
	if c.Redis != nil {
		guard = webhook.NewRedisReplayGuard(c.Redis, "", cfg.WebhookReplayWindow)
	}
	c.Webhook = webhook.NewHandler(auth, wl,
		webhook.WithReplayGuard(guard),
		webhook.WithLogger(log),
		webhook.WithRegisterer(c.Registry),
	)
	return nil
}

// Mailer returns the pipeline, or a no-op mailer when email is disabled.
func (c *Components) Mailer() authapi.Mailer {
	if c.Pipeline == nil {
		return authapi.NoopMailer{}
	}
	return c.Pipeline
}

// Close releases every backend connection and flushes traces.
func (c *Components) Close(ctx context.Context) {
	if c == nil {
		return
	}
	if c.closeTracing != nil {
		_ = c.closeTracing(ctx)
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
