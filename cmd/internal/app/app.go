// Package app wires the Herald server runtime: config, logging, backends,
// HTTP routes and the background replay and sweep loops.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	authapi "herald/cmd/internal/auth/api"
)

// App is the Herald server runtime.
type App struct {
	cfg  Config
	log  Logger
	deps *Components
	api  *authapi.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, apiCfg.AdminKey); err != nil {
		return nil, err
	}

	deps, err := Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, log, apiCfg, deps), nil
}

func newApp(cfg Config, log Logger, apiCfg authapi.Config, deps *Components) *App {
	opts := []authapi.HandlerOption{
		authapi.WithTokens(deps.Tokens),
		authapi.WithWaitlist(deps.Waitlist),
		authapi.WithMailer(deps.Mailer()),
		authapi.WithLimiter(deps.Limiter),
		authapi.WithAuditSink(deps.Audit),
	}
	if deps.Replayer != nil {
		opts = append(opts, authapi.WithReplayer(deps.Replayer))
	}
	if deps.Webhook != nil {
		opts = append(opts, authapi.WithWebhook(deps.Webhook))
	}
	return &App{
		cfg:  cfg,
		log:  log,
		deps: deps,
		api:  authapi.NewHandler(log, apiCfg, opts...),
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.deps, a.api)
	return WithSecurityHeaders(WithRequestLogging(mux, a.log, a.deps.HTTPMetrics))
}

// Run starts the HTTP server and background workers, and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 45*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	a.startWorkers(workerCtx, &wg)

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.deps.dbEnabled,
		"email_enabled", a.deps.Pipeline != nil,
		"ratelimit_backend", a.deps.RateBackend,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	stopWorkers()
	wg.Wait()
	a.deps.Close(shutdownCtx)

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
