// Package main is the entry point of the LMS assistant.
//
// The binary exposes every registered capability on the command line:
//
//	assistant --list
//	assistant get_student_grades student_id=12 date_from=2024-09-01
//	assistant --json get_all_courses -- get_lessons_by_course course_id=7
//	assistant --serve < calls.txt
//	assistant mutation 6f1c2d3e-0000-4000-8000-000000000001
//
// Layering:
//   - pkg: result envelope, retry, circuit breaker, logging
//   - application: operation runner, queries and commands
//   - infrastructure: LMS client, token caches, mutation log, metrics
//   - interface: capability router
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/mahan-lms/lms-assistant/config"
	"github.com/mahan-lms/lms-assistant/internal/application/operation"
	"github.com/mahan-lms/lms-assistant/internal/infrastructure/external/lms"
	"github.com/mahan-lms/lms-assistant/internal/infrastructure/metrics"
	"github.com/mahan-lms/lms-assistant/internal/infrastructure/persistence/postgres"
	"github.com/mahan-lms/lms-assistant/internal/infrastructure/persistence/redis"
	"github.com/mahan-lms/lms-assistant/internal/interface/router"
	"github.com/mahan-lms/lms-assistant/pkg/circuitbreaker"
	"github.com/mahan-lms/lms-assistant/pkg/logger"
	"github.com/mahan-lms/lms-assistant/pkg/retry"
	"github.com/mahan-lms/lms-assistant/pkg/timeutil"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := newRootCmd(run, showMutation).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) (err error) {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	slog.SetDefault(log)

	log.Info("starting LMS assistant",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"lms", cfg.LMS.BaseURL,
	)

	if err := applyAgentFlags(cfg.Features, opts.EnableAgents, opts.DisableAgents); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Metrics
	// ─────────────────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	lmsMetrics := metrics.NewLMS(reg)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. LMS transport and authentication
	// ─────────────────────────────────────────────────────────────────────────
	clientCfg := lms.DefaultClientConfig(cfg.LMS.BaseURL)
	clientCfg.StaticAccessKey = cfg.LMS.APIAccessKey
	clientCfg.Timeout = cfg.LMS.RequestTimeout
	clientCfg.RateLimiterConfig = lms.RateLimiterConfig{
		RequestsPerSecond: float64(cfg.LMS.RateLimit),
		BurstSize:         cfg.LMS.RateLimitBurst,
		WaitTimeout:       cfg.LMS.RequestTimeout,
	}
	clientCfg.Logger = log
	clientCfg.Metrics = lmsMetrics
	if cfg.LMS.CircuitBreakerThreshold > 0 {
		clientCfg.Breaker = circuitbreaker.LMSBreaker(
			cfg.LMS.CircuitBreakerThreshold,
			cfg.LMS.CircuitBreakerTimeout,
			circuitbreaker.WithIsFailure(lms.IsBreakerFailure),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}),
		)
	}
	client := lms.NewClient(clientCfg)

	if cfg.Observability.MetricsAddr != "" {
		metricsServer := startMetricsServer(cfg.Observability.MetricsAddr, reg, client.Status, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer cancel()
			err = multierr.Append(err, metricsServer.Shutdown(shutdownCtx))
		}()
	}

	tokenCache, closeCache, err := setupTokenCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeCache()) }()

	retrier := retry.LMSRetrier(cfg.LMS.MaxRetries, cfg.LMS.RetryBaseDelay, cfg.LMS.RetryMaxDelay,
		retry.WithLogger(log))

	auth := lms.NewAuthenticator(client, lms.AuthenticatorConfig{
		Defaults:    lms.Credentials{Identifier: cfg.LMS.Username, Secret: cfg.LMS.Password},
		Retrier:     retrier,
		Cache:       tokenCache,
		RefreshSkew: cfg.LMS.TokenRefreshSkew,
		Logger:      log,
		Metrics:     lmsMetrics,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Mutation log (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var recorder operation.MutationRecorder
	if cfg.Database.URL != "" {
		conn, mutationLog, err := setupMutationLog(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		recorder = mutationLog
	} else {
		log.Info("DATABASE_URL not set, mutation log disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Operations and router
	// ─────────────────────────────────────────────────────────────────────────
	runner := operation.NewRunner(operation.Config{
		Client:   client,
		Auth:     auth,
		Retrier:  retrier,
		Recorder: recorder,
		Clock:    timeutil.SystemClock{},
		Logger:   log,
		Metrics:  lmsMetrics,
	})

	rt := router.New(router.Config{
		Runner:      runner,
		Auth:        auth,
		Flags:       cfg.Features,
		MaxParallel: cfg.Router.MaxParallel,
		Logger:      log,
	})

	if cfg.LMS.APIAccessKey != "" {
		log.Warn("LMS_API_ACCESS_KEY is deprecated, configure LMS_USERNAME and LMS_PASSWORD instead")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Execute
	// ─────────────────────────────────────────────────────────────────────────
	out := newPrinter(stdout, opts.JSON)
	switch {
	case opts.List:
		return out.describe(rt.Describe())
	case opts.Serve:
		log.Info("serving calls from stdin")
		return serve(ctx, rt, stdin, out)
	}

	calls, err := parseCalls(opts.Args)
	if err != nil {
		return err
	}
	return out.envelopes(rt.DispatchAll(ctx, calls))
}

// ══════════════════════════════════════════════════════════════════════════════
// SETUP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger builds the process logger from the observability config.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.ParseFormat(cfg.Observability.LogFormat)
	opts.Service = cfg.App.Name
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}
	return logger.New(opts)
}

func setupTokenCache(ctx context.Context, cfg *config.Config) (lms.TokenCache, func() error, error) {
	noop := func() error { return nil }

	switch cfg.LMS.TokenCache {
	case config.TokenCacheMemory:
		return lms.NewMemoryTokenCache(timeutil.SystemClock{}), noop, nil
	case config.TokenCacheRedis:
		rc := redis.DefaultConfig(cfg.Redis.URL)
		rc.PoolSize = cfg.Redis.PoolSize
		rc.MinIdleConns = cfg.Redis.MinIdleConns
		if cfg.Redis.DialTimeout > 0 {
			rc.DialTimeout = cfg.Redis.DialTimeout
		}
		if cfg.Redis.ReadTimeout > 0 {
			rc.ReadTimeout = cfg.Redis.ReadTimeout
		}
		if cfg.Redis.WriteTimeout > 0 {
			rc.WriteTimeout = cfg.Redis.WriteTimeout
		}
		cache, err := redis.NewCache(ctx, rc)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redis.NewTokenCache(cache), cache.Close, nil
	default:
		// A nil interface, not a typed nil, so the authenticator skips caching.
		return nil, noop, nil
	}
}

func setupMutationLog(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, *postgres.MutationLog, error) {
	pc := postgres.DefaultConfig(cfg.Database.URL)
	pc.MaxConns = cfg.Database.MaxConns
	pc.MinConns = cfg.Database.MinConns
	if cfg.Database.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	conn, err := postgres.NewConnection(ctx, pc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return conn, postgres.NewMutationLog(conn,
		postgres.WithQueryTimeout(cfg.Database.QueryTimeout),
		postgres.WithLogger(log),
	), nil
}

// showMutation looks up one mutation log entry. It needs DATABASE_URL but
// no LMS credentials.
func showMutation(ctx context.Context, key string, out *printer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required to look up mutations")
	}

	conn, mutationLog, err := setupMutationLog(ctx, cfg, setupLogger(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	rec, err := mutationLog.Find(ctx, key)
	if postgres.IsNoRows(err) {
		return fmt.Errorf("%w under %s", errMutationNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to look up mutation: %w", err)
	}
	return out.mutation(rec)
}

// healthHandler reports the LMS client state. An open breaker answers 503.
func healthHandler(status func() lms.ClientStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := status()
		code := http.StatusOK
		if !st.Healthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}

func startMetricsServer(addr string, reg *prometheus.Registry, status func() lms.ClientStatus, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/health", healthHandler(status))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("starting metrics server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", logger.Err(err))
		}
	}()
	return srv
}
