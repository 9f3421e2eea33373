// Package main is the entry point for the grantflow server. It wires all
// dependencies together and starts the HTTP server plus the background
// grant sweeper.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/veropath/grantflow/internal/chain"
	"github.com/veropath/grantflow/internal/config"
	"github.com/veropath/grantflow/internal/grant"
	"github.com/veropath/grantflow/internal/idempotency"
	"github.com/veropath/grantflow/internal/notify"
	"github.com/veropath/grantflow/internal/observability"
	"github.com/veropath/grantflow/internal/scheduler"
	"github.com/veropath/grantflow/internal/transport"
	"github.com/veropath/grantflow/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "grantflow", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Approval chains: a configured file overrides the built-in set.
	chains, err := chain.NewLoader().Load(cfg.Chains.File)
	if err != nil {
		logger.Error("chain loading failed", zap.Error(err))
		return 1
	}
	if verrs := chain.NewValidator().Validate(chains); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("chain validation error", zap.String("error", ve.Error()))
		}
		return 1
	}
	registry := chain.NewRegistry(chains)

	requestStore, grantStore, storeCloser, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	notifier := buildNotifier(cfg.Notifier, logger)
	idemStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	grantManager := grant.NewManager(grantStore, notifier, logger)
	engine := workflow.NewEngine(registry, requestStore, grantManager, notifier, logger)
	sweeper := scheduler.NewSweeper(grantStore, grantManager, cfg.Scheduler.SweepInterval, logger)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		ChainsLoaded: func() bool { return len(registry.Kinds()) > 0 },
	}
	if hc, ok := requestStore.(observability.HealthChecker); ok {
		readinessChecks.RequestStore = hc
	}
	if hc, ok := grantStore.(observability.HealthChecker); ok {
		readinessChecks.GrantStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readinessChecks.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Engine:       engine,
		Grants:       grantManager,
		Sweeper:      sweeper,
		Idempotency:  idemStore,
		Ready:        readinessChecks,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Scheduler.Enabled {
		go sweeper.Run(bgCtx)
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Strings("kinds", registry.Kinds()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if storeCloser != nil {
		storeCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStores creates the request and grant stores based on config. Both
// drivers share one connection pool when running on postgres.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (workflow.RequestStore, grant.GrantStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory stores")
		return workflow.NewMemoryRequestStore(), grant.NewMemoryGrantStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			if cfg.DSNEnv != "" {
				return nil, nil, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
			}
			logger.Warn("store DSN not configured, using in-memory stores")
			return workflow.NewMemoryRequestStore(), grant.NewMemoryGrantStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("store: ping: %w", err)
		}

		return workflow.NewPgRequestStore(pool), grant.NewPgGrantStore(pool), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildNotifier creates the notification sink based on config.
func buildNotifier(cfg config.NotifierConfig, logger *zap.Logger) notify.Notifier {
	switch cfg.Driver {
	case "webhook":
		logger.Info("using webhook notifier", zap.String("endpoint", cfg.Endpoint))
		return notify.NewWebhookNotifier(cfg.Endpoint, cfg.Timeout)
	default:
		return notify.NewLogNotifier(logger)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns nil when deduplication is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store")
			return idempotency.NewMemoryStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return idempotency.NewRedisStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil
	}
}
