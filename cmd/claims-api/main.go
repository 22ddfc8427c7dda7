package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	claimspipeline "github.com/goliatone/claims-pipeline"
	"github.com/goliatone/claims-pipeline/adapters/gojob"
	"github.com/goliatone/claims-pipeline/connector"
	"github.com/goliatone/claims-pipeline/core"
	"github.com/goliatone/claims-pipeline/httpapi"
	pipelinemigrations "github.com/goliatone/claims-pipeline/migrations"
	"github.com/goliatone/claims-pipeline/rails"
	"github.com/goliatone/claims-pipeline/rails/dental"
	"github.com/goliatone/claims-pipeline/rails/medical"
	sqlstore "github.com/goliatone/claims-pipeline/store/sql"
	"github.com/goliatone/claims-pipeline/webhooks"
)

func main() {
	_ = godotenv.Load()
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	recorder := httpapi.NewPrometheusRecorder(nil)
	runtime, err := core.NewRuntime(configFromEnv(), core.WithMetricsRecorder(recorder))
	if err != nil {
		return err
	}
	cfg := runtime.Config
	logger := runtime.Logger

	client, cleanup, err := openPersistence(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}

	keyring, err := webhooks.NewSecretKeyring(cfg.Webhook.Secret, cfg.Webhook.PreviousSecret)
	if err != nil {
		return err
	}
	verifier := webhooks.NewRelaySignatureVerifier(keyring, cfg.Webhook.FreshnessWindow())

	resolver, err := core.NewClaimResolver(factory.ClaimDirectory())
	if err != nil {
		return err
	}
	audit, err := core.NewAuditRecorder(factory.AuditStore(), logger, runtime.MetricsRecorder)
	if err != nil {
		return err
	}

	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return err
	}
	statusStore, err := sqlstore.NewCachedStatusEventStore(factory.StatusEventStore(), cacheService)
	if err != nil {
		return err
	}

	processor, err := webhooks.NewProcessor(
		verifier,
		factory.IdempotencyLedger(),
		resolver,
		factory.ClaimDirectory(),
		factory.InboundEventStore(),
		statusStore,
		audit,
	)
	if err != nil {
		return err
	}
	processor.Logger = logger
	processor.Metrics = runtime.MetricsRecorder

	registry, err := buildRailRegistry()
	if err != nil {
		return err
	}
	if len(registry.Rails()) == 0 {
		logger.Warn("no rail adapters configured; outbound submissions will fail until one is registered")
	}

	jobStore := factory.SubmissionJobStore()
	jobStore.LeaseTimeout = cfg.Connector.LeaseTimeout()

	queue, err := connector.NewQueue(
		jobStore,
		registry,
		factory.ClaimDirectory(),
		statusStore,
		audit,
		cfg.Connector,
	)
	if err != nil {
		return err
	}
	queue.Logger = logger
	queue.Metrics = runtime.MetricsRecorder

	tracker, err := connector.NewStatusTracker(statusStore)
	if err != nil {
		return err
	}

	facade, err := claimspipeline.NewFacade(queue, processor, factory.ClaimDirectory())
	if err != nil {
		return err
	}

	router, err := httpapi.NewRouter(httpapi.RouterConfig{
		Processor: processor,
		Queue:     facade,
		Replayer:  facade,
		Tracker:   tracker,
		Webhook:   cfg.Webhook,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The dispatch tick rides the job queue bridge so a deployment can move
	// scheduling to a shared broker without touching the connector.
	tickQueue := gojob.NewMemoryQueue(1)
	dispatchLoop := &gojob.DispatchLoop{
		Enqueuer: gojob.NewEnqueuerAdapter(tickQueue),
		Dequeuer: gojob.NewDequeuerAdapter(tickQueue, gojob.RetryPolicy{MaxAttempts: 1}),
		Execute: func(ctx context.Context) error {
			_, err := facade.DispatchDue(ctx)
			return err
		},
		Interval: cfg.Connector.PollInterval(),
		Logger:   logger,
	}
	go func() {
		if err := dispatchLoop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("connector dispatch loop stopped", "error", err.Error())
		}
	}()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	logger.Info("claims pipeline listening",
		"addr", cfg.HTTPAddr,
		"driver", cfg.Storage.Driver,
		"rails", strings.Join(registry.Rails(), ","),
	)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// configFromEnv builds the runtime layer; unset values fall through to the
// loaded config and defaults during resolution.
func configFromEnv() core.Config {
	return core.Config{
		ServiceName: os.Getenv("CLAIMS_SERVICE_NAME"),
		HTTPAddr:    os.Getenv("CLAIMS_HTTP_ADDR"),
		Webhook: core.WebhookConfig{
			Secret:            os.Getenv("CLAIMS_WEBHOOK_SECRET"),
			PreviousSecret:    os.Getenv("CLAIMS_WEBHOOK_PREVIOUS_SECRET"),
			SignatureHeader:   os.Getenv("CLAIMS_WEBHOOK_SIGNATURE_HEADER"),
			TimestampHeader:   os.Getenv("CLAIMS_WEBHOOK_TIMESTAMP_HEADER"),
			FreshnessWindowMS: envInt64("CLAIMS_WEBHOOK_FRESHNESS_WINDOW_MS"),
		},
		Connector: core.ConnectorConfig{
			Workers:          int(envInt64("CLAIMS_CONNECTOR_WORKERS")),
			MaxAttempts:      int(envInt64("CLAIMS_CONNECTOR_MAX_ATTEMPTS")),
			BatchSize:        int(envInt64("CLAIMS_CONNECTOR_BATCH_SIZE")),
			InitialBackoffMS: envInt64("CLAIMS_CONNECTOR_INITIAL_BACKOFF_MS"),
			MaxBackoffMS:     envInt64("CLAIMS_CONNECTOR_MAX_BACKOFF_MS"),
			SubmitTimeoutMS:  envInt64("CLAIMS_CONNECTOR_SUBMIT_TIMEOUT_MS"),
			PollIntervalMS:   envInt64("CLAIMS_CONNECTOR_POLL_INTERVAL_MS"),
			LeaseTimeoutMS:   envInt64("CLAIMS_CONNECTOR_LEASE_TIMEOUT_MS"),
		},
		Storage: core.StorageConfig{
			Driver: os.Getenv("CLAIMS_STORAGE_DRIVER"),
			DSN:    os.Getenv("CLAIMS_STORAGE_DSN"),
		},
	}
}

func envInt64(key string) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

type persistenceConfig struct {
	driver string
	dsn    string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "claims-pipeline" }

func openPersistence(ctx context.Context, storage core.StorageConfig) (*persistence.Client, func(), error) {
	var (
		sqlDriver string
		dialect   schema.Dialect
		target    string
	)
	switch strings.TrimSpace(strings.ToLower(storage.Driver)) {
	case "", "sqlite":
		sqlDriver = "sqlite3"
		dialect = sqlitedialect.New()
		target = pipelinemigrations.DialectSQLite
	case "postgres":
		sqlDriver = "postgres"
		dialect = pgdialect.New()
		target = pipelinemigrations.DialectPostgres
	default:
		return nil, nil, fmt.Errorf("storage driver %q is not supported", storage.Driver)
	}

	sqlDB, err := sql.Open(sqlDriver, storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s database: %w", sqlDriver, err)
	}
	if sqlDriver == "sqlite3" {
		// sqlite serializes writes; a single connection avoids lock errors.
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: sqlDriver, dsn: storage.DSN}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	_, err = pipelinemigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, pipelinemigrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	return client, func() { _ = client.Close() }, nil
}

func buildRailRegistry() (*rails.Registry, error) {
	registry := rails.NewRegistry()

	if endpoint := strings.TrimSpace(os.Getenv("CLAIMS_RAIL_DENTAL_ENDPOINT")); endpoint != "" {
		adapter, err := dental.New(dental.Config{
			Endpoint: endpoint,
			APIKey:   os.Getenv("CLAIMS_RAIL_DENTAL_API_KEY"),
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	if endpoint := strings.TrimSpace(os.Getenv("CLAIMS_RAIL_MEDICAL_ENDPOINT")); endpoint != "" {
		adapter, err := medical.New(medical.Config{
			Endpoint: endpoint,
			APIKey:   os.Getenv("CLAIMS_RAIL_MEDICAL_API_KEY"),
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
