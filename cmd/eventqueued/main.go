// Command eventqueued runs the webhook gateway and event dispatcher as a
// single process: an HTTP server for ingress plus a cron cadence that
// drains the queue.
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

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/robfig/cron/v3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-eventqueue/core"
	"github.com/goliatone/go-eventqueue/dispatch"
	"github.com/goliatone/go-eventqueue/httpapi"
	queuemigrations "github.com/goliatone/go-eventqueue/migrations"
	sqlstore "github.com/goliatone/go-eventqueue/store/sql"
	"github.com/goliatone/go-eventqueue/webhooks"
)

const (
	defaultAddr         = ":8080"
	defaultSQLiteDSN    = "file:eventqueue.db?cache=shared&_foreign_keys=on"
	defaultDispatchCron = "* * * * *"
	shutdownTimeout     = 10 * time.Second
)

type persistenceConfig struct {
	debug  bool
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-eventqueue" }

// envRawConfigLoader maps EVENTQUEUE_* variables onto the raw config tree
// consumed by cfgx.
type envRawConfigLoader struct{}

func (envRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	if v := strings.TrimSpace(os.Getenv("EVENTQUEUE_SERVICE_NAME")); v != "" {
		raw["service_name"] = v
	}
	dispatcher := map[string]any{}
	if v, ok := envInt("EVENTQUEUE_DISPATCHER_BATCH_SIZE"); ok {
		dispatcher["batch_size"] = v
	}
	if v, ok := envInt("EVENTQUEUE_DISPATCHER_MAX_RETRIES"); ok {
		dispatcher["max_retries"] = v
	}
	if len(dispatcher) > 0 {
		raw["dispatcher"] = dispatcher
	}
	gateway := map[string]any{}
	if v, ok := envInt("EVENTQUEUE_GATEWAY_REPLAY_WINDOW_SECONDS"); ok {
		gateway["replay_window_seconds"] = v
	}
	if len(gateway) > 0 {
		raw["gateway"] = gateway
	}
	return raw, nil
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "eventqueued: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := core.NewCfgxConfigProvider(envRawConfigLoader{})
	loaded, err := provider.Load(ctx, core.DefaultConfig())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := core.GoOptionsResolver{}.Resolve(core.DefaultConfig(), loaded, core.Config{})
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	_, logger := glog.Resolve(cfg.ServiceName, nil, nil)
	logger = glog.Ensure(logger)

	client, cleanup, err := openPersistence(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}

	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return fmt.Errorf("webhook config cache: %w", err)
	}
	configs, err := sqlstore.NewCachedWebhookConfigStore(factory.WebhookConfigStore(), cacheService)
	if err != nil {
		return fmt.Errorf("cached webhook config store: %w", err)
	}

	jobHandlers := core.NewJobHandlerRegistry()
	webhookHandlers := core.NewWebhookHandlerRegistry()

	verifier := webhooks.SignatureVerifier{
		ReplayWindow: time.Duration(cfg.Gateway.ReplayWindowSeconds) * time.Second,
	}
	gateway, err := webhooks.NewGateway(webhooks.GatewayConfig{
		Configs:  configs,
		Logs:     factory.WebhookLogStore(),
		Handlers: webhookHandlers,
		Queue:    factory.EventQueue(),
		Verifier: verifier,
		DB:       factory.DB(),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	dispatcher, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Queue:     factory.EventQueue(),
		Jobs:      jobHandlers,
		Remotes:   factory.RemoteHandlerStore(),
		DB:        factory.DB(),
		BatchSize: cfg.Dispatcher.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Gateway:    gateway,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	scheduler := cron.New()
	cronSpec := strings.TrimSpace(os.Getenv("EVENTQUEUE_DISPATCH_CRON"))
	if cronSpec == "" {
		cronSpec = defaultDispatchCron
	}
	if _, err := scheduler.AddFunc(cronSpec, func() {
		summary, err := dispatcher.Run(ctx)
		if err != nil {
			logger.Error("scheduled dispatch failed", "error", err)
			return
		}
		if summary.Total > 0 {
			logger.Info("scheduled dispatch",
				"total", summary.Total,
				"completed", summary.Completed,
				"failed", summary.Failed,
			)
		}
	}); err != nil {
		return fmt.Errorf("dispatch cron %q: %w", cronSpec, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	addr := strings.TrimSpace(os.Getenv("EVENTQUEUE_ADDR"))
	if addr == "" {
		addr = defaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "dispatch_cron", cronSpec)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	return nil
}

func openPersistence(ctx context.Context, cfg core.Config, logger core.Logger) (*persistence.Client, func(), error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))

	var (
		sqlDB   *sql.DB
		dialect persistenceDialect
		err     error
	)
	if databaseURL != "" {
		sqlDB, err = sql.Open("postgres", databaseURL)
		dialect = persistenceDialect{
			name:    "postgres",
			server:  databaseURL,
			dialect: queuemigrations.DialectPostgres,
		}
	} else {
		dsn := strings.TrimSpace(os.Getenv("EVENTQUEUE_SQLITE_DSN"))
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		sqlDB, err = sql.Open("sqlite3", dsn)
		dialect = persistenceDialect{
			name:    "sqlite3",
			server:  dsn,
			dialect: queuemigrations.DialectSQLite,
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dialect.name, err)
	}
	if dialect.name == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	pcfg := persistenceConfig{
		driver: dialect.name,
		server: dialect.server,
	}
	var client *persistence.Client
	if dialect.name == "postgres" {
		client, err = persistence.New(pcfg, sqlDB, pgdialect.New())
	} else {
		client, err = persistence.New(pcfg, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("persistence client: %w", err)
	}

	_, err = queuemigrations.Register(ctx, func(_ context.Context, d string, _ string, fsys fs.FS) error {
		if d != dialect.dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, queuemigrations.WithValidationTargets(dialect.dialect))
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", "driver", dialect.name)

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Error("close database", "error", err)
		}
	}
	return client, cleanup, nil
}

type persistenceDialect struct {
	name    string
	server  string
	dialect string
}
