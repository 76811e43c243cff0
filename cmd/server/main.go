/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll calculation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, defaults)
  2. Build the zap logger
  3. Open the store selected by DB_DRIVER (memory, sqlite3, postgres)
  4. Seed reference data from SEED_FILE, or the demo data in memory
  5. Wire metrics, preview cache, calculator, propagator and batch runner
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close cache and database connections
  4. Exit

EXAMPLES:
  # In-memory store with demo data
  ./server

  # SQLite file seeded from YAML
  DB_DRIVER=sqlite3 DB_PATH=./data/payroll.db SEED_FILE=./seed.yaml ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/cache"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/core/store"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/insurance"
	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/metrics"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	db, closeDB, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeDB()

	if err := seed(ctx, cfg, db, log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	previews, closeCache := openCache(cfg, collector, log)
	defer closeCache()

	calc := insurance.NewCalculator(db, log.Named("insurance"))
	calc.Resolver.DefaultBase = cfg.Engine.DefaultBase
	calc.Resolver.DefaultRegion = cfg.Engine.DefaultRegion
	prop := payroll.NewPropagator(log.Named("payroll"))
	orch := batch.NewOrchestrator(db, calc, prop, cfg.Engine.BatchWorkers, log.Named("batch"))
	if collector != nil {
		calc.Metrics = collector
		prop.Metrics = collector
		orch.Metrics = collector
	}

	handler := api.NewHandler(db, calc, payroll.NewService(db, prop, log.Named("payroll")), orch, previews, log.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         log.Named("http"),
		Metrics:        collector,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // Batch runs answer synchronously
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port), zap.String("env", cfg.Env), zap.String("db_driver", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (core.TxStore, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	case config.DriverSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, nil, err
			}
		}
		s, err := sqlstore.NewSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverPostgres:
		s, err := sqlstore.NewPostgres(ctx, cfg.DSN(), sqlstore.PoolOptions{
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
}

// seed loads SEED_FILE, or the demo data when the store is in memory and
// no file is configured.
func seed(ctx context.Context, cfg *config.Config, db core.TxStore, log *zap.Logger) error {
	var (
		s   *factory.Seed
		err error
		src string
	)
	switch {
	case cfg.Engine.SeedFile != "":
		src = cfg.Engine.SeedFile
		s, err = factory.NewSeedFactory().ParseFile(src)
	case cfg.Database.Driver == config.DriverMemory:
		src = "demo"
		s, err = factory.DemoSeed()
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if err := factory.Load(ctx, db, s); err != nil {
		return err
	}
	log.Info("reference data seeded", zap.String("source", src),
		zap.Int("employees", len(s.Employees)), zap.Int("insurance_types", len(s.InsuranceTypes)))
	return nil
}

// openCache connects to Redis when caching is enabled. An unreachable Redis
// disables previews rather than failing startup.
func openCache(cfg *config.Config, collector *metrics.Collector, log *zap.Logger) (*cache.Service, func()) {
	if !cfg.Cache.Enabled {
		return nil, func() {}
	}
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, preview cache disabled", zap.Error(err))
		return nil, func() {}
	}
	repo := cache.NewRepository(client, log.Named("cache"))
	var rec cache.Recorder
	if collector != nil {
		rec = collector
	}
	return cache.NewService(repo, rec, cfg.Cache.TTL, log.Named("cache"), true), closer(repo, log)
}

func closer(c io.Closer, log *zap.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("close cache", zap.Error(err))
		}
	}
}
