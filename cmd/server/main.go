package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/liamcoop/businessrules/internal/config"
	"github.com/liamcoop/businessrules/internal/logger"
	"github.com/liamcoop/businessrules/migrations"
	"github.com/liamcoop/businessrules/rules"
	"github.com/liamcoop/businessrules/ruletest"
)

func main() {
	configPath := flag.String("config", os.Getenv("RULES_CONFIG"), "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if err := logger.Configure(cfg.Logging.LoggerOptions()); err != nil {
		logger.Warn("OTEL logging unavailable, using JSON", "error", err)
	}

	store, db, err := openStore(cfg.Database)
	if err != nil {
		logger.Fatal("failed to open rule store", "error", err)
	}
	if db != nil {
		defer db.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := cfg.Engine.Options()
	if cfg.Metrics.Enabled {
		opts.Metrics = rules.NewMetrics(cfg.Metrics.Namespace, registry)
	}
	audit := rules.NewAuditDispatcher(rules.LogAuditSink{}, cfg.Engine.AuditBufferSize)
	opts.Audit = audit
	opts.Notifier = rules.LogNotifier{}

	engine, err := rules.NewEngine(store, opts)
	if err != nil {
		logger.Fatal("failed to create engine", "error", err)
	}

	serverOpts := ServerOptions{
		DB:                   db,
		MaxBodyBytes:         cfg.Server.MaxBodyBytes,
		SlowRequestThreshold: cfg.Server.SlowRequestThreshold,
	}
	if cfg.Metrics.Enabled {
		serverOpts.Gatherer = registry
		serverOpts.MetricsPath = cfg.Metrics.Path
	}
	server := NewServer(engine, ruletest.NewRunner(engine, cfg.Engine.RunnerOptions()), serverOpts)

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * cfg.Server.ReadTimeout,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "postgres", db != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := audit.Close(ctx); err != nil {
		logger.Warn("audit queue not drained", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}
	logger.Info("server stopped")
}

// openStore returns the in-memory store when no database URL is configured.
func openStore(cfg config.DatabaseConfig) (rules.RuleStore, *sql.DB, error) {
	if cfg.URL == "" {
		logger.Warn("no database configured, using in-memory rule store")
		return rules.NewInMemoryRuleStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrateUp(db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return rules.NewPostgresRuleStore(db), db, nil
}

// migrateUp applies the embedded migrations over an open connection.
func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database migrations applied")
	return nil
}
