package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/memoria/internal/api"
	"github.com/nidhogg/memoria/internal/config"
	"github.com/nidhogg/memoria/internal/janitor"
	"github.com/nidhogg/memoria/internal/memory"
	pgstore "github.com/nidhogg/memoria/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting memoria...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/memoria.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize persistence. Without a DSN the daemon runs on the
	// in-memory store: usable for development, not durable.
	var db memory.Persistence
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Fatal("PostgreSQL unavailable", zap.Error(pgErr))
		}
		if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
			logger.Fatal("migration failed", zap.Error(mErr))
		}
		defer ps.Close()
		db = ps
	} else {
		logger.Warn("no postgres DSN configured, using volatile in-memory persistence")
		db = memory.NewInMemoryPersistence()
	}

	// Compose the memory facade. Construction is explicit: this is the
	// only place instances are created.
	mem := memory.New(db, memory.Config{
		EntryCacheSize:   cfg.Memory.EntryCacheSize,
		PatternCacheSize: cfg.Memory.PatternCacheSize,
	}, logger)

	// Start the cleanup janitor.
	interval := cfg.Janitor.Interval()
	jan, err := janitor.New(mem, cfg.Database.Redis.URL, interval, cfg.Janitor.Lease(interval),
		memory.CleanupOptions{
			MinSuccessRate: cfg.Memory.MinSuccessRate,
			MinUsageCount:  cfg.Memory.MinUsageCount,
		}, logger)
	if err != nil {
		logger.Fatal("janitor init failed", zap.Error(err))
	}
	defer jan.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jan.Run(ctx)

	// Ops HTTP server.
	port := cfg.Server.Port
	if port == 0 {
		port = 8085
	}
	handler := api.NewHandler(mem, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("ops server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ops server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", zap.Error(err))
	}
}
