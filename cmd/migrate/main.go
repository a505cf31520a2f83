// Command migrate copies an embedded SQLite store into the configured
// PostgreSQL database, preserving record ids.
//
// Usage:
//
//	migrate -sqlite-path ./zonal.db
//	migrate -sqlite-path ./zonal.db -reset
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stwalsh4118/zonal/internal/cache"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/database"
	"github.com/stwalsh4118/zonal/internal/indexes"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/transfer"
)

func main() {
	sqlitePath := flag.String("sqlite-path", "", "source SQLite database file (defaults to SQLITE_PATH)")
	reset := flag.Bool("reset", false, "drop and recreate the target table before copying")
	batchSize := flag.Int("batch-size", transfer.DefaultBatchSize, "records per copy batch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(logger.Options{Env: cfg.Server.Env, Level: cfg.Server.LogLevel, Writer: os.Stderr})

	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatal("Target database must be PostgreSQL", nil, map[string]interface{}{
			"driver": cfg.Database.Driver,
		})
	}
	path := *sqlitePath
	if path == "" {
		path = cfg.Database.SQLitePath
	}
	if _, err := os.Stat(path); err != nil {
		log.Fatal("Source SQLite database not found", err, map[string]interface{}{
			"path": path,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, cfg, log, path, transfer.Options{Reset: *reset, BatchSize: *batchSize})
	if err != nil {
		log.Fatal("Migration failed", err, nil)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatal("Failed to write migration result", err, nil)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, path string, opts transfer.Options) (*transfer.Result, error) {
	src, err := database.NewSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	dst, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target: %w", err)
	}
	defer dst.Close()

	res, err := transfer.Copy(ctx, src, dst, opts, log)
	if err != nil {
		return nil, err
	}

	caps, err := indexes.Ensure(ctx, dst, log)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	log.Info("Target ready", map[string]interface{}{
		"search_mode": caps.SearchMode().String(),
	})

	// the server may have cached results from the old target contents
	queryCache, err := cache.Connect(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
	if err != nil {
		log.Warn("Cache unavailable, cached results expire with their TTL", map[string]interface{}{
			"error": err.Error(),
		})
		return res, nil
	}
	defer queryCache.Close()
	if err := queryCache.Invalidate(ctx); err != nil {
		log.Warn("Cache invalidation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return res, nil
}
