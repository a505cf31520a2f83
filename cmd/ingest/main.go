// Command ingest loads zonal value workbooks into the canonical store.
//
// Usage:
//
//	ingest -folder ./data -dataset-version 2024-01
//	ingest -files a.xlsx,b.xls -dataset-version 2024-01 -default-province Cebu
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/stwalsh4118/zonal/internal/aliases"
	"github.com/stwalsh4118/zonal/internal/cache"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/database"
	"github.com/stwalsh4118/zonal/internal/indexes"
	"github.com/stwalsh4118/zonal/internal/ingestion"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/repository"
	"github.com/stwalsh4118/zonal/internal/services"
)

func main() {
	folder := flag.String("folder", "", "ingest every supported workbook in this folder")
	files := flag.String("files", "", "comma-separated workbook paths to ingest")
	datasetVersion := flag.String("dataset-version", "", "dataset version label stamped on every record (required)")
	defaultRegion := flag.String("default-region", "", "region applied when a workbook has none")
	defaultProvince := flag.String("default-province", "", "province applied when a workbook has none")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(logger.Options{Env: cfg.Server.Env, Level: cfg.Server.LogLevel, Writer: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths, err := resolvePaths(*folder, *files)
	if err != nil {
		log.Fatal("Invalid arguments", err, nil)
	}

	report, err := run(ctx, cfg, log, paths, ingestion.Options{
		DatasetVersion:  *datasetVersion,
		DefaultRegion:   *defaultRegion,
		DefaultProvince: *defaultProvince,
	})
	if err != nil {
		log.Fatal("Ingestion failed", err, nil)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatal("Failed to write run report", err, nil)
	}
	if report.FailedFiles > 0 {
		os.Exit(2)
	}
}

func resolvePaths(folder, files string) ([]string, error) {
	switch {
	case folder != "" && files != "":
		return nil, errors.New("use either -folder or -files, not both")
	case folder != "":
		return ingestion.ListWorkbooks(folder)
	case files != "":
		var paths []string
		for _, p := range strings.Split(files, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		return paths, nil
	default:
		return nil, errors.New("one of -folder or -files is required")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, paths []string, opts ingestion.Options) (*ingestion.RunReport, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	caps, err := indexes.Ensure(ctx, db, log)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	resolver, err := aliases.LoadFile(cfg.Ingest.AliasFile)
	if err != nil {
		return nil, err
	}

	repo := repository.NewZonalRepository(db, caps.SearchMode())
	engine := ingestion.NewEngine(repo, resolver, log, ingestion.EngineConfig{
		Workers:   cfg.Ingest.Workers,
		BatchSize: cfg.Ingest.BatchSize,
	})
	queryCache, err := cache.Connect(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}
	defer queryCache.Close()

	return services.NewImportService(engine, queryCache, cfg.Ingest, log).ImportFiles(ctx, paths, opts)
}
