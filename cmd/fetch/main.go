// Command fetch downloads zonal value workbooks linked from a portal page and
// optionally ingests them.
//
// Usage:
//
//	fetch -index-url https://example.gov/zonal-values -out ./data/raw
//	fetch -index-url https://example.gov/zonal-values -out ./data/raw -ingest -dataset-version 2024-01
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stwalsh4118/zonal/internal/aliases"
	"github.com/stwalsh4118/zonal/internal/cache"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/database"
	"github.com/stwalsh4118/zonal/internal/discovery"
	"github.com/stwalsh4118/zonal/internal/indexes"
	"github.com/stwalsh4118/zonal/internal/ingestion"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/repository"
	"github.com/stwalsh4118/zonal/internal/services"
)

func main() {
	indexURL := flag.String("index-url", "", "portal page listing workbook attachments (required)")
	outDir := flag.String("out", "./data/raw", "output directory for downloads, extracted workbooks and the manifest")
	workers := flag.Int("workers", 4, "parallel downloads")
	ingest := flag.Bool("ingest", false, "ingest the extracted workbooks after fetching")
	datasetVersion := flag.String("dataset-version", "", "dataset version for -ingest")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithOptions(logger.Options{Env: cfg.Server.Env, Level: cfg.Server.LogLevel, Writer: os.Stderr})

	if *indexURL == "" {
		log.Fatal("Invalid arguments", errors.New("-index-url is required"), nil)
	}
	if *ingest && *datasetVersion == "" {
		log.Fatal("Invalid arguments", errors.New("-dataset-version is required with -ingest"), nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := discovery.NewFetcher(nil, log, *workers)
	manifest, err := fetcher.Run(ctx, *indexURL, *outDir)
	if err != nil {
		log.Fatal("Fetch failed", err, map[string]interface{}{
			"index_url": *indexURL,
		})
	}

	var output interface{} = manifest
	if *ingest {
		report, err := ingestWorkbooks(ctx, cfg, log, manifest.Workbooks(), *datasetVersion)
		if err != nil {
			log.Fatal("Ingestion failed", err, nil)
		}
		output = struct {
			Manifest *discovery.Manifest  `json:"manifest"`
			Ingest   *ingestion.RunReport `json:"ingest"`
		}{manifest, report}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		log.Fatal("Failed to write result", err, nil)
	}
}

func ingestWorkbooks(ctx context.Context, cfg *config.Config, log *logger.Logger, paths []string, datasetVersion string) (*ingestion.RunReport, error) {
	if len(paths) == 0 {
		return nil, services.ErrNoFiles
	}

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

	return services.NewImportService(engine, queryCache, cfg.Ingest, log).ImportFiles(ctx, paths, ingestion.Options{
		DatasetVersion: datasetVersion,
	})
}
