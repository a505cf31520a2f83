package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stwalsh4118/zonal/internal/cache"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/ingestion"
	"github.com/stwalsh4118/zonal/internal/logger"
)

// Import errors
var (
	ErrNoFiles                = errors.New("at least one file is required")
	ErrUnsupportedFile        = errors.New("unsupported file type")
	ErrDatasetVersionRequired = ingestion.ErrDatasetVersionRequired
)

// Ingester runs one ingestion over a set of workbook paths.
type Ingester interface {
	IngestFiles(ctx context.Context, paths []string, opts ingestion.Options) (*ingestion.RunReport, error)
}

// ImportService defines the write-side operation: ingesting uploaded workbooks.
type ImportService interface {
	// ImportFiles ingests the workbooks at paths under one dataset version.
	// Returns ErrNoFiles, ErrUnsupportedFile or ErrDatasetVersionRequired for
	// invalid requests. Per-file failures are reported in the run report,
	// not as an error. Cached query results are dropped once rows may
	// have been stored.
	ImportFiles(ctx context.Context, paths []string, opts ingestion.Options) (*ingestion.RunReport, error)
}

// importService is the concrete implementation of ImportService.
type importService struct {
	ingester Ingester
	cache    cache.Cache
	defaults config.IngestConfig
	log      *logger.Logger
}

// NewImportService creates a new instance of ImportService. Default region
// and province from defaults apply when a request leaves them empty. A nil
// cache disables invalidation.
func NewImportService(ingester Ingester, c cache.Cache, defaults config.IngestConfig, log *logger.Logger) ImportService {
	if c == nil {
		c = cache.Noop()
	}
	return &importService{
		ingester: ingester,
		cache:    c,
		defaults: defaults,
		log:      log,
	}
}

// ImportFiles validates the request and hands it to the ingestion engine.
func (s *importService) ImportFiles(ctx context.Context, paths []string, opts ingestion.Options) (*ingestion.RunReport, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}
	opts.DatasetVersion = strings.TrimSpace(opts.DatasetVersion)
	if opts.DatasetVersion == "" {
		return nil, ErrDatasetVersionRequired
	}
	for _, p := range paths {
		if !ingestion.IsSupported(p) {
			s.log.Warn("Unsupported import file", map[string]interface{}{
				"file": filepath.Base(p),
			})
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Base(p))
		}
	}

	if opts.DefaultRegion == "" {
		opts.DefaultRegion = s.defaults.DefaultRegion
	}
	if opts.DefaultProvince == "" {
		opts.DefaultProvince = s.defaults.DefaultProvince
	}

	report, err := s.ingester.IngestFiles(ctx, paths, opts)
	// an aborted run may still have appended batches
	if err != nil || report.AcceptedCount > 0 {
		s.invalidate(ctx)
	}
	if err != nil {
		s.log.Error("Import failed", err, map[string]interface{}{
			"dataset_version": opts.DatasetVersion,
			"files":           len(paths),
		})
		return nil, fmt.Errorf("failed to import files: %w", err)
	}

	s.log.Info("Import completed", map[string]interface{}{
		"run_id":       report.RunID,
		"accepted":     report.AcceptedCount,
		"skipped":      report.SkippedCount,
		"failed_files": report.FailedFiles,
	})
	return report, nil
}

// invalidate drops cached query results. A failure is logged; entries then
// expire with their TTL.
func (s *importService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn("Cache invalidation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
