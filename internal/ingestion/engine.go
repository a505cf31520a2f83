package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/zonal/internal/aliases"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/stwalsh4118/zonal/internal/observability"
	"golang.org/x/sync/errgroup"
)

// ErrDatasetVersionRequired is returned when a run has no dataset version.
var ErrDatasetVersionRequired = errors.New("dataset version is required")

// RecordSink appends canonical records. Implementations must not update or
// merge existing rows.
type RecordSink interface {
	InsertBatch(ctx context.Context, records []models.ZonalValue) (int64, error)
}

// SheetReport is the per-sheet outcome of a run.
type SheetReport struct {
	Sheet    string `json:"sheet"`
	Strategy string `json:"strategy"`
	Accepted int    `json:"acceptedCount"`
	Skipped  int    `json:"skippedCount"`
}

// FileReport is the per-file outcome of a run. Error is set when the file
// was aborted; rows stored before the failure stay in the store and are
// counted in Sheets.
type FileReport struct {
	File   string        `json:"file"`
	Error  string        `json:"error,omitempty"`
	Sheets []SheetReport `json:"sheets"`
}

// Accepted totals accepted rows across sheets.
func (f FileReport) Accepted() int {
	n := 0
	for _, s := range f.Sheets {
		n += s.Accepted
	}
	return n
}

// Skipped totals skipped rows across sheets.
func (f FileReport) Skipped() int {
	n := 0
	for _, s := range f.Sheets {
		n += s.Skipped
	}
	return n
}

// RunReport summarizes one ingestion run.
type RunReport struct {
	RunID          string       `json:"runId"`
	DatasetVersion string       `json:"datasetVersion"`
	Files          []FileReport `json:"files"`
	AcceptedCount  int          `json:"acceptedCount"`
	SkippedCount   int          `json:"skippedCount"`
	FailedFiles    int          `json:"failedFiles"`
}

// EngineConfig tunes parallelism and batching.
type EngineConfig struct {
	Workers   int
	BatchSize int
}

// Engine reads workbooks, extracts canonical records and appends them
// to a RecordSink.
type Engine struct {
	sink      RecordSink
	selector  *Selector
	log       *logger.Logger
	workers   int
	batchSize int
}

// NewEngine builds an engine using the structured strategy and a generic
// strategy over resolver.
func NewEngine(sink RecordSink, resolver *aliases.Resolver, log *logger.Logger, cfg EngineConfig) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1000
	}
	return &Engine{
		sink:      sink,
		selector:  NewSelector(NewStructured(resolver), NewGeneric(resolver)),
		log:       log,
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
	}
}

// ListWorkbooks returns the supported files directly inside dir, ordered by
// lowercase name.
func ListWorkbooks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsSupported(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return strings.ToLower(filepath.Base(paths[i])) < strings.ToLower(filepath.Base(paths[j]))
	})
	return paths, nil
}

// IngestFolder ingests every supported workbook in dir.
func (e *Engine) IngestFolder(ctx context.Context, dir string, opts Options) (*RunReport, error) {
	paths, err := ListWorkbooks(dir)
	if err != nil {
		return nil, err
	}
	return e.IngestFiles(ctx, paths, opts)
}

// IngestFiles ingests paths in parallel. A failing file is recorded in its
// FileReport and never stops the others; only an invalid request or a
// cancelled context returns an error.
func (e *Engine) IngestFiles(ctx context.Context, paths []string, opts Options) (*RunReport, error) {
	opts.DatasetVersion = strings.TrimSpace(opts.DatasetVersion)
	if opts.DatasetVersion == "" {
		return nil, ErrDatasetVersionRequired
	}

	report := &RunReport{
		RunID:          uuid.New().String(),
		DatasetVersion: opts.DatasetVersion,
		Files:          make([]FileReport, len(paths)),
	}
	log := e.log.WithRun(report.RunID)
	log.Info("Ingestion run started", map[string]interface{}{
		"files":           len(paths),
		"dataset_version": opts.DatasetVersion,
		"workers":         e.workers,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report.Files[i] = e.ingestFile(gctx, log, path, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingestion run %s: %w", report.RunID, err)
	}

	for _, f := range report.Files {
		report.AcceptedCount += f.Accepted()
		report.SkippedCount += f.Skipped()
		if f.Error != "" {
			report.FailedFiles++
		}
	}

	log.Info("Ingestion run finished", map[string]interface{}{
		"accepted":     report.AcceptedCount,
		"skipped":      report.SkippedCount,
		"failed_files": report.FailedFiles,
	})
	return report, nil
}

func (e *Engine) ingestFile(ctx context.Context, log *logger.Logger, path string, opts Options) FileReport {
	start := time.Now()
	defer func() { observability.IngestDuration.Observe(time.Since(start).Seconds()) }()

	fr := FileReport{File: filepath.Base(path), Sheets: []SheetReport{}}
	flog := log.With(map[string]interface{}{"file": fr.File})

	wb, err := ReadWorkbook(path)
	if err != nil {
		return e.failFile(flog, fr, err)
	}

	for _, sheet := range wb.Sheets {
		sel := e.selector.Extract(sheet, opts)
		accepted := len(sel.Extraction.Records)

		stored, err := e.store(ctx, sel.Extraction.Records)
		observability.RowsAccepted.WithLabelValues(sel.Strategy).Add(float64(stored))
		observability.RowsSkipped.WithLabelValues(sel.Strategy).Add(float64(sel.Extraction.Skipped))
		fr.Sheets = append(fr.Sheets, SheetReport{
			Sheet:    sheet.Name,
			Strategy: sel.Strategy,
			Accepted: stored,
			Skipped:  sel.Extraction.Skipped,
		})
		if err != nil {
			return e.failFile(flog, fr, fmt.Errorf("store sheet %q after %d of %d rows: %w", sheet.Name, stored, accepted, err))
		}
		flog.Debug("Sheet ingested", map[string]interface{}{
			"sheet":    sheet.Name,
			"strategy": sel.Strategy,
			"accepted": accepted,
			"skipped":  sel.Extraction.Skipped,
		})
	}

	flog.Info("Workbook ingested", map[string]interface{}{
		"sheets":   len(fr.Sheets),
		"accepted": fr.Accepted(),
		"skipped":  fr.Skipped(),
	})
	return fr
}

func (e *Engine) failFile(log *logger.Logger, fr FileReport, err error) FileReport {
	observability.FilesFailed.Inc()
	log.Error("Workbook import aborted", err, nil)
	fr.Error = err.Error()
	return fr
}

// store appends records in batches and returns how many reached the sink.
// Batches appended before a failure are counted and stay in the store.
func (e *Engine) store(ctx context.Context, records []models.ZonalValue) (int, error) {
	stored := 0
	for start := 0; start < len(records); start += e.batchSize {
		end := start + e.batchSize
		if end > len(records) {
			end = len(records)
		}
		if _, err := e.sink.InsertBatch(ctx, records[start:end]); err != nil {
			return stored, err
		}
		stored += end - start
	}
	return stored, nil
}
