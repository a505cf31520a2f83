package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stwalsh4118/zonal/internal/cache"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/stwalsh4118/zonal/internal/observability"
	"github.com/stwalsh4118/zonal/internal/query"
	"github.com/stwalsh4118/zonal/internal/repository"
)

// Location children limit constants
const (
	DefaultChildrenLimit = 1000
	MaxChildrenLimit     = 5000
)

// Service-level errors
var (
	ErrZonalValueNotFound = errors.New("zonal value not found")
	ErrInvalidPage        = errors.New("page must be at least 1")
	ErrInvalidPageSize    = errors.New("invalid page size")
	ErrInvalidLimit       = errors.New("limit must be between 1 and 5000")
	ErrInvalidID          = errors.New("id must be a positive integer")
	ErrStreetRequired     = errors.New("street is required")
)

// ExportSink receives the export metadata before any row, then each row in
// canonical order.
type ExportSink interface {
	Begin(meta models.ExportMeta) error
	Write(z *models.ZonalValue) error
}

// ZonalService defines the read-side business operations on zonal values.
type ZonalService interface {
	// List returns one page of matching records.
	// A zero pageSize selects the configured default.
	// Returns ErrInvalidPage or ErrInvalidPageSize for out-of-range paging.
	List(ctx context.Context, f query.Filters, page, pageSize int) (*models.Page, error)

	// Summary computes aggregate metrics over every matching record.
	Summary(ctx context.Context, f query.Filters) (*models.Summary, error)

	// Export streams matching records to sink, capped at the configured row
	// limit. The returned metadata is the same value passed to sink.Begin.
	Export(ctx context.Context, f query.Filters, sink ExportSink) (models.ExportMeta, error)

	// FilterOptions lists distinct values for each categorical field.
	FilterOptions(ctx context.Context) (*models.FilterOptions, error)

	// LocationChildren lists the cities (and barangays) under a province.
	// A zero limit selects DefaultChildrenLimit.
	// Returns ErrInvalidLimit when limit is outside 1..MaxChildrenLimit.
	LocationChildren(ctx context.Context, province, city string, limit int) (*models.LocationChildren, error)

	// Get retrieves a record by id.
	// Returns ErrZonalValueNotFound if no record has that id.
	Get(ctx context.Context, id int64) (*models.ZonalValue, error)

	// ScopeCheck reports whether scope has a specific (non catch-all)
	// record whose street contains street.
	// Returns ErrStreetRequired when street is blank.
	ScopeCheck(ctx context.Context, scope models.Scope, street string) (bool, error)
}

// zonalService is the concrete implementation of ZonalService.
type zonalService struct {
	repo  repository.ZonalRepository
	cache cache.Cache
	cfg   config.QueryConfig
	log   *logger.Logger
}

// NewZonalService creates a new instance of ZonalService. A nil cache
// disables caching.
func NewZonalService(repo repository.ZonalRepository, c cache.Cache, cfg config.QueryConfig, log *logger.Logger) ZonalService {
	if c == nil {
		c = cache.Noop()
	}
	return &zonalService{
		repo:  repo,
		cache: c,
		cfg:   cfg,
		log:   log,
	}
}

// List validates paging, then counts and fetches the requested page.
func (s *zonalService) List(ctx context.Context, f query.Filters, page, pageSize int) (*models.Page, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPage, page)
	}
	if pageSize == 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize < 1 || pageSize > s.cfg.MaxPageSize {
		s.log.Warn("Invalid page size provided", map[string]interface{}{
			"page_size": pageSize,
		})
		return nil, fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidPageSize, s.cfg.MaxPageSize, pageSize)
	}
	if page-1 > math.MaxInt/pageSize {
		return nil, fmt.Errorf("%w: page %d is out of range", ErrInvalidPage, page)
	}

	total, err := s.repo.Count(ctx, f)
	if err != nil {
		s.log.Error("Failed to count zonal values", err, nil)
		return nil, fmt.Errorf("failed to count zonal values: %w", err)
	}

	items, err := s.repo.List(ctx, f, pageSize, (page-1)*pageSize)
	if err != nil {
		s.log.Error("Failed to list zonal values", err, map[string]interface{}{
			"page":      page,
			"page_size": pageSize,
		})
		return nil, fmt.Errorf("failed to list zonal values: %w", err)
	}

	s.log.Debug("Zonal values listed", map[string]interface{}{
		"page":  page,
		"count": len(items),
		"total": total,
	})
	return &models.Page{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Summary is served from the cache when possible.
func (s *zonalService) Summary(ctx context.Context, f query.Filters) (*models.Summary, error) {
	summary, err := readThrough(ctx, s, cache.Key("summary", f.CacheKey()), func() (*models.Summary, error) {
		return s.repo.Summary(ctx, f)
	})
	if err != nil {
		s.log.Error("Failed to summarize zonal values", err, nil)
		return nil, fmt.Errorf("failed to summarize zonal values: %w", err)
	}
	return summary, nil
}

// Export counts the matches first so the truncation signal is known before
// the first row is written.
func (s *zonalService) Export(ctx context.Context, f query.Filters, sink ExportSink) (models.ExportMeta, error) {
	total, err := s.repo.Count(ctx, f)
	if err != nil {
		s.log.Error("Failed to count export rows", err, nil)
		return models.ExportMeta{}, fmt.Errorf("failed to count export rows: %w", err)
	}

	meta := models.ExportMeta{
		Truncated:    total > int64(s.cfg.ExportRowLimit),
		RowLimit:     s.cfg.ExportRowLimit,
		TotalMatches: total,
	}
	if meta.Truncated {
		observability.ExportsTruncated.Inc()
		s.log.Warn("Export truncated at row limit", map[string]interface{}{
			"total_matches": total,
			"row_limit":     s.cfg.ExportRowLimit,
		})
	}

	if err := sink.Begin(meta); err != nil {
		return meta, fmt.Errorf("failed to start export: %w", err)
	}
	if err := s.repo.Stream(ctx, f, s.cfg.ExportRowLimit, sink.Write); err != nil {
		s.log.Error("Failed to stream export rows", err, nil)
		return meta, fmt.Errorf("failed to stream export rows: %w", err)
	}

	s.log.Info("Export completed", map[string]interface{}{
		"total_matches": total,
		"truncated":     meta.Truncated,
	})
	return meta, nil
}

// FilterOptions is served from the cache when possible.
func (s *zonalService) FilterOptions(ctx context.Context) (*models.FilterOptions, error) {
	limit := s.cfg.FilterOptionsLimit
	opts, err := readThrough(ctx, s, cache.Key("filters", strconv.Itoa(limit)), func() (*models.FilterOptions, error) {
		return s.repo.FilterOptions(ctx, limit)
	})
	if err != nil {
		s.log.Error("Failed to load filter options", err, nil)
		return nil, fmt.Errorf("failed to load filter options: %w", err)
	}
	return opts, nil
}

// LocationChildren validates the limit and is served from the cache when
// possible.
func (s *zonalService) LocationChildren(ctx context.Context, province, city string, limit int) (*models.LocationChildren, error) {
	if limit == 0 {
		limit = DefaultChildrenLimit
	}
	if limit < 1 || limit > MaxChildrenLimit {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}

	province = strings.TrimSpace(province)
	city = strings.TrimSpace(city)
	if province == "" {
		return &models.LocationChildren{Cities: []string{}, Barangays: []string{}}, nil
	}

	key := cache.Key("children", cache.Digest(strings.ToLower(province), strings.ToLower(city), strconv.Itoa(limit)))
	children, err := readThrough(ctx, s, key, func() (*models.LocationChildren, error) {
		return s.repo.LocationChildren(ctx, province, city, limit)
	})
	if err != nil {
		s.log.Error("Failed to load location children", err, map[string]interface{}{
			"province": province,
			"city":     city,
		})
		return nil, fmt.Errorf("failed to load location children: %w", err)
	}
	return children, nil
}

// Get retrieves a single record.
func (s *zonalService) Get(ctx context.Context, id int64) (*models.ZonalValue, error) {
	if id < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidID, id)
	}

	z, err := s.repo.FindByID(ctx, id)
	if err != nil {
		s.log.Error("Failed to query zonal value", err, map[string]interface{}{
			"id": id,
		})
		return nil, fmt.Errorf("failed to query zonal value: %w", err)
	}

	// Repository returns nil, nil when no record found - transform to domain error
	if z == nil {
		s.log.Debug("No zonal value found", map[string]interface{}{
			"id": id,
		})
		return nil, ErrZonalValueNotFound
	}
	return z, nil
}

// ScopeCheck runs the catch-all suppression test for one scope.
func (s *zonalService) ScopeCheck(ctx context.Context, scope models.Scope, street string) (bool, error) {
	if strings.TrimSpace(street) == "" {
		return false, ErrStreetRequired
	}

	found, err := s.repo.ScopeHasSpecificStreet(ctx, scope, street)
	if err != nil {
		s.log.Error("Failed to check scope", err, map[string]interface{}{
			"province": scope.Province,
			"city":     scope.City,
			"barangay": scope.Barangay,
		})
		return false, fmt.Errorf("failed to check scope: %w", err)
	}
	return found, nil
}

// readThrough returns the cached value for key or loads and stores it.
// Cache failures are logged and never fail the request.
func readThrough[T any](ctx context.Context, s *zonalService, key string, load func() (*T, error)) (*T, error) {
	var cached T
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn("Cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	if hit {
		return &cached, nil
	}

	v, err := load()
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, v); err != nil {
		s.log.Warn("Cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return v, nil
}
