package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apierrors "github.com/stwalsh4118/zonal/internal/errors"
	"github.com/stwalsh4118/zonal/internal/export"
	"github.com/stwalsh4118/zonal/internal/middleware"
	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/stwalsh4118/zonal/internal/query"
	"github.com/stwalsh4118/zonal/internal/services"
)

// ZonalHandler handles zonal value query HTTP requests.
type ZonalHandler struct {
	service services.ZonalService
}

// NewZonalHandler creates a new ZonalHandler instance.
func NewZonalHandler(service services.ZonalService) *ZonalHandler {
	return &ZonalHandler{
		service: service,
	}
}

// ListRequest represents the query parameters for the list endpoint.
type ListRequest struct {
	query.RawFilters
	Page     *int `form:"page" binding:"omitempty,min=1"`
	PageSize *int `form:"page_size" binding:"omitempty,min=1"`
}

// ExportRequest represents the query parameters for the export endpoint.
type ExportRequest struct {
	query.RawFilters
	Format string `form:"format"`
}

// LocationChildrenRequest represents the query parameters for the
// location-children endpoint.
type LocationChildrenRequest struct {
	Province string `form:"province" binding:"required"`
	City     string `form:"city"`
	Limit    *int   `form:"limit" binding:"omitempty,min=1,max=5000"`
}

// ScopeCheckRequest represents the query parameters for the scope-check endpoint.
type ScopeCheckRequest struct {
	Province       string `form:"province"`
	City           string `form:"city"`
	Barangay       string `form:"barangay"`
	PropertyClass  string `form:"property_class"`
	DatasetVersion string `form:"dataset_version"`
	Street         string `form:"street" binding:"required"`
}

// ZonalValueData represents one record in API responses.
// Field order is optimized for memory alignment.
type ZonalValueData struct {
	RDOCode           *string `json:"rdo_code"`
	Region            *string `json:"region"`
	Province          *string `json:"province"`
	CityMunicipality  *string `json:"city_municipality"`
	Barangay          *string `json:"barangay"`
	StreetSubdivision *string `json:"street_subdivision"`
	PropertyClass     *string `json:"property_class"`
	PropertyType      *string `json:"property_type"`
	ZonalValue        *string `json:"zonal_value"`
	Unit              *string `json:"unit"`
	EffectivityDate   *string `json:"effectivity_date"`
	Remarks           *string `json:"remarks"`
	SourceFile        string  `json:"source_file"`
	SourceSheet       string  `json:"source_sheet"`
	DatasetVersion    string  `json:"dataset_version"`
	CreatedAt         string  `json:"created_at"`
	ID                int64   `json:"id"`
	SourceRow         int     `json:"source_row"`
}

// PageResponse represents the response for the list endpoint.
type PageResponse struct {
	Items    []ZonalValueData `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// ClassCountData is one entry of the class breakdown.
type ClassCountData struct {
	PropertyClass string `json:"property_class"`
	Count         int64  `json:"count"`
}

// SummaryResponse represents the response for the summary endpoint.
type SummaryResponse struct {
	MinValue         *string          `json:"min_value"`
	MaxValue         *string          `json:"max_value"`
	MedianValue      *string          `json:"median_value"`
	ClassMix         []ClassCountData `json:"class_mix"`
	Total            int64            `json:"total"`
	CatchAllCount    int64            `json:"catch_all_count"`
	ExactStreetCount int64            `json:"exact_street_count"`
}

// FilterOptionsResponse represents the response for the filters endpoint.
type FilterOptionsResponse struct {
	Regions         []string `json:"regions"`
	Provinces       []string `json:"provinces"`
	Cities          []string `json:"cities"`
	Barangays       []string `json:"barangays"`
	PropertyClasses []string `json:"property_classes"`
	PropertyTypes   []string `json:"property_types"`
	DatasetVersions []string `json:"dataset_versions"`
}

// LocationChildrenResponse represents the response for the location-children endpoint.
type LocationChildrenResponse struct {
	Cities    []string `json:"cities"`
	Barangays []string `json:"barangays"`
}

// ScopeCheckResponse represents the response for the scope-check endpoint.
type ScopeCheckResponse struct {
	HasSpecificStreet bool `json:"has_specific_street"`
}

// List handles GET /api/v1/zonal-values endpoint.
func (h *ZonalHandler) List(c *gin.Context) {
	var req ListRequest
	if !bindQuery(c, &req) {
		return
	}
	f, ok := parseFilters(c, req.RawFilters)
	if !ok {
		return
	}

	page := 1
	if req.Page != nil {
		page = *req.Page
	}
	pageSize := 0
	if req.PageSize != nil {
		pageSize = *req.PageSize
	}

	result, err := h.service.List(c.Request.Context(), f, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPage) || errors.Is(err, services.ErrInvalidPageSize) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to query zonal values", err)
		return
	}

	items := make([]ZonalValueData, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, mapZonalValueToDTO(&result.Items[i]))
	}
	c.JSON(http.StatusOK, PageResponse{
		Items:    items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	})
}

// Summary handles GET /api/v1/zonal-values/summary endpoint.
func (h *ZonalHandler) Summary(c *gin.Context) {
	var req query.RawFilters
	if !bindQuery(c, &req) {
		return
	}
	f, ok := parseFilters(c, req)
	if !ok {
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), f)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to summarize zonal values", err)
		return
	}
	c.JSON(http.StatusOK, mapSummaryToDTO(summary))
}

// Export handles GET /api/v1/zonal-values/export endpoint.
// Truncation metadata is sent in headers before the first row.
func (h *ZonalHandler) Export(c *gin.Context) {
	var req ExportRequest
	if !bindQuery(c, &req) {
		return
	}
	f, ok := parseFilters(c, req.RawFilters)
	if !ok {
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		apierrors.InvalidFields(c, map[string]string{"format": "Must be one of: csv xlsx"})
		return
	}

	sink := &httpExportSink{c: c, format: format}
	_, err = h.service.Export(c.Request.Context(), f, sink)
	if err != nil && !sink.begun() {
		apierrors.InternalServerError(c, "Failed to export zonal values", err)
		return
	}
	if err != nil {
		// Headers are already sent; the truncated body is all we can do.
		if log := middleware.GetLogger(c); log != nil {
			log.Error("Export aborted mid-stream", err, nil)
		}
		_ = c.Error(err)
	}
	if closeErr := sink.close(); closeErr != nil {
		if log := middleware.GetLogger(c); log != nil {
			log.Error("Failed to finish export document", closeErr, nil)
		}
	}
}

// Filters handles GET /api/v1/zonal-values/filters endpoint.
func (h *ZonalHandler) Filters(c *gin.Context) {
	opts, err := h.service.FilterOptions(c.Request.Context())
	if err != nil {
		apierrors.InternalServerError(c, "Failed to load filter options", err)
		return
	}
	c.JSON(http.StatusOK, FilterOptionsResponse{
		Regions:         opts.Regions,
		Provinces:       opts.Provinces,
		Cities:          opts.Cities,
		Barangays:       opts.Barangays,
		PropertyClasses: opts.PropertyClasses,
		PropertyTypes:   opts.PropertyTypes,
		DatasetVersions: opts.DatasetVersions,
	})
}

// LocationChildren handles GET /api/v1/zonal-values/location-children endpoint.
func (h *ZonalHandler) LocationChildren(c *gin.Context) {
	var req LocationChildrenRequest
	if !bindQuery(c, &req) {
		return
	}

	limit := 0
	if req.Limit != nil {
		limit = *req.Limit
	}
	children, err := h.service.LocationChildren(c.Request.Context(), req.Province, req.City, limit)
	if err != nil {
		if errors.Is(err, services.ErrInvalidLimit) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to load location children", err)
		return
	}
	c.JSON(http.StatusOK, LocationChildrenResponse{
		Cities:    children.Cities,
		Barangays: children.Barangays,
	})
}

// ScopeCheck handles GET /api/v1/zonal-values/scope-check endpoint.
func (h *ZonalHandler) ScopeCheck(c *gin.Context) {
	var req ScopeCheckRequest
	if !bindQuery(c, &req) {
		return
	}

	scope := models.Scope{
		Province:       req.Province,
		City:           req.City,
		Barangay:       req.Barangay,
		PropertyClass:  req.PropertyClass,
		DatasetVersion: req.DatasetVersion,
	}
	found, err := h.service.ScopeCheck(c.Request.Context(), scope, req.Street)
	if err != nil {
		if errors.Is(err, services.ErrStreetRequired) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		apierrors.InternalServerError(c, "Failed to check scope", err)
		return
	}
	c.JSON(http.StatusOK, ScopeCheckResponse{HasSpecificStreet: found})
}

// Get handles GET /api/v1/zonal-values/:id endpoint.
func (h *ZonalHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		apierrors.BadRequest(c, "id must be an integer", nil)
		return
	}

	z, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrInvalidID) {
			apierrors.BadRequest(c, err.Error(), nil)
			return
		}
		if errors.Is(err, services.ErrZonalValueNotFound) {
			apierrors.NotFound(c, "Zonal value not found")
			return
		}
		apierrors.InternalServerError(c, "Failed to query zonal value", err)
		return
	}
	c.JSON(http.StatusOK, mapZonalValueToDTO(z))
}

// bindQuery binds query parameters into req, writing the error response
// and returning false when binding fails.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return false
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return false
	}
	return true
}

// parseFilters validates raw filters before any query runs.
func parseFilters(c *gin.Context, raw query.RawFilters) (query.Filters, bool) {
	f, err := query.ParseFilters(raw)
	if err != nil {
		var ve *query.ValidationError
		if errors.As(err, &ve) {
			apierrors.InvalidFields(c, ve.Fields)
			return query.Filters{}, false
		}
		apierrors.BadRequest(c, err.Error(), nil)
		return query.Filters{}, false
	}
	return f, true
}

// httpExportSink writes export metadata as response headers, then streams
// rows through an export.Writer on the response body.
type httpExportSink struct {
	c      *gin.Context
	format export.Format
	writer export.Writer
}

func (s *httpExportSink) Begin(meta models.ExportMeta) error {
	h := s.c.Writer.Header()
	h.Set("Content-Type", s.format.ContentType())
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="zonal-values-%s.%s"`,
		time.Now().UTC().Format("20060102-150405"), s.format))
	h.Set(middleware.ExportTruncatedHeader, strconv.FormatBool(meta.Truncated))
	h.Set(middleware.ExportRowLimitHeader, strconv.Itoa(meta.RowLimit))
	h.Set(middleware.ExportTotalMatchesHeader, strconv.FormatInt(meta.TotalMatches, 10))
	s.c.Status(http.StatusOK)

	w, err := export.NewWriter(s.format, s.c.Writer)
	if err != nil {
		return err
	}
	s.writer = w
	return nil
}

func (s *httpExportSink) Write(z *models.ZonalValue) error {
	return s.writer.Write(z)
}

func (s *httpExportSink) begun() bool {
	return s.writer != nil
}

func (s *httpExportSink) close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// mapZonalValueToDTO converts a model into its API representation.
// Values are rendered with two decimals.
func mapZonalValueToDTO(z *models.ZonalValue) ZonalValueData {
	dto := ZonalValueData{
		ID:                z.ID,
		RDOCode:           z.RDOCode,
		Region:            z.Region,
		Province:          z.Province,
		CityMunicipality:  z.CityMunicipality,
		Barangay:          z.Barangay,
		StreetSubdivision: z.StreetSubdivision,
		PropertyClass:     z.PropertyClass,
		PropertyType:      z.PropertyType,
		Unit:              z.Unit,
		Remarks:           z.Remarks,
		SourceFile:        z.SourceFile,
		SourceSheet:       z.SourceSheet,
		SourceRow:         z.SourceRow,
		DatasetVersion:    z.DatasetVersion,
		CreatedAt:         z.CreatedAt.UTC().Format(time.RFC3339),
	}
	if z.Value.Valid {
		v := z.Value.Decimal.StringFixed(2)
		dto.ZonalValue = &v
	}
	if z.EffectivityDate != nil {
		d := z.EffectivityDate.Format("2006-01-02")
		dto.EffectivityDate = &d
	}
	return dto
}

func mapSummaryToDTO(s *models.Summary) SummaryResponse {
	dto := SummaryResponse{
		Total:            s.Total,
		CatchAllCount:    s.CatchAllCount,
		ExactStreetCount: s.ExactStreetCount,
		ClassMix:         make([]ClassCountData, 0, len(s.ClassMix)),
	}
	if s.Min.Valid {
		v := s.Min.Decimal.StringFixed(2)
		dto.MinValue = &v
	}
	if s.Max.Valid {
		v := s.Max.Decimal.StringFixed(2)
		dto.MaxValue = &v
	}
	if s.Median != nil {
		v := strconv.FormatFloat(*s.Median, 'f', 2, 64)
		dto.MedianValue = &v
	}
	for _, cc := range s.ClassMix {
		dto.ClassMix = append(dto.ClassMix, ClassCountData{PropertyClass: cc.PropertyClass, Count: cc.Count})
	}
	return dto
}
