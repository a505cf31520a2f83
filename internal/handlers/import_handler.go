package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apierrors "github.com/stwalsh4118/zonal/internal/errors"
	"github.com/stwalsh4118/zonal/internal/ingestion"
	"github.com/stwalsh4118/zonal/internal/middleware"
	"github.com/stwalsh4118/zonal/internal/services"
)

// ImportHandler handles workbook upload requests.
type ImportHandler struct {
	service services.ImportService
}

// NewImportHandler creates a new ImportHandler instance.
func NewImportHandler(service services.ImportService) *ImportHandler {
	return &ImportHandler{
		service: service,
	}
}

// ImportRequest represents the non-file form fields of an upload.
type ImportRequest struct {
	DatasetVersion  string `form:"dataset_version" binding:"required"`
	DefaultRegion   string `form:"default_region"`
	DefaultProvince string `form:"default_province"`
}

// SheetReportData is the outcome of one sheet in API responses.
type SheetReportData struct {
	Sheet    string `json:"sheet"`
	Strategy string `json:"strategy"`
	Accepted int    `json:"accepted_count"`
	Skipped  int    `json:"skipped_count"`
}

// FileReportData is the outcome of one file in API responses.
type FileReportData struct {
	File     string            `json:"file"`
	Error    string            `json:"error,omitempty"`
	Sheets   []SheetReportData `json:"sheets"`
	Accepted int               `json:"accepted_count"`
	Skipped  int               `json:"skipped_count"`
}

// ImportResponse represents the response for the import endpoint.
type ImportResponse struct {
	RunID          string           `json:"run_id"`
	DatasetVersion string           `json:"dataset_version"`
	Files          []FileReportData `json:"files"`
	AcceptedCount  int              `json:"accepted_count"`
	SkippedCount   int              `json:"skipped_count"`
	FailedFiles    int              `json:"failed_files"`
}

// Import handles POST /api/v1/imports endpoint.
// Expects a multipart form with one or more "files" parts.
func (h *ImportHandler) Import(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBind(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Expected a multipart form upload", nil)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		apierrors.BadRequest(c, "Expected a multipart form upload", nil)
		return
	}
	uploads := form.File["files"]
	if len(uploads) == 0 {
		apierrors.InvalidFields(c, map[string]string{"files": "at least one file is required"})
		return
	}

	dir, err := os.MkdirTemp("", "zonal-import-*")
	if err != nil {
		apierrors.InternalServerError(c, "Failed to stage uploads", err)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			if log := middleware.GetLogger(c); log != nil {
				log.Warn("Failed to remove upload staging directory", map[string]interface{}{
					"dir":   dir,
					"error": err.Error(),
				})
			}
		}
	}()

	// Each upload gets its own directory so the original file name survives
	// as lineage even when two parts share a name.
	paths := make([]string, 0, len(uploads))
	for i, fh := range uploads {
		name := filepath.Base(fh.Filename)
		if !ingestion.IsSupported(name) {
			apierrors.BadRequest(c, fmt.Sprintf("%s: %s", services.ErrUnsupportedFile, name), nil)
			return
		}
		sub := filepath.Join(dir, fmt.Sprintf("%03d", i))
		if err := os.Mkdir(sub, 0o700); err != nil {
			apierrors.InternalServerError(c, "Failed to stage uploads", err)
			return
		}
		path := filepath.Join(sub, name)
		if err := c.SaveUploadedFile(fh, path); err != nil {
			apierrors.InternalServerError(c, "Failed to stage uploads", err)
			return
		}
		paths = append(paths, path)
	}

	report, err := h.service.ImportFiles(c.Request.Context(), paths, ingestion.Options{
		DatasetVersion:  req.DatasetVersion,
		DefaultRegion:   req.DefaultRegion,
		DefaultProvince: req.DefaultProvince,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoFiles),
			errors.Is(err, services.ErrUnsupportedFile),
			errors.Is(err, services.ErrDatasetVersionRequired):
			apierrors.BadRequest(c, err.Error(), nil)
		default:
			apierrors.InternalServerError(c, "Failed to import workbooks", err)
		}
		return
	}

	c.JSON(http.StatusOK, mapRunReportToDTO(report))
}

func mapRunReportToDTO(r *ingestion.RunReport) ImportResponse {
	resp := ImportResponse{
		RunID:          r.RunID,
		DatasetVersion: r.DatasetVersion,
		Files:          make([]FileReportData, 0, len(r.Files)),
		AcceptedCount:  r.AcceptedCount,
		SkippedCount:   r.SkippedCount,
		FailedFiles:    r.FailedFiles,
	}
	for _, f := range r.Files {
		fd := FileReportData{
			File:     f.File,
			Error:    f.Error,
			Sheets:   make([]SheetReportData, 0, len(f.Sheets)),
			Accepted: f.Accepted(),
			Skipped:  f.Skipped(),
		}
		for _, s := range f.Sheets {
			fd.Sheets = append(fd.Sheets, SheetReportData{
				Sheet:    s.Sheet,
				Strategy: s.Strategy,
				Accepted: s.Accepted,
				Skipped:  s.Skipped,
			})
		}
		resp.Files = append(resp.Files, fd)
	}
	return resp
}
