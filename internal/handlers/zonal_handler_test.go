package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/database"
	apierrors "github.com/stwalsh4118/zonal/internal/errors"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/middleware"
	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/stwalsh4118/zonal/internal/query"
	"github.com/stwalsh4118/zonal/internal/repository"
	"github.com/stwalsh4118/zonal/internal/services"
)

var testQueryConfig = config.QueryConfig{
	DefaultPageSize:    25,
	MaxPageSize:        100,
	ExportRowLimit:     2,
	FilterOptionsLimit: 50,
}

// setupZonalTestRouter creates a router over a seeded SQLite store.
func setupZonalTestRouter(t *testing.T) (*gin.Engine, repository.ZonalRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	apierrors.UseFormFieldNames()

	ctx := context.Background()
	db, err := database.NewSQLite(ctx, filepath.Join(t.TempDir(), "zonal.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, database.EnsureSchema(ctx, db))

	log := logger.Nop()
	repo := repository.NewZonalRepository(db, query.SearchSubstring)
	service := services.NewZonalService(repo, nil, testQueryConfig, log)
	handler := NewZonalHandler(service)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))

	v1 := router.Group("/api/v1")
	{
		zonal := v1.Group("/zonal-values")
		{
			zonal.GET("", handler.List)
			zonal.GET("/summary", handler.Summary)
			zonal.GET("/export", handler.Export)
			zonal.GET("/filters", handler.Filters)
			zonal.GET("/location-children", handler.LocationChildren)
			zonal.GET("/scope-check", handler.ScopeCheck)
			zonal.GET("/:id", handler.Get)
		}
	}

	return router, repo
}

func fixture(barangay, street, class, value string) models.ZonalValue {
	z := models.ZonalValue{
		Region:            models.StringPtr("Region IV-A"),
		Province:          models.StringPtr("Quezon"),
		CityMunicipality:  models.StringPtr("Lucena"),
		Barangay:          models.StringPtr(barangay),
		StreetSubdivision: models.StringPtr(street),
		PropertyClass:     models.StringPtr(class),
		PropertyType:      models.StringPtr(models.DefaultPropertyType),
		Unit:              models.StringPtr(models.DefaultUnit),
		SourceFile:        "fixture.xlsx",
		SourceSheet:       "Sheet1",
		SourceRow:         1,
		DatasetVersion:    "v1",
	}
	z.Value = decimal.NewNullDecimal(decimal.RequireFromString(value))
	return z
}

func seed(t *testing.T, repo repository.ZonalRepository) {
	t.Helper()
	_, err := repo.InsertBatch(context.Background(), []models.ZonalValue{
		fixture("Ibabang Dupay", "Rizal Street", "RR", "12500"),
		fixture("Ibabang Dupay", "All other streets", "RR", "8000"),
		fixture("Cotta", "All Other Streets", "RR", "6000"),
		fixture("Cotta", "Quezon Avenue", "CR", "20000"),
	})
	require.NoError(t, err)
}

func doGet(router *gin.Engine, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apierrors.ErrorResponse {
	t.Helper()
	var resp apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestZonalHandler_List(t *testing.T) {
	router, repo := setupZonalTestRouter(t)
	seed(t, repo)

	t.Run("street query prefers specific rows over catch-all peers", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values?street=rizal&property_class=RR")
		require.Equal(t, http.StatusOK, w.Code)

		var resp PageResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(2), resp.Total)
		assert.Equal(t, 1, resp.Page)
		assert.Equal(t, 25, resp.PageSize)
		require.Len(t, resp.Items, 2)

		assert.Equal(t, "Cotta", *resp.Items[0].Barangay)
		assert.Equal(t, "All Other Streets", *resp.Items[0].StreetSubdivision)
		assert.Equal(t, "Ibabang Dupay", *resp.Items[1].Barangay)
		assert.Equal(t, "Rizal Street", *resp.Items[1].StreetSubdivision)
		assert.Equal(t, "12500.00", *resp.Items[1].ZonalValue)
		assert.Equal(t, "fixture.xlsx", resp.Items[1].SourceFile)
	})

	t.Run("paginates with explicit page size", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values?page=2&page_size=3")
		require.Equal(t, http.StatusOK, w.Code)

		var resp PageResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(4), resp.Total)
		assert.Equal(t, 2, resp.Page)
		assert.Len(t, resp.Items, 1)
	})

	t.Run("rejects non-numeric bounds before querying", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values?min_value=abc&match=fuzzy")
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decodeError(t, w)
		assert.Equal(t, apierrors.ErrValidation, resp.Error.Code)
		assert.Contains(t, resp.Error.Details, "min_value")
		assert.Contains(t, resp.Error.Details, "match")
	})

	t.Run("rejects min greater than max", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values?min_value=500&max_value=100")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Error.Details, "min_value")
	})

	t.Run("rejects page below one", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values?page=0")
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decodeError(t, w)
		assert.Equal(t, apierrors.ErrValidation, resp.Error.Code)
		assert.Contains(t, resp.Error.Details, "page")
	})

	t.Run("rejects page whose offset overflows", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values?page=9223372036854775807&page_size=50")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrBadRequest, decodeError(t, w).Error.Code)
	})

	t.Run("rejects page size above maximum", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values?page_size=1000")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrBadRequest, decodeError(t, w).Error.Code)
	})
}

func TestZonalHandler_Summary(t *testing.T) {
	router, repo := setupZonalTestRouter(t)
	seed(t, repo)

	w := doGet(router, "/api/v1/zonal-values/summary?street=rizal&property_class=RR")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Total)
	require.NotNil(t, resp.MinValue)
	require.NotNil(t, resp.MaxValue)
	require.NotNil(t, resp.MedianValue)
	assert.Equal(t, "6000.00", *resp.MinValue)
	assert.Equal(t, "12500.00", *resp.MaxValue)
	assert.Equal(t, "9250.00", *resp.MedianValue)
	assert.Equal(t, int64(1), resp.CatchAllCount)
	assert.Equal(t, []ClassCountData{{PropertyClass: "RR", Count: 2}}, resp.ClassMix)
}

func TestZonalHandler_Summary_Empty(t *testing.T) {
	router, _ := setupZonalTestRouter(t)

	w := doGet(router, "/api/v1/zonal-values/summary")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.Total)
	assert.Nil(t, resp.MinValue)
	assert.Nil(t, resp.MedianValue)
	assert.Empty(t, resp.ClassMix)
}

func TestZonalHandler_Export(t *testing.T) {
	router, repo := setupZonalTestRouter(t)
	seed(t, repo)

	t.Run("csv export is capped and signals truncation in headers", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values/export")
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
		assert.Equal(t, "true", w.Header().Get(middleware.ExportTruncatedHeader))
		assert.Equal(t, "2", w.Header().Get(middleware.ExportRowLimitHeader))
		assert.Equal(t, "4", w.Header().Get(middleware.ExportTotalMatchesHeader))

		records, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "id", records[0][0])
	})

	t.Run("export within limit is not truncated", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values/export?property_class=CR")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "false", w.Header().Get(middleware.ExportTruncatedHeader))
		assert.Equal(t, "1", w.Header().Get(middleware.ExportTotalMatchesHeader))
	})

	t.Run("xlsx export sets spreadsheet content type", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values/export?format=xlsx")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
	})

	t.Run("unknown format is rejected", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values/export?format=pdf")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Error.Details, "format")
	})
}

func TestZonalHandler_Filters(t *testing.T) {
	router, repo := setupZonalTestRouter(t)
	seed(t, repo)

	w := doGet(router, "/api/v1/zonal-values/filters")
	require.Equal(t, http.StatusOK, w.Code)

	var resp FilterOptionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Quezon"}, resp.Provinces)
	assert.Equal(t, []string{"Cotta", "Ibabang Dupay"}, resp.Barangays)
	assert.Equal(t, []string{"CR", "RR"}, resp.PropertyClasses)
	assert.Equal(t, []string{"v1"}, resp.DatasetVersions)
}

func TestZonalHandler_LocationChildren(t *testing.T) {
	router, repo := setupZonalTestRouter(t)
	seed(t, repo)

	t.Run("lists cities and barangays", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values/location-children?province=Quezon&city=Lucena")
		require.Equal(t, http.StatusOK, w.Code)

		var resp LocationChildrenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, []string{"Lucena"}, resp.Cities)
		assert.Equal(t, []string{"Cotta", "Ibabang Dupay"}, resp.Barangays)
	})

	t.Run("requires province", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values/location-children")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Error.Details, "province")
	})

	t.Run("rejects limit above maximum", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values/location-children?province=Quezon&limit=9000")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Error.Details, "limit")
	})
}

func TestZonalHandler_ScopeCheck(t *testing.T) {
	router, repo := setupZonalTestRouter(t)
	seed(t, repo)

	tests := []struct {
		name     string
		target   string
		expected bool
	}{
		{
			name:     "specific street exists in scope",
			target:   "/api/v1/zonal-values/scope-check?province=Quezon&city=Lucena&barangay=Ibabang%20Dupay&property_class=RR&dataset_version=v1&street=rizal",
			expected: true,
		},
		{
			name:     "only catch-all in scope",
			target:   "/api/v1/zonal-values/scope-check?province=Quezon&city=Lucena&barangay=Cotta&property_class=RR&dataset_version=v1&street=rizal",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(router, tt.target)
			require.Equal(t, http.StatusOK, w.Code)

			var resp ScopeCheckResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expected, resp.HasSpecificStreet)
		})
	}

	t.Run("requires street", func(t *testing.T) {
		w := doGet(router, "/api/v1/zonal-values/scope-check?province=Quezon")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Error.Details, "street")
	})
}

func TestZonalHandler_Get(t *testing.T) {
	router, repo := setupZonalTestRouter(t)
	seed(t, repo)

	tests := []struct {
		name           string
		target         string
		expectedStatus int
		expectedCode   string
	}{
		{name: "found", target: "/api/v1/zonal-values/1", expectedStatus: http.StatusOK},
		{name: "not found", target: "/api/v1/zonal-values/999", expectedStatus: http.StatusNotFound, expectedCode: apierrors.ErrNotFound},
		{name: "non-numeric id", target: "/api/v1/zonal-values/abc", expectedStatus: http.StatusBadRequest, expectedCode: apierrors.ErrBadRequest},
		{name: "non-positive id", target: "/api/v1/zonal-values/0", expectedStatus: http.StatusBadRequest, expectedCode: apierrors.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(router, tt.target)
			require.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, decodeError(t, w).Error.Code)
				return
			}
			var resp ZonalValueData
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, int64(1), resp.ID)
			assert.Equal(t, "Rizal Street", *resp.StreetSubdivision)
			assert.Equal(t, "12500.00", *resp.ZonalValue)
		})
	}
}

func TestMapZonalValueToDTO_NullValue(t *testing.T) {
	z := &models.ZonalValue{ID: 7, SourceFile: "a.csv", DatasetVersion: "v2"}
	dto := mapZonalValueToDTO(z)

	assert.Equal(t, int64(7), dto.ID)
	assert.Nil(t, dto.ZonalValue)
	assert.Nil(t, dto.EffectivityDate)
	assert.Nil(t, dto.Barangay)
}
