package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/stwalsh4118/zonal/internal/query"
)

// MockZonalRepository is a mock implementation of ZonalRepository for testing
type MockZonalRepository struct {
	mock.Mock
}

func (m *MockZonalRepository) InsertBatch(ctx context.Context, records []models.ZonalValue) (int64, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockZonalRepository) FindByID(ctx context.Context, id int64) (*models.ZonalValue, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ZonalValue), args.Error(1)
}

func (m *MockZonalRepository) List(ctx context.Context, f query.Filters, limit, offset int) ([]models.ZonalValue, error) {
	args := m.Called(ctx, f, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ZonalValue), args.Error(1)
}

func (m *MockZonalRepository) Count(ctx context.Context, f query.Filters) (int64, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockZonalRepository) Summary(ctx context.Context, f query.Filters) (*models.Summary, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Summary), args.Error(1)
}

func (m *MockZonalRepository) Stream(ctx context.Context, f query.Filters, limit int, fn func(*models.ZonalValue) error) error {
	args := m.Called(ctx, f, limit)
	if rows, ok := args.Get(0).([]models.ZonalValue); ok {
		for i := range rows {
			if i == limit {
				break
			}
			if err := fn(&rows[i]); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}

func (m *MockZonalRepository) FilterOptions(ctx context.Context, limit int) (*models.FilterOptions, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FilterOptions), args.Error(1)
}

func (m *MockZonalRepository) LocationChildren(ctx context.Context, province, city string, limit int) (*models.LocationChildren, error) {
	args := m.Called(ctx, province, city, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LocationChildren), args.Error(1)
}

func (m *MockZonalRepository) ScopeHasSpecificStreet(ctx context.Context, scope models.Scope, street string) (bool, error) {
	args := m.Called(ctx, scope, street)
	return args.Bool(0), args.Error(1)
}

// MockCache is a mock implementation of cache.Cache for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	args := m.Called(ctx, key, dest)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key string, value any) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockCache) Invalidate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCache) Close() error {
	return nil
}

// memoryCache is an in-process cache.Cache storing JSON like the Redis one.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = b
	return nil
}

func (m *memoryCache) Invalidate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string][]byte)
	return nil
}

func (m *memoryCache) Close() error {
	return nil
}

// recordingSink captures what an export delivered.
type recordingSink struct {
	meta    *models.ExportMeta
	ids     []int64
	beganAt int
}

func (r *recordingSink) Begin(meta models.ExportMeta) error {
	r.meta = &meta
	r.beganAt = len(r.ids)
	return nil
}

func (r *recordingSink) Write(z *models.ZonalValue) error {
	r.ids = append(r.ids, z.ID)
	return nil
}

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		DefaultPageSize:    25,
		MaxPageSize:        200,
		ExportRowLimit:     3,
		FilterOptionsLimit: 500,
	}
}

func newTestService(repo *MockZonalRepository) ZonalService {
	return NewZonalService(repo, nil, testQueryConfig(), logger.New("test"))
}

func TestList_Success(t *testing.T) {
	// Arrange
	mockRepo := new(MockZonalRepository)
	service := newTestService(mockRepo)
	ctx := context.Background()
	f := query.Filters{Province: "Cebu"}

	items := []models.ZonalValue{{ID: 26}, {ID: 27}}
	mockRepo.On("Count", ctx, f).Return(int64(27), nil)
	mockRepo.On("List", ctx, f, 25, 25).Return(items, nil)

	// Act
	page, err := service.List(ctx, f, 2, 0)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(27), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 25, page.PageSize)
	assert.Len(t, page.Items, 2)
	mockRepo.AssertExpectations(t)
}

func TestList_InvalidPaging(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		pageSize int
		wantErr  error
	}{
		{"page zero", 0, 25, ErrInvalidPage},
		{"negative page size", 1, -1, ErrInvalidPageSize},
		{"page size above max", 1, 201, ErrInvalidPageSize},
		{"offset overflows", math.MaxInt, 200, ErrInvalidPage},
		{"offset overflows at default size", math.MaxInt / 10, 0, ErrInvalidPage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockZonalRepository)
			service := newTestService(mockRepo)

			page, err := service.List(context.Background(), query.Filters{}, tt.page, tt.pageSize)

			assert.Nil(t, page)
			assert.ErrorIs(t, err, tt.wantErr)
			// Repository should not be called for validation errors
			mockRepo.AssertNotCalled(t, "Count", mock.Anything, mock.Anything)
		})
	}
}

func TestList_RepositoryError(t *testing.T) {
	mockRepo := new(MockZonalRepository)
	service := newTestService(mockRepo)
	ctx := context.Background()

	dbErr := errors.New("connection refused")
	mockRepo.On("Count", ctx, query.Filters{}).Return(int64(0), dbErr)

	page, err := service.List(ctx, query.Filters{}, 1, 10)

	assert.Nil(t, page)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "failed to count zonal values")
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mockRepo := new(MockZonalRepository)
		service := newTestService(mockRepo)
		mockRepo.On("FindByID", ctx, int64(7)).Return(&models.ZonalValue{ID: 7}, nil)

		z, err := service.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(7), z.ID)
	})

	t.Run("not found", func(t *testing.T) {
		mockRepo := new(MockZonalRepository)
		service := newTestService(mockRepo)
		// Repository returns nil, nil when no record found
		mockRepo.On("FindByID", ctx, int64(8)).Return(nil, nil)

		z, err := service.Get(ctx, 8)
		assert.Nil(t, z)
		assert.ErrorIs(t, err, ErrZonalValueNotFound)
	})

	t.Run("invalid id", func(t *testing.T) {
		mockRepo := new(MockZonalRepository)
		service := newTestService(mockRepo)

		_, err := service.Get(ctx, 0)
		assert.ErrorIs(t, err, ErrInvalidID)
		mockRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})
}

func TestExport_Truncated(t *testing.T) {
	mockRepo := new(MockZonalRepository)
	service := newTestService(mockRepo)
	ctx := context.Background()
	f := query.Filters{}

	rows := []models.ZonalValue{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}}
	mockRepo.On("Count", ctx, f).Return(int64(5), nil)
	mockRepo.On("Stream", ctx, f, 3).Return(rows, nil)

	sink := &recordingSink{}
	meta, err := service.Export(ctx, f, sink)

	require.NoError(t, err)
	assert.Equal(t, models.ExportMeta{Truncated: true, RowLimit: 3, TotalMatches: 5}, meta)
	require.NotNil(t, sink.meta)
	assert.Equal(t, meta, *sink.meta)
	assert.Equal(t, 0, sink.beganAt, "metadata must precede rows")
	assert.Equal(t, []int64{1, 2, 3}, sink.ids)
}

func TestExport_NotTruncated(t *testing.T) {
	mockRepo := new(MockZonalRepository)
	service := newTestService(mockRepo)
	ctx := context.Background()
	f := query.Filters{}

	mockRepo.On("Count", ctx, f).Return(int64(3), nil)
	mockRepo.On("Stream", ctx, f, 3).Return([]models.ZonalValue{{ID: 1}, {ID: 2}, {ID: 3}}, nil)

	meta, err := service.Export(ctx, f, &recordingSink{})
	require.NoError(t, err)
	assert.False(t, meta.Truncated)
	assert.Equal(t, int64(3), meta.TotalMatches)
}

func TestLocationChildren(t *testing.T) {
	ctx := context.Background()

	t.Run("default limit", func(t *testing.T) {
		mockRepo := new(MockZonalRepository)
		service := newTestService(mockRepo)
		want := &models.LocationChildren{Cities: []string{"Cebu City"}, Barangays: []string{}}
		mockRepo.On("LocationChildren", ctx, "Cebu", "", DefaultChildrenLimit).Return(want, nil)

		got, err := service.LocationChildren(ctx, " Cebu ", "", 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("empty province", func(t *testing.T) {
		mockRepo := new(MockZonalRepository)
		service := newTestService(mockRepo)

		got, err := service.LocationChildren(ctx, "  ", "Cebu City", 10)
		require.NoError(t, err)
		assert.Empty(t, got.Cities)
		assert.Empty(t, got.Barangays)
		mockRepo.AssertNotCalled(t, "LocationChildren", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("limit out of range", func(t *testing.T) {
		mockRepo := new(MockZonalRepository)
		service := newTestService(mockRepo)

		_, err := service.LocationChildren(ctx, "Cebu", "", MaxChildrenLimit+1)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})
}

func TestSummary_CacheHit(t *testing.T) {
	mockRepo := new(MockZonalRepository)
	mockCache := new(MockCache)
	service := NewZonalService(mockRepo, mockCache, testQueryConfig(), logger.New("test"))
	ctx := context.Background()

	mockCache.On("Get", ctx, mock.AnythingOfType("string"), mock.Anything).Return(true, nil)

	_, err := service.Summary(ctx, query.Filters{})
	require.NoError(t, err)
	mockRepo.AssertNotCalled(t, "Summary", mock.Anything, mock.Anything)
}

func TestSummary_CacheFailureFallsThrough(t *testing.T) {
	mockRepo := new(MockZonalRepository)
	mockCache := new(MockCache)
	service := NewZonalService(mockRepo, mockCache, testQueryConfig(), logger.New("test"))
	ctx := context.Background()
	f := query.Filters{Province: "Cebu"}

	want := &models.Summary{Total: 2, Min: decimal.NewNullDecimal(decimal.NewFromInt(10))}
	mockCache.On("Get", ctx, mock.AnythingOfType("string"), mock.Anything).Return(false, errors.New("redis down"))
	mockCache.On("Set", ctx, mock.AnythingOfType("string"), want).Return(errors.New("redis down"))
	mockRepo.On("Summary", ctx, f).Return(want, nil)

	got, err := service.Summary(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	mockRepo.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestFilterOptions(t *testing.T) {
	mockRepo := new(MockZonalRepository)
	service := newTestService(mockRepo)
	ctx := context.Background()

	want := &models.FilterOptions{Provinces: []string{"Cebu"}}
	mockRepo.On("FilterOptions", ctx, 500).Return(want, nil)

	got, err := service.FilterOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScopeCheck(t *testing.T) {
	mockRepo := new(MockZonalRepository)
	service := newTestService(mockRepo)
	ctx := context.Background()
	scope := models.Scope{Province: "Quezon", Barangay: "Barangay 1"}

	_, err := service.ScopeCheck(ctx, scope, " ")
	assert.ErrorIs(t, err, ErrStreetRequired)

	mockRepo.On("ScopeHasSpecificStreet", ctx, scope, "Rizal").Return(true, nil)
	found, err := service.ScopeCheck(ctx, scope, "Rizal")
	require.NoError(t, err)
	assert.True(t, found)
}
