package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/zonal/internal/database"
	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/stwalsh4118/zonal/internal/query"
)

// setupTestRepository creates an empty SQLite-backed repository.
func setupTestRepository(t *testing.T) (ZonalRepository, *database.SQLiteDatabase) {
	t.Helper()

	ctx := context.Background()
	db, err := database.NewSQLite(ctx, filepath.Join(t.TempDir(), "zonal.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, database.EnsureSchema(ctx, db))

	return NewZonalRepository(db, query.SearchSubstring), db
}

func record(province, city, barangay, street, class, value string) models.ZonalValue {
	z := models.ZonalValue{
		Region:            models.StringPtr("Region IV-A"),
		Province:          models.StringPtr(province),
		CityMunicipality:  models.StringPtr(city),
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
	if value != "" {
		z.Value = decimal.NewNullDecimal(decimal.RequireFromString(value))
	}
	return z
}

func insert(t *testing.T, repo ZonalRepository, records ...models.ZonalValue) {
	t.Helper()
	n, err := repo.InsertBatch(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, int64(len(records)), n)
}

func filters(t *testing.T, raw query.RawFilters) query.Filters {
	t.Helper()
	f, err := query.ParseFilters(raw)
	require.NoError(t, err)
	return f
}

func streets(items []models.ZonalValue) []string {
	out := make([]string, 0, len(items))
	for _, z := range items {
		out = append(out, models.Deref(z.Barangay)+"/"+models.Deref(z.StreetSubdivision))
	}
	return out
}

func TestInsertBatch_FindByID(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	z := record("Quezon", "Lucena", "Ibabang Dupay", "Rizal Street", "RR", "12500.00")
	effective := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	z.EffectivityDate = &effective
	z.Remarks = models.StringPtr("Near market")
	insert(t, repo, z)

	got, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "Rizal Street", models.Deref(got.StreetSubdivision))
	assert.True(t, got.Value.Valid)
	assert.True(t, got.Value.Decimal.Equal(decimal.RequireFromString("12500")))
	require.NotNil(t, got.EffectivityDate)
	assert.True(t, got.EffectivityDate.Equal(effective))
	assert.Equal(t, "Near market", models.Deref(got.Remarks))
	assert.Nil(t, got.RDOCode)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, _ := setupTestRepository(t)

	got, err := repo.FindByID(context.Background(), 42)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertBatch_Additive(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	batch := []models.ZonalValue{
		record("Cebu", "Cebu City", "Lahug", "Gorordo Ave", "CR", "50000"),
		record("Cebu", "Cebu City", "Lahug", "Salinas Drive", "RR", "30000"),
	}
	insert(t, repo, batch...)
	insert(t, repo, batch...)

	n, err := repo.Count(ctx, query.Filters{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestInsertBatch_RejectsNonPositiveValue(t *testing.T) {
	repo, _ := setupTestRepository(t)

	_, err := repo.InsertBatch(context.Background(), []models.ZonalValue{
		record("Cebu", "Cebu City", "Lahug", "Gorordo Ave", "CR", "0"),
	})
	assert.Error(t, err)
}

func TestList_StreetPriority(t *testing.T) {
	ctx := context.Background()
	f := filters(t, query.RawFilters{Province: "Quezon", Street: "Rizal"})

	t.Run("specific street suppresses catch-all", func(t *testing.T) {
		repo, _ := setupTestRepository(t)
		insert(t, repo,
			record("Quezon", "Lucena", "Barangay 1", "Rizal Street", "RR", "1000"),
			record("Quezon", "Lucena", "Barangay 1", "ALL OTHER STREETS", "RR", "500"),
			record("Quezon", "Lucena", "Barangay 1", "Mabini Street", "RR", "800"),
		)

		items, err := repo.List(ctx, f, 25, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"Barangay 1/Rizal Street"}, streets(items))

		n, err := repo.Count(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("catch-all appears without a specific street", func(t *testing.T) {
		repo, _ := setupTestRepository(t)
		insert(t, repo,
			record("Quezon", "Lucena", "Barangay 1", "ALL OTHER STREETS", "RR", "500"),
			record("Quezon", "Lucena", "Barangay 1", "Mabini Street", "RR", "800"),
		)

		items, err := repo.List(ctx, f, 25, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"Barangay 1/ALL OTHER STREETS"}, streets(items))
	})

	t.Run("suppression is per scope", func(t *testing.T) {
		repo, _ := setupTestRepository(t)
		insert(t, repo,
			record("Quezon", "Lucena", "Barangay 1", "Rizal Street", "RR", "1000"),
			record("Quezon", "Lucena", "Barangay 1", "ALL OTHER STREETS", "RR", "500"),
			record("Quezon", "Lucena", "Barangay 1", "All Other Streets", "CR", "900"),
			record("Quezon", "Lucena", "Barangay 2", "All other streets", "RR", "400"),
		)

		items, err := repo.List(ctx, f, 25, 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"Barangay 1/Rizal Street",
			"Barangay 1/All Other Streets",
			"Barangay 2/All other streets",
		}, streets(items))
	})
}

func TestList_OrderingAndPaging(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	insert(t, repo,
		record("Cebu", "Mandaue", "Banilad", "A St", "RR", "100"),
		record("Cebu", "Cebu City", "Lahug", "B St", "RR", "200"),
		record("Cebu", "Cebu City", "Lahug", "", "RR", "300"),
		record("Cebu", "Cebu City", "Apas", "C St", "RR", "400"),
	)

	items, err := repo.List(ctx, query.Filters{}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Apas/C St", "Lahug/B St"}, streets(items))

	items, err = repo.List(ctx, query.Filters{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lahug/", "Banilad/A St"}, streets(items))
}

func TestList_Filters(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	older := record("Cebu", "Cebu City", "Lahug", "Gorordo Ave", "CR", "50000")
	older.DatasetVersion = "v0"
	older.Remarks = models.StringPtr("corner lot")
	insert(t, repo,
		older,
		record("Cebu", "Cebu City", "Lahug", "Salinas Drive", "RR", "30000"),
		record("Cebu", "Mandaue", "Banilad", "A.S. Fortuna", "CR", "45000"),
		record("Bohol", "Tagbilaran", "Cogon", "CPG Ave", "RR", "9000"),
	)

	tests := []struct {
		name string
		raw  query.RawFilters
		want int
	}{
		{"province contains", query.RawFilters{Province: "ceb"}, 3},
		{"exact match misses partial", query.RawFilters{Province: "ceb", Match: "exact"}, 0},
		{"exact match ignores case", query.RawFilters{Province: "CEBU", Match: "exact"}, 3},
		{"dataset version", query.RawFilters{DatasetVersion: "v0"}, 1},
		{"value range", query.RawFilters{MinValue: "30000", MaxValue: "45000"}, 2},
		{"class", query.RawFilters{PropertyClass: "CR"}, 2},
		{"search remarks", query.RawFilters{Search: "CORNER"}, 1},
		{"search value", query.RawFilters{Search: "9000"}, 1},
		{"search literal percent", query.RawFilters{Search: "100%"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := repo.List(ctx, filters(t, tt.raw), 25, 0)
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}

func TestSummary_Median(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		values []string
		want   float64
	}{
		{"odd count", []string{"50", "10", "30", "20", "40"}, 30},
		{"even count", []string{"40", "10", "30", "20"}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := setupTestRepository(t)
			for _, v := range tt.values {
				insert(t, repo, record("Cebu", "Cebu City", "Lahug", "Gorordo Ave", "RR", v))
			}

			s, err := repo.Summary(ctx, query.Filters{})
			require.NoError(t, err)
			require.NotNil(t, s.Median)
			assert.Equal(t, tt.want, *s.Median)
			assert.Equal(t, int64(len(tt.values)), s.Total)
			assert.True(t, s.Min.Decimal.Equal(decimal.NewFromInt(10)))
		})
	}
}

func TestSummary_Counters(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	insert(t, repo,
		record("Quezon", "Lucena", "Barangay 1", "Rizal", "RR", "1000"),
		record("Quezon", "Lucena", "Barangay 1", "Rizal Extension", "CR", "2000"),
		record("Quezon", "Lucena", "Barangay 2", "All Other Streets", "RR", "400"),
		record("Quezon", "Lucena", "Barangay 2", "Quezon Ave", "", "700"),
		record("Quezon", "Lucena", "Barangay 2", "Unvalued", "RR", ""),
	)

	s, err := repo.Summary(ctx, filters(t, query.RawFilters{Street: "rizal"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Total)
	assert.Equal(t, int64(1), s.ExactStreetCount)
	assert.Equal(t, int64(1), s.CatchAllCount)
	require.NotNil(t, s.Median)
	assert.Equal(t, 1000.0, *s.Median)

	s, err = repo.Summary(ctx, query.Filters{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Total)
	assert.Equal(t, int64(0), s.ExactStreetCount)
	assert.Equal(t, []models.ClassCount{
		{PropertyClass: "RR", Count: 3},
		{PropertyClass: "CR", Count: 1},
		{PropertyClass: models.UnspecifiedClass, Count: 1},
	}, s.ClassMix)
	assert.True(t, s.Max.Decimal.Equal(decimal.NewFromInt(2000)))
	require.NotNil(t, s.Median)
	assert.Equal(t, 850.0, *s.Median)
}

func TestSummary_Empty(t *testing.T) {
	repo, _ := setupTestRepository(t)

	s, err := repo.Summary(context.Background(), query.Filters{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Total)
	assert.False(t, s.Min.Valid)
	assert.Nil(t, s.Median)
	assert.Empty(t, s.ClassMix)
}

func TestStream_Limit(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	for _, b := range []string{"E", "D", "C", "B", "A"} {
		insert(t, repo, record("Cebu", "Cebu City", b, "Main", "RR", "100"))
	}

	var got []string
	err := repo.Stream(ctx, query.Filters{}, 3, func(z *models.ZonalValue) error {
		got = append(got, models.Deref(z.Barangay))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

func TestFilterOptions(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	blank := record("Cebu", "  ", "Lahug", "Main", "RR", "100")
	insert(t, repo,
		blank,
		record("Cebu", "Mandaue", "Banilad", "Main", "CR", "100"),
		record("Bohol", "Tagbilaran", "Cogon", "Main", "RR", "100"),
	)

	opts, err := repo.FilterOptions(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bohol", "Cebu"}, opts.Provinces)
	assert.Equal(t, []string{"Mandaue", "Tagbilaran"}, opts.Cities)
	assert.Equal(t, []string{"CR", "RR"}, opts.PropertyClasses)
	assert.Equal(t, []string{"v1"}, opts.DatasetVersions)

	opts, err = repo.FilterOptions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bohol"}, opts.Provinces)
}

func TestLocationChildren(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	insert(t, repo,
		record("Cebu", "Cebu City", "Lahug", "Main", "RR", "100"),
		record("Cebu", "Cebu City", "Apas", "Main", "RR", "100"),
		record("Cebu", "Mandaue", "Banilad", "Main", "RR", "100"),
		record("Bohol", "Tagbilaran", "Cogon", "Main", "RR", "100"),
	)

	children, err := repo.LocationChildren(ctx, "", "", 1000)
	require.NoError(t, err)
	assert.Empty(t, children.Cities)
	assert.Empty(t, children.Barangays)

	children, err = repo.LocationChildren(ctx, "ceb", "", 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cebu City", "Mandaue"}, children.Cities)
	assert.Empty(t, children.Barangays)

	children, err = repo.LocationChildren(ctx, "Cebu", "cebu city", 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"Apas", "Lahug"}, children.Barangays)

	children, err = repo.LocationChildren(ctx, "Cebu", "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cebu City"}, children.Cities)
}

func TestScopeHasSpecificStreet(t *testing.T) {
	repo, _ := setupTestRepository(t)
	ctx := context.Background()

	insert(t, repo,
		record("Quezon", "Lucena", "Barangay 1", "Rizal Street", "RR", "1000"),
		record("Quezon", "Lucena", "Barangay 1", "ALL OTHER STREETS", "RR", "500"),
	)
	scope := models.Scope{Province: "Quezon", City: "Lucena", Barangay: "Barangay 1", PropertyClass: "RR", DatasetVersion: "v1"}

	found, err := repo.ScopeHasSpecificStreet(ctx, scope, "rizal")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = repo.ScopeHasSpecificStreet(ctx, scope, "all other")
	require.NoError(t, err)
	assert.False(t, found)

	scope.PropertyClass = "CR"
	found, err = repo.ScopeHasSpecificStreet(ctx, scope, "rizal")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEncodeRecord_MatchesColumns(t *testing.T) {
	z := record("Cebu", "Cebu City", "Lahug", "Main", "RR", "100")
	args := EncodeRecord(database.SQLite, &z)
	assert.Len(t, args, len(models.ZonalValue{}.Columns()))
	assert.Equal(t, "100", args[8])
}
