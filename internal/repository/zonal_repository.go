package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stwalsh4118/zonal/internal/database"
	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/stwalsh4118/zonal/internal/query"
)

// ZonalRepository defines the data access operations for zonal values.
type ZonalRepository interface {
	// InsertBatch appends records. Existing rows are never updated.
	InsertBatch(ctx context.Context, records []models.ZonalValue) (int64, error)

	// FindByID returns the record with the given id.
	// Returns nil, nil if no record exists (not an error).
	FindByID(ctx context.Context, id int64) (*models.ZonalValue, error)

	// List returns one page of matching records in canonical order.
	List(ctx context.Context, f query.Filters, limit, offset int) ([]models.ZonalValue, error)

	// Count returns the number of matching records.
	Count(ctx context.Context, f query.Filters) (int64, error)

	// Summary computes the aggregate metrics of the matching records.
	Summary(ctx context.Context, f query.Filters) (*models.Summary, error)

	// Stream calls fn for at most limit matching records in canonical order.
	// An error from fn stops the scan and is returned unchanged.
	Stream(ctx context.Context, f query.Filters, limit int, fn func(*models.ZonalValue) error) error

	// FilterOptions returns up to limit distinct non-empty values per field.
	FilterOptions(ctx context.Context, limit int) (*models.FilterOptions, error)

	// LocationChildren returns the cities of the provinces matching province
	// and, when city is set, the barangays of the matching cities.
	LocationChildren(ctx context.Context, province, city string, limit int) (*models.LocationChildren, error)

	// ScopeHasSpecificStreet reports whether scope holds a row that is not a
	// catch-all and whose street contains street.
	ScopeHasSpecificStreet(ctx context.Context, scope models.Scope, street string) (bool, error)
}

// zonalRepository is the concrete implementation of ZonalRepository.
type zonalRepository struct {
	store  database.Store
	search query.SearchMode
}

// NewZonalRepository creates a repository over store. search is the free-text
// strategy chosen from the index capabilities at startup.
func NewZonalRepository(store database.Store, search query.SearchMode) ZonalRepository {
	return &zonalRepository{
		store:  store,
		search: search,
	}
}

func (r *zonalRepository) builder() *query.Builder {
	return query.NewBuilder(r.store.Dialect(), r.search)
}

// InsertBatch appends records through the store's bulk path.
func (r *zonalRepository) InsertBatch(ctx context.Context, records []models.ZonalValue) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	d := r.store.Dialect()
	rows := make([][]any, len(records))
	for i := range records {
		rows[i] = EncodeRecord(d, &records[i])
	}

	n, err := r.store.CopyRows(ctx, database.ZonalValuesTable, models.ZonalValue{}.Columns(), rows)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %d zonal values: %w", len(records), err)
	}
	return n, nil
}

// FindByID fetches a single record.
func (r *zonalRepository) FindByID(ctx context.Context, id int64) (*models.ZonalValue, error) {
	b := r.builder()
	sql := fmt.Sprintf("SELECT %s FROM %s z WHERE z.id = %s",
		query.SelectColumns(b.Dialect(), "z"), database.ZonalValuesTable, b.Bind(id))

	z, err := ScanRecord(r.store.QueryRow(ctx, sql, b.Args()...))
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query zonal value %d: %w", id, err)
	}
	return &z, nil
}

// List returns matching records ordered by location then id.
func (r *zonalRepository) List(ctx context.Context, f query.Filters, limit, offset int) ([]models.ZonalValue, error) {
	b := r.builder()
	where := b.Where(f, "z")
	sql := fmt.Sprintf("SELECT %s FROM %s z %s %s LIMIT %s OFFSET %s",
		query.SelectColumns(b.Dialect(), "z"), database.ZonalValuesTable, where,
		query.OrderBy("z"), b.Bind(limit), b.Bind(offset))

	items := []models.ZonalValue{}
	err := r.scan(ctx, sql, b.Args(), func(z *models.ZonalValue) error {
		items = append(items, *z)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list zonal values: %w", err)
	}
	return items, nil
}

// Count returns the number of matching records.
func (r *zonalRepository) Count(ctx context.Context, f query.Filters) (int64, error) {
	b := r.builder()
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s z %s", database.ZonalValuesTable, b.Where(f, "z"))

	var n int64
	if err := r.store.QueryRow(ctx, sql, b.Args()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count zonal values: %w", err)
	}
	return n, nil
}

// Stream scans up to limit matching records in canonical order.
func (r *zonalRepository) Stream(ctx context.Context, f query.Filters, limit int, fn func(*models.ZonalValue) error) error {
	b := r.builder()
	where := b.Where(f, "z")
	sql := fmt.Sprintf("SELECT %s FROM %s z %s %s LIMIT %s",
		query.SelectColumns(b.Dialect(), "z"), database.ZonalValuesTable, where,
		query.OrderBy("z"), b.Bind(limit))
	return r.scan(ctx, sql, b.Args(), fn)
}

func (r *zonalRepository) scan(ctx context.Context, sql string, args []any, fn func(*models.ZonalValue) error) error {
	rows, err := r.store.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		z, err := ScanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(&z); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Summary computes totals, value range, median, street counters and the
// class breakdown of the matching records.
func (r *zonalRepository) Summary(ctx context.Context, f query.Filters) (*models.Summary, error) {
	d := r.store.Dialect()
	b := r.builder()
	where := b.Where(f, "z")

	median := ""
	if d.HasPercentile() {
		median = ", percentile_cont(0.5) WITHIN GROUP (ORDER BY zonal_value::float8)"
	}
	sql := fmt.Sprintf(`WITH filtered AS (
		SELECT z.id, z.zonal_value, z.property_class, z.street_subdivision,
			CASE WHEN %s THEN 1 ELSE 0 END AS street_exact
		FROM %s z %s
	)
	SELECT COUNT(*), COUNT(zonal_value), %s, %s,
		COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(street_exact), 0)%s
	FROM filtered`,
		b.StreetExact("z"), database.ZonalValuesTable, where,
		d.TextCast("MIN(zonal_value)"), d.TextCast("MAX(zonal_value)"),
		query.CatchAll(""), median)

	var (
		summary        models.Summary
		valued         int64
		minText        *string
		maxText        *string
		percentileCont *float64
	)
	dest := []any{&summary.Total, &valued, &minText, &maxText, &summary.CatchAllCount, &summary.ExactStreetCount}
	if d.HasPercentile() {
		dest = append(dest, &percentileCont)
	}
	if err := r.store.QueryRow(ctx, sql, b.Args()...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to summarize zonal values: %w", err)
	}

	var err error
	if summary.Min, err = parseNullDecimal(minText); err != nil {
		return nil, fmt.Errorf("failed to parse minimum value: %w", err)
	}
	if summary.Max, err = parseNullDecimal(maxText); err != nil {
		return nil, fmt.Errorf("failed to parse maximum value: %w", err)
	}

	if d.HasPercentile() {
		summary.Median = percentileCont
	} else if valued > 0 {
		m, err := r.scanMedian(ctx, f, valued)
		if err != nil {
			return nil, err
		}
		summary.Median = m
	}

	if summary.ClassMix, err = r.classMix(ctx, f); err != nil {
		return nil, err
	}
	return &summary, nil
}

// scanMedian reads the middle value (or pair) of an ascending value scan and
// interpolates like percentile_cont.
func (r *zonalRepository) scanMedian(ctx context.Context, f query.Filters, valued int64) (*float64, error) {
	b := r.builder()
	conds := append(b.Conditions(f, "z"), "z.zonal_value IS NOT NULL")
	offset, limit := query.MedianOffsets(valued)
	sql := fmt.Sprintf("SELECT CAST(z.zonal_value AS REAL) AS v FROM %s z WHERE %s ORDER BY v ASC LIMIT %s OFFSET %s",
		database.ZonalValuesTable, strings.Join(conds, " AND "), b.Bind(limit), b.Bind(offset))

	rows, err := r.store.Query(ctx, sql, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan median values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan median value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan median values: %w", err)
	}

	m, ok := query.MedianOf(values)
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *zonalRepository) classMix(ctx context.Context, f query.Filters) ([]models.ClassCount, error) {
	d := r.store.Dialect()
	b := r.builder()
	where := b.Where(f, "z")
	label := fmt.Sprintf("COALESCE(z.property_class, '%s')", models.UnspecifiedClass)
	sql := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s z %s GROUP BY %s ORDER BY COUNT(*) DESC, %s %s ASC LIMIT %s",
		label, database.ZonalValuesTable, where, label, label, d.Collate(), b.Bind(models.MaxClassMix))

	rows, err := r.store.Query(ctx, sql, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query class mix: %w", err)
	}
	defer rows.Close()

	mix := []models.ClassCount{}
	for rows.Next() {
		var c models.ClassCount
		if err := rows.Scan(&c.PropertyClass, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan class mix: %w", err)
		}
		mix = append(mix, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query class mix: %w", err)
	}
	return mix, nil
}

// FilterOptions lists distinct values for each categorical field.
func (r *zonalRepository) FilterOptions(ctx context.Context, limit int) (*models.FilterOptions, error) {
	var opts models.FilterOptions
	targets := []struct {
		column string
		dest   *[]string
	}{
		{"region", &opts.Regions},
		{"province", &opts.Provinces},
		{"city_municipality", &opts.Cities},
		{"barangay", &opts.Barangays},
		{"property_class", &opts.PropertyClasses},
		{"property_type", &opts.PropertyTypes},
		{"dataset_version", &opts.DatasetVersions},
	}

	for _, t := range targets {
		values, err := r.distinct(ctx, t.column, nil, limit)
		if err != nil {
			return nil, err
		}
		*t.dest = values
	}
	return &opts, nil
}

// LocationChildren lists cities and barangays under a province.
func (r *zonalRepository) LocationChildren(ctx context.Context, province, city string, limit int) (*models.LocationChildren, error) {
	children := &models.LocationChildren{Cities: []string{}, Barangays: []string{}}
	province = strings.TrimSpace(province)
	city = strings.TrimSpace(city)
	if province == "" {
		return children, nil
	}

	var err error
	scope := map[string]string{"province": province}
	if children.Cities, err = r.distinct(ctx, "city_municipality", scope, limit); err != nil {
		return nil, err
	}
	if city != "" {
		scope["city_municipality"] = city
		if children.Barangays, err = r.distinct(ctx, "barangay", scope, limit); err != nil {
			return nil, err
		}
	}
	return children, nil
}

// distinct returns the sorted distinct non-blank values of column among rows
// whose contains columns match.
func (r *zonalRepository) distinct(ctx context.Context, column string, contains map[string]string, limit int) ([]string, error) {
	d := r.store.Dialect()
	b := r.builder()

	conds := []string{column + " IS NOT NULL", "trim(" + column + ") <> ''"}
	for _, col := range []string{"province", "city_municipality"} {
		if v, ok := contains[col]; ok {
			conds = append(conds, fmt.Sprintf("%s %s %s ESCAPE '\\'", col, d.ContainsOp(), b.Bind(query.LikePattern(v))))
		}
	}
	sql := fmt.Sprintf("SELECT v FROM (SELECT DISTINCT %s AS v FROM %s WHERE %s) d ORDER BY v %s ASC LIMIT %s",
		column, database.ZonalValuesTable, strings.Join(conds, " AND "), d.Collate(), b.Bind(limit))

	rows, err := r.store.Query(ctx, sql, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct %s: %w", column, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan distinct %s: %w", column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list distinct %s: %w", column, err)
	}
	return values, nil
}

// ScopeHasSpecificStreet runs the catch-all suppression test for one scope.
// Empty scope fields match rows where that field is empty or NULL.
func (r *zonalRepository) ScopeHasSpecificStreet(ctx context.Context, scope models.Scope, street string) (bool, error) {
	b := r.builder()
	values := []string{scope.Province, scope.City, scope.Barangay, scope.PropertyClass, scope.DatasetVersion}
	bound := make([]string, len(values))
	for i, v := range values {
		bound[i] = b.Bind(strings.TrimSpace(v))
	}
	pattern := b.Bind(query.LikePattern(strings.ToLower(strings.TrimSpace(street))))

	sql := "SELECT CASE WHEN " + b.SpecificStreetExists(bound, pattern) + " THEN 1 ELSE 0 END"
	var found int
	if err := r.store.QueryRow(ctx, sql, b.Args()...).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check scope streets: %w", err)
	}
	return found == 1, nil
}

// EncodeRecord renders z's insertable columns, in models.ZonalValue.Columns
// order, as arguments for dialect d.
func EncodeRecord(d database.Dialect, z *models.ZonalValue) []any {
	return []any{
		text(z.RDOCode), text(z.Region), text(z.Province), text(z.CityMunicipality), text(z.Barangay),
		text(z.StreetSubdivision), text(z.PropertyClass), text(z.PropertyType), d.NumericArg(z.Value),
		text(z.Unit), d.DateArg(z.EffectivityDate), text(z.Remarks), z.SourceFile, z.SourceSheet,
		z.SourceRow, z.DatasetVersion,
	}
}

func text(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// ScanRecord reads one row selected with query.SelectColumns.
func ScanRecord(row database.Row) (models.ZonalValue, error) {
	var (
		z         models.ZonalValue
		valueText *string
		dateText  *string
		created   string
	)
	err := row.Scan(
		&z.ID,
		&z.RDOCode,
		&z.Region,
		&z.Province,
		&z.CityMunicipality,
		&z.Barangay,
		&z.StreetSubdivision,
		&z.PropertyClass,
		&z.PropertyType,
		&valueText,
		&z.Unit,
		&dateText,
		&z.Remarks,
		&z.SourceFile,
		&z.SourceSheet,
		&z.SourceRow,
		&z.DatasetVersion,
		&created,
	)
	if err != nil {
		return z, err
	}

	if z.Value, err = parseNullDecimal(valueText); err != nil {
		return z, fmt.Errorf("invalid zonal_value for id %d: %w", z.ID, err)
	}
	if dateText != nil && *dateText != "" {
		t, err := time.Parse(database.DateLayout, (*dateText)[:min(len(*dateText), len(database.DateLayout))])
		if err != nil {
			return z, fmt.Errorf("invalid effectivity_date for id %d: %w", z.ID, err)
		}
		z.EffectivityDate = &t
	}
	if z.CreatedAt, err = time.Parse(database.TimestampLayout, created); err != nil {
		return z, fmt.Errorf("invalid created_at for id %d: %w", z.ID, err)
	}
	return z, nil
}

func parseNullDecimal(text *string) (decimal.NullDecimal, error) {
	if text == nil || *text == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*text)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
