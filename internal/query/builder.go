package query

import (
	"fmt"
	"strings"

	"github.com/stwalsh4118/zonal/internal/database"
)

// SearchMode is the free-text strategy, resolved once from the index layer
// capabilities.
type SearchMode int

const (
	// SearchSubstring matches a pattern against each textual field.
	SearchSubstring SearchMode = iota
	// SearchLexical combines a tsquery match with a substring match over the
	// synthesized search document.
	SearchLexical
)

func (m SearchMode) String() string {
	if m == SearchLexical {
		return "lexical"
	}
	return "substring"
}

// CatchAllPattern identifies the "all other streets" sentinel rows.
const CatchAllPattern = "%all other street%"

// textColumns are the textual fields folded into the search document.
var textColumns = []string{
	"rdo_code", "region", "province", "city_municipality", "barangay",
	"street_subdivision", "property_class", "property_type", "dataset_version",
}

// SelectColumns renders the canonical column list so that every value is
// scanned as text regardless of driver.
func SelectColumns(d database.Dialect, alias string) string {
	c := prefixer(alias)
	return strings.Join([]string{
		c("id"), c("rdo_code"), c("region"), c("province"), c("city_municipality"),
		c("barangay"), c("street_subdivision"), c("property_class"), c("property_type"),
		d.TextCast(c("zonal_value")), c("unit"), d.DateText(c("effectivity_date")),
		c("remarks"), c("source_file"), c("source_sheet"), c("source_row"),
		c("dataset_version"), d.TimestampText(c("created_at")),
	}, ", ")
}

// SearchDocument is the concatenated search text. The index layer builds its
// text indexes over the same expression with an empty alias.
func SearchDocument(d database.Dialect, alias string) string {
	c := prefixer(alias)
	parts := make([]string, 0, len(textColumns)+2)
	for _, col := range textColumns {
		parts = append(parts, fmt.Sprintf("coalesce(%s, '')", c(col)))
	}
	parts = append(parts,
		fmt.Sprintf("coalesce(%s, '')", d.TextCast(c("zonal_value"))),
		fmt.Sprintf("coalesce(%s, '')", c("remarks")),
	)
	return "(" + strings.Join(parts, " || ' ' || ") + ")"
}

// NormalizedStreet is the comparable form of the street column.
func NormalizedStreet(alias string) string {
	return fmt.Sprintf("lower(trim(coalesce(%s, '')))", prefixer(alias)("street_subdivision"))
}

// CatchAll matches sentinel street rows.
func CatchAll(alias string) string {
	return fmt.Sprintf("%s LIKE '%s'", NormalizedStreet(alias), CatchAllPattern)
}

// ScopeColumns are the fields that bound catch-all suppression.
var ScopeColumns = []string{"province", "city_municipality", "barangay", "property_class", "dataset_version"}

// OrderBy is the canonical listing order. Street rank never takes part.
func OrderBy(alias string) string {
	c := prefixer(alias)
	return fmt.Sprintf("ORDER BY %s ASC NULLS LAST, %s ASC NULLS LAST, %s ASC NULLS LAST, %s ASC NULLS LAST, %s ASC NULLS LAST, %s ASC",
		c("region"), c("province"), c("city_municipality"), c("barangay"), c("street_subdivision"), c("id"))
}

// Builder accumulates positional arguments while rendering predicates.
// A Builder renders one statement; it is not safe for concurrent use.
type Builder struct {
	dialect database.Dialect
	search  SearchMode
	args    []any

	streetQuery   string
	streetPattern string
}

// NewBuilder returns a builder for dialect d using search mode m.
func NewBuilder(d database.Dialect, m SearchMode) *Builder {
	return &Builder{dialect: d, search: m}
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() database.Dialect {
	return b.dialect
}

// Bind appends v and returns its placeholder.
func (b *Builder) Bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// Args returns the bound arguments in placeholder order.
func (b *Builder) Args() []any {
	return b.args
}

// Where renders the WHERE clause for f against the table aliased as alias,
// or "" when nothing is filtered.
func (b *Builder) Where(f Filters, alias string) string {
	conds := b.Conditions(f, alias)
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}

// Conditions renders every predicate of f; callers AND them together.
func (b *Builder) Conditions(f Filters, alias string) []string {
	c := prefixer(alias)
	var conds []string

	if f.Search != "" {
		conds = append(conds, b.searchCondition(f.Search, alias))
	}

	for _, field := range []struct {
		value  string
		column string
	}{
		{f.Region, "region"},
		{f.Province, "province"},
		{f.City, "city_municipality"},
		{f.Barangay, "barangay"},
		{f.PropertyClass, "property_class"},
		{f.PropertyType, "property_type"},
	} {
		if field.value == "" {
			continue
		}
		if f.Match == MatchExact {
			conds = append(conds, fmt.Sprintf("lower(%s) = lower(%s)", c(field.column), b.Bind(field.value)))
		} else {
			conds = append(conds, b.contains(c(field.column), field.value))
		}
	}

	if f.DatasetVersion != "" {
		conds = append(conds, fmt.Sprintf("%s = %s", c("dataset_version"), b.Bind(f.DatasetVersion)))
	}
	if f.MinValue.Valid {
		conds = append(conds, fmt.Sprintf("%s >= %s", c("zonal_value"), b.Bind(b.dialect.NumericArg(f.MinValue))))
	}
	if f.MaxValue.Valid {
		conds = append(conds, fmt.Sprintf("%s <= %s", c("zonal_value"), b.Bind(b.dialect.NumericArg(f.MaxValue))))
	}

	if street := f.NormalizedStreet(); street != "" {
		conds = append(conds, b.streetInclusion(street, alias))
	}
	return conds
}

// StreetExact renders the exact street match for the bound street query, or
// an always-false predicate when no street was filtered. Call after Where.
func (b *Builder) StreetExact(alias string) string {
	if b.streetQuery == "" {
		return "1 = 0"
	}
	return fmt.Sprintf("%s = %s", NormalizedStreet(alias), b.streetQuery)
}

// SpecificStreetExists renders an EXISTS test for a non catch-all row whose
// street contains pattern, inside the scope given by the right-hand sides of
// ScopeColumns (in order).
func (b *Builder) SpecificStreetExists(scope []string, patternPlaceholder string) string {
	const peer = "peer"
	p := prefixer(peer)

	conds := make([]string, 0, len(ScopeColumns)+2)
	for i, col := range ScopeColumns {
		conds = append(conds, fmt.Sprintf("coalesce(%s, '') = %s", p(col), scope[i]))
	}
	conds = append(conds,
		fmt.Sprintf("%s LIKE %s ESCAPE '\\'", NormalizedStreet(peer), patternPlaceholder),
		"NOT ("+CatchAll(peer)+")",
	)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s)",
		database.ZonalValuesTable, peer, strings.Join(conds, " AND "))
}

// streetInclusion keeps exact matches, non catch-all contains matches, and
// catch-all rows whose scope has no specific match.
func (b *Builder) streetInclusion(street, alias string) string {
	c := prefixer(alias)
	b.streetQuery = b.Bind(street)
	b.streetPattern = b.Bind(LikePattern(street))

	norm := NormalizedStreet(alias)
	exact := fmt.Sprintf("%s = %s", norm, b.streetQuery)
	contains := fmt.Sprintf("%s LIKE %s ESCAPE '\\'", norm, b.streetPattern)
	catchAll := CatchAll(alias)

	scope := make([]string, len(ScopeColumns))
	for i, col := range ScopeColumns {
		scope[i] = fmt.Sprintf("coalesce(%s, '')", c(col))
	}
	fallback := fmt.Sprintf("(%s AND NOT %s)", catchAll, b.SpecificStreetExists(scope, b.streetPattern))

	return fmt.Sprintf("(%s OR (%s AND NOT (%s)) OR %s)", exact, contains, catchAll, fallback)
}

func (b *Builder) searchCondition(search, alias string) string {
	pattern := b.Bind(LikePattern(search))

	if b.search == SearchLexical && b.dialect.HasFullText() {
		doc := SearchDocument(b.dialect, alias)
		q := b.Bind(search)
		return fmt.Sprintf("(to_tsvector('simple', %s) @@ websearch_to_tsquery('simple', %s) OR %s %s %s ESCAPE '\\')",
			doc, q, doc, b.dialect.ContainsOp(), pattern)
	}

	c := prefixer(alias)
	ors := make([]string, 0, len(textColumns)+2)
	for _, col := range textColumns {
		ors = append(ors, fmt.Sprintf("%s %s %s ESCAPE '\\'", c(col), b.dialect.ContainsOp(), pattern))
	}
	ors = append(ors,
		fmt.Sprintf("%s %s %s ESCAPE '\\'", b.dialect.TextCast(c("zonal_value")), b.dialect.ContainsOp(), pattern),
		fmt.Sprintf("%s %s %s ESCAPE '\\'", c("remarks"), b.dialect.ContainsOp(), pattern),
	)
	return "(" + strings.Join(ors, " OR ") + ")"
}

func (b *Builder) contains(column, value string) string {
	return fmt.Sprintf("%s %s %s ESCAPE '\\'", column, b.dialect.ContainsOp(), b.Bind(LikePattern(value)))
}

// LikePattern wraps value in % after escaping LIKE metacharacters.
func LikePattern(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(value) + "%"
}

func prefixer(alias string) func(string) string {
	if alias == "" {
		return func(col string) string { return col }
	}
	return func(col string) string { return alias + "." + col }
}
