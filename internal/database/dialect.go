package database

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Dialect renders the driver-specific fragments of otherwise shared SQL.
type Dialect interface {
	Name() string
	// Placeholder returns the n-th (1-based) positional parameter marker.
	Placeholder(n int) string
	// ContainsOp is the case-insensitive pattern match operator.
	ContainsOp() string
	// Collate is the byte-order collation clause used for stable label sorts.
	Collate() string
	TextCast(expr string) string
	// DateText renders a DATE column as YYYY-MM-DD text.
	DateText(expr string) string
	// TimestampText renders a timestamp column as RFC3339 text in UTC with millis.
	TimestampText(expr string) string
	NumericArg(d decimal.NullDecimal) any
	DateArg(t *time.Time) any
	TimestampArg(t time.Time) any
	// HasPercentile reports native percentile_cont support.
	HasPercentile() bool
	// HasFullText reports tsvector/tsquery support.
	HasFullText() bool
}

// TimestampLayout parses the output of Dialect.TimestampText.
const TimestampLayout = time.RFC3339Nano

// DateLayout parses the output of Dialect.DateText.
const DateLayout = "2006-01-02"

// Shared dialect instances.
var (
	Postgres Dialect = postgresDialect{}
	SQLite   Dialect = sqliteDialect{}
)

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) ContainsOp() string       { return "ILIKE" }
func (postgresDialect) Collate() string          { return `COLLATE "C"` }
func (postgresDialect) TextCast(expr string) string {
	return fmt.Sprintf("(%s)::text", expr)
}
func (postgresDialect) DateText(expr string) string {
	return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", expr)
}
func (postgresDialect) TimestampText(expr string) string {
	return fmt.Sprintf(`to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.MS"Z"')`, expr)
}
func (postgresDialect) NumericArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}
func (postgresDialect) DateArg(t *time.Time) any {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}
func (postgresDialect) TimestampArg(t time.Time) any {
	return pgtype.Timestamptz{Time: t, Valid: true}
}
func (postgresDialect) HasPercentile() bool { return true }
func (postgresDialect) HasFullText() bool   { return true }

type sqliteDialect struct{}

func (sqliteDialect) Name() string             { return "sqlite" }
func (sqliteDialect) Placeholder(n int) string { return fmt.Sprintf("?%d", n) }
func (sqliteDialect) ContainsOp() string       { return "LIKE" }
func (sqliteDialect) Collate() string          { return "COLLATE BINARY" }
func (sqliteDialect) TextCast(expr string) string {
	return fmt.Sprintf("CAST(%s AS TEXT)", expr)
}
func (sqliteDialect) DateText(expr string) string      { return expr }
func (sqliteDialect) TimestampText(expr string) string { return expr }
func (sqliteDialect) NumericArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
func (sqliteDialect) DateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(DateLayout)
}
func (sqliteDialect) TimestampArg(t time.Time) any {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
func (sqliteDialect) HasPercentile() bool { return false }
func (sqliteDialect) HasFullText() bool   { return false }
