// Package query turns validated filters into dialect-specific SQL for the
// zonal value listing, summary and export paths.
package query

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// MatchMode selects how location and classification filters compare.
type MatchMode string

// Supported match modes.
const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
)

// RawFilters are the untrusted filter parameters as received.
type RawFilters struct {
	Search         string `form:"search"`
	Region         string `form:"region"`
	Province       string `form:"province"`
	City           string `form:"city"`
	Barangay       string `form:"barangay"`
	PropertyClass  string `form:"property_class"`
	PropertyType   string `form:"property_type"`
	DatasetVersion string `form:"dataset_version"`
	MinValue       string `form:"min_value"`
	MaxValue       string `form:"max_value"`
	Street         string `form:"street"`
	Match          string `form:"match"`
}

// Filters is a validated filter set. Empty strings and invalid decimals
// mean "not filtered".
type Filters struct {
	Search         string
	Region         string
	Province       string
	City           string
	Barangay       string
	PropertyClass  string
	PropertyType   string
	DatasetVersion string
	Street         string
	MinValue       decimal.NullDecimal
	MaxValue       decimal.NullDecimal
	Match          MatchMode
}

// ValidationError lists rejected parameters by name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid filters: " + strings.Join(parts, "; ")
}

// ParseFilters validates raw. It returns a *ValidationError when any bound
// is not numeric, min exceeds max, or the match mode is unknown.
func ParseFilters(raw RawFilters) (Filters, error) {
	f := Filters{
		Search:         strings.TrimSpace(raw.Search),
		Region:         strings.TrimSpace(raw.Region),
		Province:       strings.TrimSpace(raw.Province),
		City:           strings.TrimSpace(raw.City),
		Barangay:       strings.TrimSpace(raw.Barangay),
		PropertyClass:  strings.TrimSpace(raw.PropertyClass),
		PropertyType:   strings.TrimSpace(raw.PropertyType),
		DatasetVersion: strings.TrimSpace(raw.DatasetVersion),
		Street:         strings.TrimSpace(raw.Street),
		Match:          MatchContains,
	}
	invalid := map[string]string{}

	switch MatchMode(strings.ToLower(strings.TrimSpace(raw.Match))) {
	case "", MatchContains:
	case MatchExact:
		f.Match = MatchExact
	default:
		invalid["match"] = "must be one of: contains, exact"
	}

	var ok bool
	if f.MinValue, ok = parseBound(raw.MinValue); !ok {
		invalid["min_value"] = "must be a number"
	}
	if f.MaxValue, ok = parseBound(raw.MaxValue); !ok {
		invalid["max_value"] = "must be a number"
	}
	if f.MinValue.Valid && f.MaxValue.Valid && f.MinValue.Decimal.GreaterThan(f.MaxValue.Decimal) {
		invalid["min_value"] = "must be less than or equal to max_value"
	}

	if len(invalid) > 0 {
		return Filters{}, &ValidationError{Fields: invalid}
	}
	return f, nil
}

func parseBound(raw string) (decimal.NullDecimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, false
	}
	return decimal.NewNullDecimal(d), true
}

// NormalizedStreet is the street query as compared against stored streets.
func (f Filters) NormalizedStreet() string {
	return strings.ToLower(strings.TrimSpace(f.Street))
}

// CacheKey is a stable digest of the filter set.
func (f Filters) CacheKey() string {
	parts := []string{
		f.Search, f.Region, f.Province, f.City, f.Barangay, f.PropertyClass,
		f.PropertyType, f.DatasetVersion, f.NormalizedStreet(), string(f.Match),
		nullDecimalString(f.MinValue), nullDecimalString(f.MaxValue),
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
