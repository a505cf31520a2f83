// Package export renders zonal value records as downloadable CSV or XLSX.
package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stwalsh4118/zonal/internal/database"
	"github.com/stwalsh4118/zonal/internal/models"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for formats other than csv and xlsx.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat resolves a format name; empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ContentType is the MIME type served for f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Writer receives records in order and finishes the document on Close.
type Writer interface {
	Write(z *models.ZonalValue) error
	Close() error
}

// NewWriter starts a document of format f on w and writes the header row.
func NewWriter(f Format, w io.Writer) (Writer, error) {
	switch f {
	case FormatCSV:
		return newCSVWriter(w)
	case FormatXLSX:
		return newXLSXWriter(w)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// Header is the column row of every export, lineage included.
var Header = []string{
	"id", "rdo_code", "region", "province", "city_municipality", "barangay",
	"street_subdivision", "property_class", "property_type", "zonal_value", "unit",
	"effectivity_date", "remarks", "source_file", "source_sheet", "source_row",
	"dataset_version",
}

// Row renders z in Header order. Values keep two decimals.
func Row(z *models.ZonalValue) []string {
	value := ""
	if z.Value.Valid {
		value = z.Value.Decimal.StringFixed(2)
	}
	date := ""
	if z.EffectivityDate != nil {
		date = z.EffectivityDate.Format(database.DateLayout)
	}
	return []string{
		strconv.FormatInt(z.ID, 10),
		models.Deref(z.RDOCode),
		models.Deref(z.Region),
		models.Deref(z.Province),
		models.Deref(z.CityMunicipality),
		models.Deref(z.Barangay),
		models.Deref(z.StreetSubdivision),
		models.Deref(z.PropertyClass),
		models.Deref(z.PropertyType),
		value,
		models.Deref(z.Unit),
		date,
		models.Deref(z.Remarks),
		z.SourceFile,
		z.SourceSheet,
		strconv.Itoa(z.SourceRow),
		z.DatasetVersion,
	}
}
