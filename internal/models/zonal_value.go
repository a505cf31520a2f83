package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical defaults applied by the ingestion strategies.
const (
	DefaultUnit         = "PHP per sq.m."
	DefaultPropertyType = "Land"
	UnspecifiedClass    = "Unspecified"
)

// ZonalValue is one canonical zonal value record with its lineage.
// All nullable fields use pointers (or decimal.NullDecimal) to distinguish
// between empty text and NULL.
type ZonalValue struct {
	CreatedAt         time.Time           `db:"created_at" json:"createdAt"`
	EffectivityDate   *time.Time          `db:"effectivity_date" json:"effectivityDate,omitempty"`
	RDOCode           *string             `db:"rdo_code" json:"rdoCode,omitempty"`
	Region            *string             `db:"region" json:"region,omitempty"`
	Province          *string             `db:"province" json:"province,omitempty"`
	CityMunicipality  *string             `db:"city_municipality" json:"cityMunicipality,omitempty"`
	Barangay          *string             `db:"barangay" json:"barangay,omitempty"`
	StreetSubdivision *string             `db:"street_subdivision" json:"streetSubdivision,omitempty"`
	PropertyClass     *string             `db:"property_class" json:"propertyClass,omitempty"`
	PropertyType      *string             `db:"property_type" json:"propertyType,omitempty"`
	Unit              *string             `db:"unit" json:"unit,omitempty"`
	Remarks           *string             `db:"remarks" json:"remarks,omitempty"`
	Value             decimal.NullDecimal `db:"zonal_value" json:"zonalValue"`
	SourceFile        string              `db:"source_file" json:"sourceFile"`
	SourceSheet       string              `db:"source_sheet" json:"sourceSheet"`
	DatasetVersion    string              `db:"dataset_version" json:"datasetVersion"`
	ID                int64               `db:"id" json:"id"`
	SourceRow         int                 `db:"source_row" json:"sourceRow"`
}

// TableName is the canonical table holding zonal value records.
func (ZonalValue) TableName() string {
	return "zonal_values"
}

// Columns lists the insertable columns in storage order. The id and
// created_at columns are assigned by the store.
func (ZonalValue) Columns() []string {
	return []string{
		"rdo_code", "region", "province", "city_municipality", "barangay",
		"street_subdivision", "property_class", "property_type", "zonal_value",
		"unit", "effectivity_date", "remarks", "source_file", "source_sheet",
		"source_row", "dataset_version",
	}
}

// HasLocation reports whether any location field is populated.
func (z *ZonalValue) HasLocation() bool {
	for _, p := range []*string{z.RDOCode, z.Region, z.Province, z.CityMunicipality, z.Barangay, z.StreetSubdivision} {
		if p != nil && *p != "" {
			return true
		}
	}
	return false
}

// Scope identifies the peer group used for catch-all street resolution.
type Scope struct {
	Province       string `json:"province"`
	City           string `json:"city"`
	Barangay       string `json:"barangay"`
	PropertyClass  string `json:"propertyClass"`
	DatasetVersion string `json:"datasetVersion"`
}

// StringPtr returns nil for empty (after trimming by the caller) text.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
