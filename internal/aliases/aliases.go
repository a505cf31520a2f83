// Package aliases maps free-form spreadsheet header text to canonical
// zonal value fields.
package aliases

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonical field names.
const (
	FieldRDOCode           = "rdo_code"
	FieldRegion            = "region"
	FieldProvince          = "province"
	FieldCityMunicipality  = "city_municipality"
	FieldBarangay          = "barangay"
	FieldStreetSubdivision = "street_subdivision"
	FieldPropertyClass     = "property_class"
	FieldPropertyType      = "property_type"
	FieldZonalValue        = "zonal_value"
	FieldUnit              = "unit"
	FieldEffectivityDate   = "effectivity_date"
	FieldRemarks           = "remarks"
)

// CanonicalFields lists every field a header may resolve to.
var CanonicalFields = []string{
	FieldRDOCode, FieldRegion, FieldProvince, FieldCityMunicipality, FieldBarangay,
	FieldStreetSubdivision, FieldPropertyClass, FieldPropertyType, FieldZonalValue,
	FieldUnit, FieldEffectivityDate, FieldRemarks,
}

// defaultAliases holds normalized header spellings seen in published workbooks.
var defaultAliases = map[string]string{
	"rdo":                     FieldRDOCode,
	"rdo_code":                FieldRDOCode,
	"rdo_no":                  FieldRDOCode,
	"revenue_district_office": FieldRDOCode,

	"region": FieldRegion,

	"province": FieldProvince,

	"city":                 FieldCityMunicipality,
	"municipality":         FieldCityMunicipality,
	"city_municipality":    FieldCityMunicipality,
	"city_or_municipality": FieldCityMunicipality,

	"barangay":      FieldBarangay,
	"brgy":          FieldBarangay,
	"zone_barangay": FieldBarangay,

	"street":                              FieldStreetSubdivision,
	"subdivision":                         FieldStreetSubdivision,
	"street_subdivision":                  FieldStreetSubdivision,
	"street_subdivision_name":             FieldStreetSubdivision,
	"street_name_subdivision_condominium": FieldStreetSubdivision,

	"property_class": FieldPropertyClass,
	"classification": FieldPropertyClass,
	"class":          FieldPropertyClass,

	"property_type": FieldPropertyType,
	"type":          FieldPropertyType,

	"zonal_value":          FieldZonalValue,
	"zonal_value_per_sq_m": FieldZonalValue,
	"value":                FieldZonalValue,
	"value_per_sq_m":       FieldZonalValue,
	"zv_sq_m":              FieldZonalValue,
	"zv":                   FieldZonalValue,

	"unit": FieldUnit,
	"uom":  FieldUnit,

	"effectivity_date": FieldEffectivityDate,
	"effectivity":      FieldEffectivityDate,

	"remarks":  FieldRemarks,
	"note":     FieldRemarks,
	"vicinity": FieldRemarks,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases raw, collapses every run of punctuation or whitespace
// into a single underscore and trims underscores from both ends.
func Normalize(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	return strings.Trim(nonAlnum.ReplaceAllString(lowered, "_"), "_")
}

// Resolver resolves header text against an immutable alias table.
type Resolver struct {
	table map[string]string
}

// Default returns a resolver over the built-in alias table.
func Default() *Resolver {
	table := make(map[string]string, len(defaultAliases))
	for k, v := range defaultAliases {
		table[k] = v
	}
	return &Resolver{table: table}
}

// Resolve returns the canonical field for a raw header. Unknown headers
// return ok=false and are never guessed.
func (r *Resolver) Resolve(raw string) (string, bool) {
	key := Normalize(raw)
	if key == "" {
		return "", false
	}
	field, ok := r.table[key]
	return field, ok
}

// Len reports the number of known spellings.
func (r *Resolver) Len() int {
	return len(r.table)
}

// Extend returns a new resolver with extra spellings merged over r.
// Keys of extra are canonical fields; an unknown field is an error.
func (r *Resolver) Extend(extra map[string][]string) (*Resolver, error) {
	table := make(map[string]string, len(r.table))
	for k, v := range r.table {
		table[k] = v
	}

	fields := make([]string, 0, len(extra))
	for field := range extra {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if !isCanonical(field) {
			return nil, fmt.Errorf("alias target %q is not a canonical field", field)
		}
		for _, raw := range extra[field] {
			key := Normalize(raw)
			if key == "" {
				return nil, fmt.Errorf("empty alias for field %q", field)
			}
			table[key] = field
		}
	}
	return &Resolver{table: table}, nil
}

type aliasFile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// LoadFile builds a resolver from the defaults plus a YAML extension file:
//
//	aliases:
//	  zonal_value: ["ZV per sqm", "Market value/sq.m."]
//	  barangay: ["Bgy."]
//
// An empty path returns the default resolver.
func LoadFile(path string) (*Resolver, error) {
	base := Default()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}

	var parsed aliasFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}

	return base.Extend(parsed.Aliases)
}

func isCanonical(field string) bool {
	for _, f := range CanonicalFields {
		if f == field {
			return true
		}
	}
	return false
}
