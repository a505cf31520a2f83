package ingestion

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stwalsh4118/zonal/internal/aliases"
	"github.com/stwalsh4118/zonal/internal/models"
)

// GenericName identifies the alias-driven tabular parser.
const GenericName = "generic"

// headerScanRows bounds how many non-blank rows compete for the header.
const headerScanRows = 30

// Generic parses tabular sheets by locating the row whose cells best
// resolve to canonical fields and mapping the rows below it.
type Generic struct {
	resolver *aliases.Resolver
}

// NewGeneric returns the generic strategy over resolver.
func NewGeneric(resolver *aliases.Resolver) *Generic {
	return &Generic{resolver: resolver}
}

// Name implements Strategy.
func (g *Generic) Name() string {
	return GenericName
}

// Detect implements Strategy. The generic parser accepts any sheet.
func (g *Generic) Detect(Sheet) bool {
	return true
}

// Extract implements Strategy.
func (g *Generic) Extract(sheet Sheet, opts Options) Extraction {
	var out Extraction

	headerIdx, columns := g.detectHeader(sheet.Rows)
	if headerIdx < 0 {
		return out
	}

	for i := headerIdx + 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		if isBlank(row) {
			continue
		}

		rec, ok := g.mapRow(row, columns, opts)
		if !ok {
			out.Skipped++
			continue
		}
		rec.SourceFile = sheet.File
		rec.SourceSheet = sheet.Name
		rec.SourceRow = i + 1
		rec.DatasetVersion = opts.DatasetVersion
		out.Records = append(out.Records, rec)
	}
	return out
}

// detectHeader scores the first non-blank rows by distinct resolved fields.
// The highest score wins and ties go to the earliest row; with no resolved
// header at all the first non-blank row is used. The returned map is
// field -> column, where the leftmost column wins for duplicate fields.
func (g *Generic) detectHeader(rows [][]string) (int, map[string]int) {
	best, bestScore := -1, 0
	scanned := 0
	for i, row := range rows {
		if isBlank(row) {
			continue
		}
		if best < 0 {
			best = i
		}
		if score := len(g.resolveColumns(row)); score > bestScore {
			best, bestScore = i, score
		}
		scanned++
		if scanned == headerScanRows {
			break
		}
	}
	if best < 0 {
		return -1, nil
	}
	return best, g.resolveColumns(rows[best])
}

func (g *Generic) resolveColumns(row []string) map[string]int {
	columns := make(map[string]int)
	for j, c := range row {
		field, ok := g.resolver.Resolve(c)
		if !ok {
			continue
		}
		if _, seen := columns[field]; !seen {
			columns[field] = j
		}
	}
	return columns
}

// mapRow converts one data row. Rows with neither a value nor a location,
// and rows whose value cell holds text that is not a positive number, are
// rejected.
func (g *Generic) mapRow(row []string, columns map[string]int, opts Options) (models.ZonalValue, bool) {
	get := func(field string) string {
		idx, ok := columns[field]
		if !ok {
			return ""
		}
		return cell(row, idx)
	}

	var value decimal.NullDecimal
	if raw := get(aliases.FieldZonalValue); raw != "" {
		d, ok := ParsePositiveValue(raw)
		if !ok {
			return models.ZonalValue{}, false
		}
		value = decimal.NewNullDecimal(d)
	}

	hasLocation := false
	for _, f := range []string{aliases.FieldRegion, aliases.FieldProvince, aliases.FieldCityMunicipality, aliases.FieldBarangay, aliases.FieldStreetSubdivision} {
		if get(f) != "" {
			hasLocation = true
			break
		}
	}
	if !value.Valid && !hasLocation {
		return models.ZonalValue{}, false
	}

	return models.ZonalValue{
		RDOCode:           textOrNil(get(aliases.FieldRDOCode)),
		Region:            firstNonEmpty(get(aliases.FieldRegion), opts.DefaultRegion),
		Province:          firstNonEmpty(get(aliases.FieldProvince), opts.DefaultProvince),
		CityMunicipality:  textOrNil(get(aliases.FieldCityMunicipality)),
		Barangay:          textOrNil(get(aliases.FieldBarangay)),
		StreetSubdivision: textOrNil(get(aliases.FieldStreetSubdivision)),
		PropertyClass:     textOrNil(get(aliases.FieldPropertyClass)),
		PropertyType:      textOrNil(get(aliases.FieldPropertyType)),
		Value:             value,
		Unit:              firstNonEmpty(get(aliases.FieldUnit), models.DefaultUnit),
		EffectivityDate:   ParseDate(get(aliases.FieldEffectivityDate)),
		Remarks:           textOrNil(strings.TrimSpace(get(aliases.FieldRemarks))),
	}, true
}
