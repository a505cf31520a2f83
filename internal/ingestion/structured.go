package ingestion

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stwalsh4118/zonal/internal/aliases"
	"github.com/stwalsh4118/zonal/internal/models"
)

// StructuredName identifies the multi-block report parser.
const StructuredName = "structured"

// detectScanRows bounds how far Detect looks for report markers.
const detectScanRows = 60

// tabularHeaderFields is the number of resolvable header cells, one of them
// a location column, that marks a row as a flat table header.
const tabularHeaderFields = 3

var (
	classGrammar = regexp.MustCompile(`^\*{0,2}[A-Z]{1,4}-?[0-9A-Z]{0,4}$`)
	rdoFromFile  = regexp.MustCompile(`(?i)RDO\s*No\.?\s*\d+[A-Z]?(?:\s*-\s*[^_]+)?`)

	disallowedClassFragments = []string{
		"EFFECTIVITY", "CLASSIFICATION", "CLASSI", "FICATION", "REVISION",
		"D.O.", "DO NO", "ZV/", "FROM", "TO",
	}
)

// blockContext is the running location state of a structured sheet.
type blockContext struct {
	rdo      string
	province string
	city     string
	barangay string
	street   string
}

func (c blockContext) known() bool {
	return c.rdo != "" || c.province != "" || c.city != "" || c.barangay != ""
}

// columnLayout records column positions found by header signature;
// -1 means unknown and triggers per-row inference.
type columnLayout struct {
	class int
	value int
	desc  int
}

// Structured parses report-style sheets where location context arrives in
// marker rows and data rows carry street, vicinity, class and value cells.
type Structured struct {
	resolver *aliases.Resolver
}

// NewStructured returns the structured strategy. The resolver tells flat
// table headers apart from report headers; nil selects the built-in table.
func NewStructured(resolver *aliases.Resolver) *Structured {
	if resolver == nil {
		resolver = aliases.Default()
	}
	return &Structured{resolver: resolver}
}

// Name implements Strategy.
func (s *Structured) Name() string {
	return StructuredName
}

// Detect reports whether the first rows contain an office marker, a
// colon-labelled location marker, or the zonal value header signature on a
// row that is not a flat table header.
func (s *Structured) Detect(sheet Sheet) bool {
	limit := len(sheet.Rows)
	if limit > detectScanRows {
		limit = detectScanRows
	}

	for _, row := range sheet.Rows[:limit] {
		if isBlank(row) {
			continue
		}
		first := strings.ToUpper(cell(row, 0))
		if strings.HasPrefix(first, "RDO NO") || strings.Contains(first, "REVENUE DISTRICT OFFICE") {
			return true
		}
		for _, label := range locationLabels {
			if hasColonLabel(row, label.text) {
				return true
			}
		}
		if isZonalHeaderRow(row) && !s.tabularHeader(row) {
			return true
		}
	}
	return false
}

// Extract implements Strategy.
func (s *Structured) Extract(sheet Sheet, opts Options) Extraction {
	ctx := blockContext{
		rdo:      rdoFromFileName(sheet.File),
		province: strings.TrimSpace(opts.DefaultProvince),
	}
	layout := columnLayout{class: -1, value: -1, desc: -1}

	var out Extraction
	for i, row := range sheet.Rows {
		if isBlank(row) {
			continue
		}

		var rec *models.ZonalValue
		ctx, layout, rec = s.step(ctx, layout, row)
		if rec == nil {
			out.Skipped++
			continue
		}

		rec.Region = textOrNil(opts.DefaultRegion)
		rec.SourceFile = sheet.File
		rec.SourceSheet = sheet.Name
		rec.SourceRow = i + 1
		rec.DatasetVersion = opts.DatasetVersion
		out.Records = append(out.Records, *rec)
	}
	return out
}

// step consumes one non-blank row and returns the updated context, layout
// and, for accepted data rows, the record.
func (s *Structured) step(ctx blockContext, layout columnLayout, row []string) (blockContext, columnLayout, *models.ZonalValue) {
	first := strings.ToUpper(cell(row, 0))

	if !hasClassValue(row) {
		if next, ok := headerLayout(layout, row); ok {
			if isStreetHeader(first) {
				ctx.street = ""
			}
			return ctx, next, nil
		}
		if s.tabularHeader(row) {
			return ctx, layout, nil
		}
	}

	switch {
	case strings.HasPrefix(first, "RDO NO"):
		ctx.rdo = strings.TrimSpace(strings.Join(nonEmpty(cell(row, 0), cell(row, 1)), " "))
		return ctx, layout, nil
	case strings.Contains(first, "REVENUE DISTRICT OFFICE") && strings.Contains(first, "NO."):
		ctx.rdo = cell(row, 0)
		return ctx, layout, nil
	}

	for _, label := range locationLabels {
		v := labelledValue(row, label.text)
		if v == "" {
			continue
		}
		switch label.field {
		case "province":
			ctx.province = v
		case "city":
			ctx.city = v
		case "barangay":
			if strings.HasPrefix(strings.ToUpper(v), "BARANGAY:") {
				v = strings.TrimSpace(v[len("BARANGAY:"):])
			}
			ctx.barangay = v
			ctx.street = ""
		}
		return ctx, layout, nil
	}

	if isStreetHeader(first) {
		ctx.street = ""
		return ctx, layout, nil
	}

	classIdx, valueIdx, descIdx := s.locate(layout, row)
	class := strings.TrimSpace(cell(row, classIdx))
	if !ValidPropertyClass(class) {
		return ctx, layout, nil
	}
	value, ok := ParsePositiveValue(cell(row, valueIdx))
	if !ok || !ctx.known() {
		return ctx, layout, nil
	}

	if street := cell(row, 0); street != "" {
		ctx.street = street
	}

	rec := &models.ZonalValue{
		RDOCode:           textOrNil(ctx.rdo),
		Province:          textOrNil(ctx.province),
		CityMunicipality:  textOrNil(ctx.city),
		Barangay:          textOrNil(ctx.barangay),
		StreetSubdivision: textOrNil(ctx.street),
		PropertyClass:     &class,
		PropertyType:      models.StringPtr(models.DefaultPropertyType),
		Value:             decimal.NewNullDecimal(value),
		Unit:              models.StringPtr(models.DefaultUnit),
		Remarks:           textOrNil(cell(row, descIdx)),
	}
	return ctx, layout, rec
}

// headerLayout applies the column header signature of row to layout. It
// reports false when row carries no header cell.
func headerLayout(layout columnLayout, row []string) (columnLayout, bool) {
	header := false
	for j, c := range row {
		u := strings.ToUpper(c)
		if strings.Contains(u, "CLASSIFICATION") || u == "CLASSI" || u == "CLASSI-" || u == "FICATION" {
			layout.class = j
			header = true
		}
		if strings.Contains(u, "VICINITY") {
			layout.desc = j
			header = true
		}
		if isValueHeader(u) {
			layout.value = j
			header = true
		}
	}
	return layout, header
}

func isStreetHeader(upper string) bool {
	return (strings.Contains(upper, "STREET NAME") && strings.Contains(upper, "SUBDIVISION")) ||
		strings.HasPrefix(upper, "STREET/SUBDIVISION")
}

// hasClassValue reports whether row holds a property class followed by a
// positive value, which makes it data whatever its other cells say.
func hasClassValue(row []string) bool {
	for i := range row {
		if !ValidPropertyClass(row[i]) {
			continue
		}
		for j := i + 1; j < len(row); j++ {
			if _, ok := ParsePositiveValue(row[j]); ok {
				return true
			}
		}
	}
	return false
}

// tabularHeader reports whether row is the header of a flat table: several
// cells resolve to canonical fields and at least one is a location column.
func (s *Structured) tabularHeader(row []string) bool {
	seen := make(map[string]bool)
	location := false
	for _, c := range row {
		field, ok := s.resolver.Resolve(c)
		if !ok || seen[field] {
			continue
		}
		seen[field] = true
		switch field {
		case aliases.FieldProvince, aliases.FieldCityMunicipality, aliases.FieldBarangay:
			location = true
		}
	}
	return location && len(seen) >= tabularHeaderFields
}

// locate resolves the class, value and description cells for a data row,
// inferring any column the headers did not pin down.
func (s *Structured) locate(layout columnLayout, row []string) (classIdx, valueIdx, descIdx int) {
	classIdx, valueIdx, descIdx = layout.class, layout.value, layout.desc

	if classIdx < 0 {
		for j := 1; j < len(row); j++ {
			if ValidPropertyClass(row[j]) {
				classIdx = j
				break
			}
		}
	}

	if valueIdx < 0 {
		for j := classIdx + 1; classIdx >= 0 && j < len(row); j++ {
			if _, ok := ParsePositiveValue(row[j]); ok {
				valueIdx = j
				break
			}
		}
	}

	if descIdx < 0 {
		for j := 1; j < len(row); j++ {
			if j == classIdx || j == valueIdx || row[j] == "" {
				continue
			}
			if _, ok := ParseValue(row[j]); ok {
				continue
			}
			descIdx = j
			break
		}
	}
	return classIdx, valueIdx, descIdx
}

type locationLabel struct {
	text  string
	field string
}

// locationLabels are checked in order; longer labels precede their prefixes.
var locationLabels = []locationLabel{
	{"Province", "province"},
	{"City/Municipality", "city"},
	{"Municipality", "city"},
	{"City", "city"},
	{"Zone/Barangay", "barangay"},
	{"Barangay", "barangay"},
}

// labelledValue returns the value of a marker row whose first cell is label
// followed by end of cell or a colon. The value is taken after the colon,
// after a lone ":" cell, or from the next cell.
func labelledValue(row []string, label string) string {
	first := cell(row, 0)
	if !strings.HasPrefix(strings.ToUpper(first), strings.ToUpper(label)) {
		return ""
	}
	rest := strings.TrimSpace(first[len(label):])
	if rest != "" && !strings.HasPrefix(rest, ":") {
		return ""
	}
	if strings.HasPrefix(rest, ":") {
		if v := strings.TrimSpace(rest[1:]); v != "" {
			return v
		}
	}
	if cell(row, 1) == ":" {
		return cell(row, 2)
	}
	return cell(row, 1)
}

// hasColonLabel is the stricter marker test used for detection: the label
// must be followed by a colon, either inline or in the next cell.
func hasColonLabel(row []string, label string) bool {
	first := cell(row, 0)
	if !strings.HasPrefix(strings.ToUpper(first), strings.ToUpper(label)) {
		return false
	}
	rest := strings.TrimSpace(first[len(label):])
	return strings.HasPrefix(rest, ":") || (rest == "" && cell(row, 1) == ":")
}

func isValueHeader(upper string) bool {
	return strings.Contains(upper, "ZV/") || (strings.Contains(upper, "ZV") && strings.Contains(upper, "SQ"))
}

// isZonalHeaderRow matches the column header row of the report family:
// a zonal value column next to a vicinity or classification column.
func isZonalHeaderRow(row []string) bool {
	var value, other bool
	for _, c := range row {
		u := strings.ToUpper(c)
		if isValueHeader(u) {
			value = true
		}
		if strings.Contains(u, "VICINITY") || strings.Contains(u, "CLASSIFICATION") {
			other = true
		}
	}
	return value && other
}

// ValidPropertyClass reports whether text looks like a property class code
// such as "RR", "CR-1" or "*A1".
func ValidPropertyClass(text string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(text))
	if normalized == "" || len(normalized) > 12 {
		return false
	}
	for _, fragment := range disallowedClassFragments {
		if strings.Contains(normalized, fragment) {
			return false
		}
	}
	return classGrammar.MatchString(normalized)
}

func rdoFromFileName(file string) string {
	stem := strings.TrimSuffix(file, fileExt(file))
	return strings.TrimSpace(rdoFromFile.FindString(stem))
}

func fileExt(file string) string {
	if i := strings.LastIndex(file, "."); i >= 0 {
		return file[i:]
	}
	return ""
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
