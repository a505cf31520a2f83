package ingestion

import (
	"strings"

	"github.com/stwalsh4118/zonal/internal/models"
)

// forcedStructuredPrefix marks dataset versions that always use the
// structured parser, even when it accepts nothing.
const forcedStructuredPrefix = "BIR-ZONAL"

// Options are the caller-supplied settings for one ingestion run.
type Options struct {
	DatasetVersion  string
	DefaultRegion   string
	DefaultProvince string
}

// Extraction is the outcome of running one strategy over one sheet.
type Extraction struct {
	Records []models.ZonalValue
	Skipped int
}

// Strategy turns one raw sheet into canonical records. Implementations hold
// no per-sheet state; everything a run needs is threaded through Extract.
type Strategy interface {
	Name() string
	Detect(sheet Sheet) bool
	Extract(sheet Sheet, opts Options) Extraction
}

// Selection names the strategy that produced a sheet's records.
type Selection struct {
	Strategy   string
	Extraction Extraction
}

// Selector picks a strategy per sheet.
type Selector struct {
	structured Strategy
	generic    Strategy
}

// NewSelector pairs the structured and generic strategies.
func NewSelector(structured, generic Strategy) *Selector {
	return &Selector{structured: structured, generic: generic}
}

// Extract runs the strategy appropriate for sheet:
//   - structured when the dataset version is forced or the sheet carries
//     report markers, falling back to generic when a detected (not forced)
//     sheet yields no records;
//   - generic otherwise.
func (s *Selector) Extract(sheet Sheet, opts Options) Selection {
	forced := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(opts.DatasetVersion)), forcedStructuredPrefix)

	if forced || s.structured.Detect(sheet) {
		ex := s.structured.Extract(sheet, opts)
		if forced || len(ex.Records) > 0 {
			return Selection{Strategy: s.structured.Name(), Extraction: ex}
		}
	}

	return Selection{Strategy: s.generic.Name(), Extraction: s.generic.Extract(sheet, opts)}
}
