package models

import "github.com/shopspring/decimal"

// MaxClassMix bounds the class breakdown returned with a summary.
const MaxClassMix = 8

// Page is one page of canonically ordered records.
type Page struct {
	Items    []ZonalValue `json:"items"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

// ClassCount is one entry of a summary's class breakdown.
type ClassCount struct {
	PropertyClass string `json:"propertyClass"`
	Count         int64  `json:"count"`
}

// Summary holds the aggregate metrics of a filtered set. Min, Max and
// Median are null when the set has no values.
type Summary struct {
	Total            int64               `json:"total"`
	Min              decimal.NullDecimal `json:"min"`
	Max              decimal.NullDecimal `json:"max"`
	Median           *float64            `json:"median"`
	CatchAllCount    int64               `json:"catchAllCount"`
	ExactStreetCount int64               `json:"exactStreetCount"`
	ClassMix         []ClassCount        `json:"classMix"`
}

// FilterOptions are the distinct non-empty values per categorical field.
type FilterOptions struct {
	Regions         []string `json:"regions"`
	Provinces       []string `json:"provinces"`
	Cities          []string `json:"cities"`
	Barangays       []string `json:"barangays"`
	PropertyClasses []string `json:"propertyClasses"`
	PropertyTypes   []string `json:"propertyTypes"`
	DatasetVersions []string `json:"datasetVersions"`
}

// LocationChildren are the cities of a province and, when a city was given,
// its barangays.
type LocationChildren struct {
	Cities    []string `json:"cities"`
	Barangays []string `json:"barangays"`
}

// ExportMeta describes an export before its rows are written.
type ExportMeta struct {
	Truncated    bool  `json:"truncated"`
	RowLimit     int   `json:"rowLimit"`
	TotalMatches int64 `json:"totalMatches"`
}
