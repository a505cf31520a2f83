package ingestion

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var (
	dateLike     = regexp.MustCompile(`\d+[/-]\d+[/-]\d+`)
	notNumeric   = regexp.MustCompile(`[^\d.\-]`)
	excelSerialR = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// dateLayouts are tried in order for effectivity dates.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"01/02/06",
	"1/2/06",
	"01-02-06",
	"January 2, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"2-Jan-06",
	"January 2006",
}

// ParseValue parses a money-like cell leniently. Currency symbols, group
// separators and unit suffixes are stripped; date-looking text is rejected.
func ParseValue(text string) (decimal.Decimal, bool) {
	text = strings.TrimSpace(text)
	if text == "" || dateLike.MatchString(text) {
		return decimal.Decimal{}, false
	}
	cleaned := notNumeric.ReplaceAllString(text, "")
	if cleaned == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParsePositiveValue is ParseValue restricted to values above zero.
func ParsePositiveValue(text string) (decimal.Decimal, bool) {
	d, ok := ParseValue(text)
	if !ok || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParseDate parses common date spellings and Excel serial numbers.
// Anything unparseable yields nil.
func ParseDate(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if excelSerialR.MatchString(text) {
		serial, err := strconv.ParseFloat(text, 64)
		if err != nil || serial < 10000 || serial > 2958465 {
			return nil
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return nil
		}
		return dateOnly(t)
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return dateOnly(t)
		}
	}
	return nil
}

func dateOnly(t time.Time) *time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// textOrNil returns nil for empty text.
func textOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// firstNonEmpty returns the first non-empty argument as a pointer.
func firstNonEmpty(values ...string) *string {
	for _, v := range values {
		if p := textOrNil(v); p != nil {
			return p
		}
	}
	return nil
}
