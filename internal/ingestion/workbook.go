package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for files the engine cannot read.
var ErrUnsupportedFormat = errors.New("unsupported workbook format")

// Sheet is one worksheet as trimmed text cells. Rows keep their original
// positions, so Rows[i] is sheet row i+1; blank rows are empty slices.
type Sheet struct {
	File string
	Name string
	Rows [][]string
}

// Workbook is a parsed input file.
type Workbook struct {
	Path   string
	File   string
	Sheets []Sheet
}

// SupportedExtensions lists the lowercase file extensions the engine reads.
var SupportedExtensions = []string{".xlsx", ".xlsm", ".xls", ".csv"}

// IsSupported reports whether path has a readable extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ReadWorkbook loads every sheet of the file at path.
func ReadWorkbook(path string) (*Workbook, error) {
	var (
		sheets []Sheet
		err    error
	)

	file := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		sheets, err = readXLSX(path, file)
	case ".xls":
		sheets, err = readXLS(path, file)
	case ".csv":
		sheets, err = readCSV(path, file)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	return &Workbook{Path: path, File: file, Sheets: sheets}, nil
}

func readXLSX(path, file string) ([]Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		sheets = append(sheets, Sheet{File: file, Name: name, Rows: cleanRows(rows)})
	}
	return sheets, nil
}

func readXLS(path, file string) (sheets []Sheet, err error) {
	// The legacy BIFF reader panics on some truncated files.
	defer func() {
		if r := recover(); r != nil {
			sheets = nil
			err = fmt.Errorf("read xls workbook: %v", r)
		}
	}()

	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}

		rows := make([][]string, 0, int(ws.MaxRow)+1)
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, 0, row.LastCol())
			for c := 0; c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, Sheet{File: file, Name: ws.Name, Rows: cleanRows(rows)})
	}
	return sheets, nil
}

func readCSV(path, file string) ([]Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}

	name := strings.TrimSuffix(file, filepath.Ext(file))
	return []Sheet{{File: file, Name: name, Rows: cleanRows(rows)}}, nil
}

func cleanRows(rows [][]string) [][]string {
	for i, row := range rows {
		for j, cell := range row {
			row[j] = cleanCell(cell)
		}
		rows[i] = trimTrailingEmpty(row)
	}
	return rows
}

func cleanCell(cell string) string {
	cell = strings.ReplaceAll(cell, "\u00a0", " ")
	return strings.TrimSpace(cell)
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && row[end-1] == "" {
		end--
	}
	return row[:end]
}

func isBlank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
