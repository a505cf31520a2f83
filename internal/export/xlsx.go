package export

import (
	"fmt"
	"io"

	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Zonal Values"

// xlsxWriter streams rows into a single sheet; the workbook is written to
// the destination on Close.
type xlsxWriter struct {
	dst    io.Writer
	file   *excelize.File
	stream *excelize.StreamWriter
	row    int
}

func newXLSXWriter(w io.Writer) (*xlsxWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open stream writer: %w", err)
	}

	x := &xlsxWriter{dst: w, file: f, stream: sw}
	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := x.setRow(header); err != nil {
		f.Close()
		return nil, err
	}
	return x, nil
}

func (x *xlsxWriter) Write(z *models.ZonalValue) error {
	cells := make([]interface{}, 0, len(Header))
	for i, v := range Row(z) {
		switch {
		case i == 0:
			cells = append(cells, z.ID)
		case i == 9 && z.Value.Valid:
			f, _ := z.Value.Decimal.Float64()
			cells = append(cells, f)
		case i == 15:
			cells = append(cells, z.SourceRow)
		default:
			cells = append(cells, v)
		}
	}
	return x.setRow(cells)
}

func (x *xlsxWriter) setRow(cells []interface{}) error {
	x.row++
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	if err := x.stream.SetRow(cell, cells); err != nil {
		return fmt.Errorf("failed to write row %d: %w", x.row, err)
	}
	return nil
}

func (x *xlsxWriter) Close() error {
	defer x.file.Close()

	if err := x.stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if _, err := x.file.WriteTo(x.dst); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
