package export

import (
	"encoding/csv"
	"io"

	"github.com/stwalsh4118/zonal/internal/models"
)

type csvWriter struct {
	w *csv.Writer
}

func newCSVWriter(w io.Writer) (*csvWriter, error) {
	cw := &csvWriter{w: csv.NewWriter(w)}
	if err := cw.w.Write(Header); err != nil {
		return nil, err
	}
	return cw, nil
}

func (c *csvWriter) Write(z *models.ZonalValue) error {
	return c.w.Write(Row(z))
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	return c.w.Error()
}
