// Package transfer copies canonical records between stores, typically from
// an embedded SQLite file into PostgreSQL, preserving record ids.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/stwalsh4118/zonal/internal/database"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/models"
	"github.com/stwalsh4118/zonal/internal/query"
	"github.com/stwalsh4118/zonal/internal/repository"
)

// DefaultBatchSize is the number of records read and appended per round.
const DefaultBatchSize = 5000

// ErrTargetNotEmpty is returned when the target already holds records and
// Reset was not requested; copying would collide with existing ids.
var ErrTargetNotEmpty = errors.New("target store already contains zonal values")

// Options controls a copy.
type Options struct {
	// Reset drops and recreates the target table before copying.
	Reset     bool
	BatchSize int
}

// Result reports what a copy did.
type Result struct {
	Copied  int64 `json:"copied"`
	Batches int   `json:"batches"`
	LastID  int64 `json:"last_id"`
}

// Copy reads every record from src in id order and appends it to dst with
// its original id and created_at. The dst id sequence is moved past the
// highest copied id afterwards.
func Copy(ctx context.Context, src, dst database.Store, opts Options, log *logger.Logger) (*Result, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}

	if err := database.EnsureSchema(ctx, src); err != nil {
		return nil, fmt.Errorf("failed to prepare source: %w", err)
	}
	if opts.Reset {
		log.Warn("Resetting target table", map[string]interface{}{
			"dialect": dst.Dialect().Name(),
		})
		if err := database.ResetSchema(ctx, dst); err != nil {
			return nil, fmt.Errorf("failed to reset target: %w", err)
		}
	} else if err := database.EnsureSchema(ctx, dst); err != nil {
		return nil, fmt.Errorf("failed to prepare target: %w", err)
	}

	var existing int64
	if err := dst.QueryRow(ctx, "SELECT COUNT(*) FROM "+database.ZonalValuesTable).Scan(&existing); err != nil {
		return nil, fmt.Errorf("failed to count target rows: %w", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w (%d rows); rerun with reset", ErrTargetNotEmpty, existing)
	}

	columns := append([]string{"id"}, models.ZonalValue{}.Columns()...)
	columns = append(columns, "created_at")

	res := &Result{}
	for {
		batch, err := readBatch(ctx, src, res.LastID, opts.BatchSize)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			break
		}

		rows := make([][]any, len(batch))
		for i := range batch {
			rows[i] = encode(dst.Dialect(), &batch[i])
		}
		n, err := dst.CopyRows(ctx, database.ZonalValuesTable, columns, rows)
		if err != nil {
			return res, fmt.Errorf("failed to append batch after id %d: %w", res.LastID, err)
		}

		res.Copied += n
		res.Batches++
		res.LastID = batch[len(batch)-1].ID
		log.Debug("Batch copied", map[string]interface{}{
			"rows":    n,
			"last_id": res.LastID,
		})
	}

	if err := database.SyncSequence(ctx, dst); err != nil {
		return res, err
	}

	log.Info("Copy finished", map[string]interface{}{
		"copied":  res.Copied,
		"batches": res.Batches,
		"last_id": res.LastID,
	})
	return res, nil
}

// readBatch pages by id so a batch never repeats or skips records.
func readBatch(ctx context.Context, src database.Store, afterID int64, limit int) ([]models.ZonalValue, error) {
	d := src.Dialect()
	sql := fmt.Sprintf("SELECT %s FROM %s z WHERE z.id > %s ORDER BY z.id ASC LIMIT %s",
		query.SelectColumns(d, "z"), database.ZonalValuesTable, d.Placeholder(1), d.Placeholder(2))

	rows, err := src.Query(ctx, sql, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read source after id %d: %w", afterID, err)
	}
	defer rows.Close()

	var batch []models.ZonalValue
	for rows.Next() {
		z, err := repository.ScanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode source row: %w", err)
		}
		batch = append(batch, z)
	}
	return batch, rows.Err()
}

func encode(d database.Dialect, z *models.ZonalValue) []any {
	row := make([]any, 0, len(models.ZonalValue{}.Columns())+2)
	row = append(row, z.ID)
	row = append(row, repository.EncodeRecord(d, z)...)
	return append(row, d.TimestampArg(z.CreatedAt))
}
