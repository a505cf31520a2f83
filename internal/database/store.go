package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/stwalsh4118/zonal/internal/config"
)

// ErrNoRows is returned by Row.Scan when the query matched nothing,
// regardless of the underlying driver.
var ErrNoRows = errors.New("no rows in result set")

// Rows is the subset of a driver result set the repositories need.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row is a single-row result.
type Row interface {
	Scan(dest ...any) error
}

// Store is the canonical record store. Both the PostgreSQL pool and the
// embedded SQLite database implement it; SQL text is rendered per Dialect.
type Store interface {
	Dialect() Dialect
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Exec(ctx context.Context, sql string, args ...any) error
	// CopyRows bulk-appends rows into table. Values must already be encoded
	// with the store's Dialect.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Open connects to the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresPool(ctx, cfg)
	case config.DriverSQLite:
		return NewSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
