package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied to every pooled connection through the DSN.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"

// SQLiteDatabase implements Store on an embedded SQLite file.
type SQLiteDatabase struct {
	DB *sql.DB
}

var _ Store = (*SQLiteDatabase)(nil)

// NewSQLite opens (creating if needed) the SQLite database at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteDatabase, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteDatabase{DB: db}, nil
}

// Dialect returns the SQLite SQL dialect.
func (s *SQLiteDatabase) Dialect() Dialect {
	return SQLite
}

// Query runs a statement returning rows.
func (s *SQLiteDatabase) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows: rows}, nil
}

// QueryRow runs a statement expected to return at most one row.
func (s *SQLiteDatabase) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{row: s.DB.QueryRowContext(ctx, query, args...)}
}

// Exec runs a statement that returns no rows.
func (s *SQLiteDatabase) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.DB.ExecContext(ctx, query, args...)
	return err
}

// CopyRows appends rows inside one transaction using a prepared INSERT.
func (s *SQLiteDatabase) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = SQLite.Placeholder(i + 1)
	}
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert into %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	var n int64
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert into %s: %w", table, err)
	}
	return n, nil
}

// Ping checks if the database is reachable.
func (s *SQLiteDatabase) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close releases the database handle. Safe to call more than once.
func (s *SQLiteDatabase) Close() {
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return r.rows.Err() }
func (r sqlRows) Close()                 { _ = r.rows.Close() }

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}
