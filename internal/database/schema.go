package database

import (
	"context"
	"fmt"
)

// ZonalValuesTable is the canonical record table.
const ZonalValuesTable = "zonal_values"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS zonal_values (
	id                 BIGSERIAL PRIMARY KEY,
	rdo_code           TEXT,
	region             TEXT,
	province           TEXT,
	city_municipality  TEXT,
	barangay           TEXT,
	street_subdivision TEXT,
	property_class     TEXT,
	property_type      TEXT,
	zonal_value        NUMERIC(18, 2) CHECK (zonal_value IS NULL OR zonal_value > 0),
	unit               TEXT,
	effectivity_date   DATE,
	remarks            TEXT,
	source_file        TEXT NOT NULL CHECK (source_file <> ''),
	source_sheet       TEXT NOT NULL,
	source_row         INTEGER NOT NULL,
	dataset_version    TEXT NOT NULL CHECK (dataset_version <> ''),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS zonal_values (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	rdo_code           TEXT,
	region             TEXT,
	province           TEXT,
	city_municipality  TEXT,
	barangay           TEXT,
	street_subdivision TEXT,
	property_class     TEXT,
	property_type      TEXT,
	zonal_value        NUMERIC CHECK (zonal_value IS NULL OR zonal_value > 0),
	unit               TEXT,
	effectivity_date   TEXT,
	remarks            TEXT,
	source_file        TEXT NOT NULL CHECK (source_file <> ''),
	source_sheet       TEXT NOT NULL,
	source_row         INTEGER NOT NULL,
	dataset_version    TEXT NOT NULL CHECK (dataset_version <> ''),
	created_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// EnsureSchema creates the canonical table when it does not exist yet.
func EnsureSchema(ctx context.Context, store Store) error {
	ddl := sqliteSchema
	if store.Dialect() == Postgres {
		ddl = postgresSchema
	}
	if err := store.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", ZonalValuesTable, err)
	}
	return nil
}

// ResetSchema drops every stored record and recreates an empty table.
// This is the only deletion path for canonical records.
func ResetSchema(ctx context.Context, store Store) error {
	if err := store.Exec(ctx, "DROP TABLE IF EXISTS "+ZonalValuesTable); err != nil {
		return fmt.Errorf("drop %s: %w", ZonalValuesTable, err)
	}
	return EnsureSchema(ctx, store)
}

// SyncSequence moves the Postgres id sequence past the highest stored id so
// appends after an id-preserving copy do not collide. No-op for SQLite.
func SyncSequence(ctx context.Context, store Store) error {
	if store.Dialect() != Postgres {
		return nil
	}
	err := store.Exec(ctx, `SELECT setval(pg_get_serial_sequence('zonal_values', 'id'),
		COALESCE((SELECT MAX(id) FROM zonal_values), 0) + 1, false)`)
	if err != nil {
		return fmt.Errorf("sync id sequence: %w", err)
	}
	return nil
}
