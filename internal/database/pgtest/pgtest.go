// Package pgtest opens PostgreSQL stores for integration tests. Each store
// lives in its own throwaway schema so packages can run concurrently against
// one database.
package pgtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/database"
)

// Config returns the connection settings for the test database, taken from
// the same DB_* variables the services read.
func Config() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:   config.DriverPostgres,
		Host:     getEnvOrDefault("DB_HOST", "host.docker.internal"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		Name:     getEnvOrDefault("DB_NAME", "zonal"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		PoolMin:  1,
		PoolMax:  4,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Open returns a store bound to a fresh schema holding an empty canonical
// table. The schema is dropped when the test ends. The test is skipped in
// short mode or when the database cannot be reached.
func Open(t testing.TB) *database.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := Config()

	admin, err := database.NewPostgresPool(ctx, cfg)
	if err != nil {
		t.Skipf("PostgreSQL not reachable: %v", err)
	}

	schema := "zonal_test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := admin.Exec(ctx, "CREATE SCHEMA "+pq.QuoteIdentifier(schema)); err != nil {
		admin.Close()
		t.Fatalf("Failed to create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if err := admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(schema)+" CASCADE"); err != nil {
			t.Errorf("Failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	cfg.Schema = schema
	db, err := database.NewPostgresPool(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect with schema %s: %v", schema, err)
	}
	t.Cleanup(db.Close)

	if err := database.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return db
}
