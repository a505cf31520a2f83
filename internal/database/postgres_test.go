package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stwalsh4118/zonal/internal/config"
)

// Test configuration for local PostgreSQL
func getTestConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:   config.DriverPostgres,
		Host:     getEnvOrDefault("DB_HOST", "host.docker.internal"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		Name:     getEnvOrDefault("DB_NAME", "zonal"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		PoolMin:  2,
		PoolMax:  5,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func TestNewPostgresPool_Success(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := getTestConfig()

	db, err := NewPostgresPool(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	defer db.Close()

	if db.Dialect() != Postgres {
		t.Error("Expected postgres dialect")
	}

	if db.Pool == nil {
		t.Error("Expected Pool to be initialized")
	}

	// Verify pool stats
	stats := db.Stats()
	if stats == nil {
		t.Error("Expected stats to be available")
	}
}

func TestNewPostgresPool_InvalidHost(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cfg := getTestConfig()
	cfg.Host = "invalid-host-that-does-not-exist"

	_, err := NewPostgresPool(ctx, cfg)
	if err == nil {
		t.Error("Expected error when connecting to invalid host")
	}
}

func TestPing_Success(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := getTestConfig()

	db, err := NewPostgresPool(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	defer db.Close()

	// Test ping
	err = db.Ping(ctx)
	if err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestPing_AfterClose(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := getTestConfig()

	db, err := NewPostgresPool(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}

	// Close the pool
	db.Close()

	// Ping should fail after close
	err = db.Ping(ctx)
	if err == nil {
		t.Error("Expected ping to fail after pool is closed")
	}
}

func TestPostgres_SchemaAndCopyRows(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := NewPostgresPool(ctx, getTestConfig())
	if err != nil {
		t.Skipf("Postgres unavailable: %v", err)
	}
	defer db.Close()

	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	value := decimal.NewNullDecimal(decimal.RequireFromString("1500.00"))
	n, err := db.CopyRows(ctx, ZonalValuesTable,
		[]string{"province", "zonal_value", "source_file", "source_sheet", "source_row", "dataset_version"},
		[][]any{{"Cebu", Postgres.NumericArg(value), "test.xlsx", "Sheet1", 2, "pg-integration"}},
	)
	if err != nil {
		t.Fatalf("CopyRows failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 copied row, got %d", n)
	}
	defer func() {
		_ = db.Exec(ctx, "DELETE FROM zonal_values WHERE dataset_version = $1", "pg-integration")
	}()

	var text string
	err = db.QueryRow(ctx, "SELECT "+Postgres.TextCast("zonal_value")+
		" FROM zonal_values WHERE dataset_version = $1", "pg-integration").Scan(&text)
	if err != nil {
		t.Fatalf("QueryRow failed: %v", err)
	}
	if text != "1500.00" {
		t.Errorf("Expected 1500.00, got %s", text)
	}

	var id int64
	err = db.QueryRow(ctx, "SELECT id FROM zonal_values WHERE id = $1", int64(-1)).Scan(&id)
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
}
