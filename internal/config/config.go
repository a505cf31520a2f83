package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Query    QueryConfig
	Ingest   IngestConfig
	Cache    CacheConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// DatabaseConfig holds the canonical store connection configuration.
// Driver selects between PostgreSQL and the embedded SQLite store. Schema,
// when set, is searched before public on PostgreSQL.
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       string
	Name       string
	User       string
	Password   string
	Schema     string
	SQLitePath string
	PoolMin    int
	PoolMax    int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// QueryConfig bounds the read-side operations.
type QueryConfig struct {
	DefaultPageSize    int
	MaxPageSize        int
	ExportRowLimit     int
	FilterOptionsLimit int
}

// IngestConfig holds batch ingestion settings.
type IngestConfig struct {
	AliasFile       string
	DefaultRegion   string
	DefaultProvince string
	Workers         int
	BatchSize       int
}

// CacheConfig holds the optional Redis cache settings. An empty URL disables caching.
type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present; real
// environment variables always win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "zonal")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("SQLITE_PATH", "./zonal.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("DEFAULT_PAGE_SIZE", 25)
	v.SetDefault("MAX_PAGE_SIZE", 200)
	v.SetDefault("EXPORT_ROW_LIMIT", 50000)
	v.SetDefault("FILTER_OPTIONS_LIMIT", 500)
	v.SetDefault("INGEST_WORKERS", 4)
	v.SetDefault("INGEST_BATCH_SIZE", 1000)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("PORT"),
			Env:      v.GetString("ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
			Host:       v.GetString("DB_HOST"),
			Port:       v.GetString("DB_PORT"),
			Name:       v.GetString("DB_NAME"),
			User:       v.GetString("DB_USER"),
			Password:   v.GetString("DB_PASSWORD"),
			Schema:     strings.TrimSpace(v.GetString("DB_SCHEMA")),
			SQLitePath: v.GetString("SQLITE_PATH"),
			PoolMin:    v.GetInt("DB_POOL_MIN"),
			PoolMax:    v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Query: QueryConfig{
			DefaultPageSize:    v.GetInt("DEFAULT_PAGE_SIZE"),
			MaxPageSize:        v.GetInt("MAX_PAGE_SIZE"),
			ExportRowLimit:     v.GetInt("EXPORT_ROW_LIMIT"),
			FilterOptionsLimit: v.GetInt("FILTER_OPTIONS_LIMIT"),
		},
		Ingest: IngestConfig{
			AliasFile:       v.GetString("ALIAS_FILE"),
			DefaultRegion:   v.GetString("DEFAULT_REGION"),
			DefaultProvince: v.GetString("DEFAULT_PROVINCE"),
			Workers:         v.GetInt("INGEST_WORKERS"),
			BatchSize:       v.GetInt("INGEST_BATCH_SIZE"),
		},
		Cache: CacheConfig{
			RedisURL: v.GetString("REDIS_URL"),
			TTL:      v.GetDuration("CACHE_TTL"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if err := c.Database.validate(); err != nil {
		return err
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if c.Query.DefaultPageSize < 1 {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be at least 1")
	}
	if c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return fmt.Errorf("MAX_PAGE_SIZE must be greater than or equal to DEFAULT_PAGE_SIZE")
	}
	if c.Query.ExportRowLimit < 1 {
		return fmt.Errorf("EXPORT_ROW_LIMIT must be at least 1")
	}
	if c.Query.FilterOptionsLimit < 1 {
		return fmt.Errorf("FILTER_OPTIONS_LIMIT must be at least 1")
	}

	if c.Ingest.Workers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be at least 1")
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be at least 1")
	}

	if c.Cache.RedisURL != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive when REDIS_URL is set")
	}

	return nil
}

func (d DatabaseConfig) validate() error {
	switch d.Driver {
	case DriverSQLite:
		if d.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
		return nil
	case DriverPostgres:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, d.Driver)
	}

	if d.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if d.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if d.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if d.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if d.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if d.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if d.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if d.PoolMin > d.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}
	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
