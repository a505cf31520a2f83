package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/zonal/internal/aliases"
	"github.com/stwalsh4118/zonal/internal/cache"
	"github.com/stwalsh4118/zonal/internal/config"
	"github.com/stwalsh4118/zonal/internal/database"
	apierrors "github.com/stwalsh4118/zonal/internal/errors"
	"github.com/stwalsh4118/zonal/internal/handlers"
	"github.com/stwalsh4118/zonal/internal/indexes"
	"github.com/stwalsh4118/zonal/internal/ingestion"
	"github.com/stwalsh4118/zonal/internal/logger"
	"github.com/stwalsh4118/zonal/internal/middleware"
	"github.com/stwalsh4118/zonal/internal/observability"
	"github.com/stwalsh4118/zonal/internal/repository"
	"github.com/stwalsh4118/zonal/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
	// Uploads above this size spill to temporary files.
	maxMultipartMemory = 32 << 20
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.NewWithOptions(logger.Options{Env: cfg.Server.Env, Level: cfg.Server.LogLevel})
	log.Info("Starting Zonal API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"driver":      cfg.Database.Driver,
	})

	// Open the canonical store and make sure the schema exists
	ctx := context.Background()
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"driver": cfg.Database.Driver,
			"host":   cfg.Database.Host,
			"name":   cfg.Database.Name,
		})
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatal("Failed to ensure schema", err, nil)
	}

	caps, err := indexes.Ensure(ctx, db, log)
	if err != nil {
		log.Fatal("Failed to ensure indexes", err, nil)
	}

	log.Info("Database ready", map[string]interface{}{
		"dialect":     db.Dialect().Name(),
		"search_mode": caps.SearchMode().String(),
	})

	// Optional read-through cache
	queryCache := cache.Noop()
	if cfg.Cache.RedisURL != "" {
		queryCache, err = cache.NewRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			log.Fatal("Failed to connect to cache", err, nil)
		}
		log.Info("Redis cache enabled", map[string]interface{}{
			"ttl": cfg.Cache.TTL.String(),
		})
	}
	defer queryCache.Close()

	resolver, err := aliases.LoadFile(cfg.Ingest.AliasFile)
	if err != nil {
		log.Fatal("Failed to load header aliases", err, map[string]interface{}{
			"alias_file": cfg.Ingest.AliasFile,
		})
	}

	// Initialize repository and service layers
	zonalRepo := repository.NewZonalRepository(db, caps.SearchMode())
	zonalService := services.NewZonalService(zonalRepo, queryCache, cfg.Query, log)
	engine := ingestion.NewEngine(zonalRepo, resolver, log, ingestion.EngineConfig{
		Workers:   cfg.Ingest.Workers,
		BatchSize: cfg.Ingest.BatchSize,
	})
	importService := services.NewImportService(engine, queryCache, cfg.Ingest, log)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, cfg.Server.Env, db.Dialect().Name(), caps.SearchMode())
	zonalHandler := handlers.NewZonalHandler(zonalService)
	importHandler := handlers.NewImportHandler(importService)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	apierrors.UseFormFieldNames()
	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS -> Metrics
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log, "/health", "/health/ready", "/metrics"))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))
	router.Use(middleware.Metrics())

	// Register health check routes
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	if cfg.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(observability.Handler()))
	}

	// Register API v1 routes
	v1 := router.Group("/api/v1")
	{
		zonal := v1.Group("/zonal-values")
		{
			zonal.GET("", zonalHandler.List)
			zonal.GET("/summary", zonalHandler.Summary)
			zonal.GET("/export", zonalHandler.Export)
			zonal.GET("/filters", zonalHandler.Filters)
			zonal.GET("/location-children", zonalHandler.LocationChildren)
			zonal.GET("/scope-check", zonalHandler.ScopeCheck)
			zonal.GET("/:id", zonalHandler.Get)
		}
		v1.POST("/imports", importHandler.Import)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
