package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/birbparty/pylonkit/internal/api"
	"github.com/birbparty/pylonkit/internal/cache"
	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/snapshot"
	"github.com/birbparty/pylonkit/internal/storage"
	"github.com/birbparty/pylonkit/internal/telemetry"
	"github.com/birbparty/pylonkit/sdk"
)

func main() {
	if err := telemetry.Init(telemetry.NewConfigFromEnv("gateway")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	log := telemetry.Component("main")

	// Load API configuration
	cfg, err := api.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	log.WithField("service", cfg.ServiceName).Info("Pylonkit gateway starting...")

	ctx := context.Background()

	// Platform client
	platformConfig := sdk.DefaultConfig().
		WithBaseURL(getEnvOrDefault("PYLON_API_URL", "https://api.pylon.bot")).
		WithToken(os.Getenv("PYLON_TOKEN")).
		WithTimeout(time.Duration(cfg.RequestTimeout) * time.Second).
		WithObserver(telemetry.NewPrometheusObserver()).
		WithLogger(telemetry.Component("sdk"))
	client, err := sdk.NewClient(platformConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to create platform client")
	}
	defer client.Close()

	opts := []api.HandlerOption{}

	// Initialize Redis cache
	cacheConfig, err := cache.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load cache config")
	}
	redisCache, err := cache.NewRedisCache(cacheConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()
	log.Info("Connected to Redis")

	opts = append(opts,
		api.WithCache(redisCache),
		api.WithStatus(cache.NewStatusStore(redisCache.Client())),
		api.WithHealthCheck("redis", redisCache.Ping),
	)

	// Initialize database
	dbConfig, err := database.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load database configuration")
	}
	store, err := database.Open(ctx, dbConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}
	defer store.Close()
	telemetry.RegisterArchivePool(func() (int32, int32, int32) {
		s := store.Stats()
		return s.InUse, s.Idle, s.Max
	})
	log.Info("Connected to PostgreSQL")

	opts = append(opts,
		api.WithArchive(store.Console),
		api.WithHealthCheck("postgres", store.Health),
	)

	// Snapshots need object storage
	storageConfig := storage.NewConfigFromEnv()
	if storageConfig.AccessKey != "" && storageConfig.SecretKey != "" {
		objects, err := storage.NewS3Client(storageConfig)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize object storage; snapshots disabled")
		} else {
			service := snapshot.NewService(objects, store.Snapshots)
			queue := api.NewSnapshotQueue(service, cfg.SnapshotQueueSize, cfg.SnapshotWorkers)
			opts = append(opts, api.WithSnapshots(service, queue))
			log.WithField("bucket", storageConfig.Bucket).Info("Snapshots enabled")
		}
	} else {
		log.Warn("Object storage credentials not configured; snapshots disabled")
	}

	handler := api.NewHandler(cfg, client, opts...)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		ReadTimeout:           time.Duration(cfg.RequestTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.RequestTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})

	api.SetupMiddleware(app)
	api.SetupRoutes(app, handler, cfg)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Error("Server forced to shutdown")
		}

		// Let queued snapshots finish
		handler.Shutdown()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", cfg.Addr()).Info("Pylonkit gateway listening")
	if err := app.Listen(cfg.Addr()); err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
