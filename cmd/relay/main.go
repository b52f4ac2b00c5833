package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/birbparty/pylonkit/internal/cache"
	"github.com/birbparty/pylonkit/internal/cleanup"
	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/queue"
	"github.com/birbparty/pylonkit/internal/relay"
	"github.com/birbparty/pylonkit/internal/storage"
	"github.com/birbparty/pylonkit/internal/telemetry"
	"github.com/birbparty/pylonkit/sdk"
)

func main() {
	if err := telemetry.Init(telemetry.NewConfigFromEnv("relay")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	log := telemetry.Component("main")
	log.Info("Pylonkit relay starting...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize configurations
	relayConfig, err := relay.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load relay config")
	}

	dbConfig, err := database.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load database config")
	}

	cacheConfig, err := cache.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load cache config")
	}

	queueConfig, err := queue.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load queue config")
	}

	// Initialize database
	store, err := database.Open(ctx, dbConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer store.Close()
	log.Info("Connected to PostgreSQL")
	telemetry.RegisterArchivePool(archivePoolStats(store))

	// Initialize Redis
	redisCache, err := cache.NewRedisCache(cacheConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()
	log.Info("Connected to Redis")

	// Initialize NATS queue
	queueClient, err := queue.NewClient(queueConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer queueClient.Close()
	log.Info("Connected to NATS JetStream")

	// Platform client
	platformConfig := sdk.DefaultConfig().
		WithBaseURL(relayConfig.PlatformURL).
		WithToken(relayConfig.PlatformToken).
		WithObserver(telemetry.NewPrometheusObserver()).
		WithLogger(telemetry.Component("sdk"))
	client, err := sdk.NewClient(platformConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to create platform client")
	}
	defer client.Close()

	// Initialize metrics
	metrics := relay.NewMetrics()
	status := cache.NewStatusStore(redisCache.Client())
	dlq := queue.NewDLQHandler(queueClient)
	archiver := relay.NewArchiver(store.Console, dlq, status, metrics)

	r := relay.New(relayConfig, client, archiver, metrics,
		relay.WithPublisher(queueClient),
		relay.WithStatus(status),
		relay.WithDLQ(dlq),
	)

	// Initialize storage client for retention export (optional)
	var objects storage.ObjectStore
	storageConfig := storage.NewConfigFromEnv()
	if storageConfig.AccessKey != "" && storageConfig.SecretKey != "" {
		s3Client, err := storage.NewS3Client(storageConfig)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize object storage; retention export disabled")
		} else {
			objects = s3Client
			log.Info("Connected to object storage for retention export")
		}
	} else {
		log.Warn("Object storage credentials not configured; retention export disabled")
	}

	cleanupService := cleanup.NewCleanupService(store.Console, objects, queueClient, cleanup.LoadCleanupConfig())

	// Start health check server
	go startHealthServer(relayConfig.HealthCheckPort, metrics, r, store)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start relaying in background
	relayDone := make(chan error, 1)
	go func() {
		relayDone <- r.Start(ctx)
	}()

	// Start retention in background
	go func() {
		log.Info("Starting retention sweeper...")
		cleanupService.Start(ctx)
	}()

	// Wait for shutdown signal or relay error
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down gracefully...")
		cancel()

		// Wait for relay to finish with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		select {
		case <-relayDone:
			log.Info("Relay shutdown complete")
		case <-shutdownCtx.Done():
			log.Warn("Relay shutdown timeout")
		}
		_ = telemetry.Shutdown(shutdownCtx)

	case err := <-relayDone:
		if err != nil {
			log.WithError(err).Fatal("Relay error")
		}
	}
}

func startHealthServer(port int, metrics *relay.Metrics, r *relay.Relay, store *database.Store) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := "healthy"
		if !metrics.IsHealthy() {
			status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		streams := make(map[string]string)
		for id, state := range r.Streams() {
			streams[id] = state.String()
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  status,
			"service": "pylonkit-relay",
			"streams": streams,
		})
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"relay":   metrics.GetStats(),
			"archive": store.Stats(),
		})
	})

	mux.Handle("/metrics", telemetry.PrometheusHandler())

	log := telemetry.Component("health")
	log.WithField("port", port).Info("Health check server listening")
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		log.WithError(err).Error("Health server error")
	}
}

func archivePoolStats(store *database.Store) telemetry.ArchivePoolStats {
	return func() (int32, int32, int32) {
		s := store.Stats()
		return s.InUse, s.Idle, s.Max
	}
}
