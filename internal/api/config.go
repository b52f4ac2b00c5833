package api

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the gateway configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	ServiceName string

	// API configuration
	APIKey          string
	RequestTimeout  int
	ShutdownTimeout int
	RateLimit       int

	// Namespace listings are cached in Redis for this long
	NamespaceCacheTTL time.Duration

	// Console paging
	ConsoleDefaultLimit int
	ConsoleMaxLimit     int

	// Async snapshot jobs
	SnapshotQueueSize int
	SnapshotWorkers   int

	MetricsPath string

	// Deployments restricts the gateway to these deployment IDs when set
	Deployments []string
}

// NewConfigFromEnv loads configuration from environment variables
func NewConfigFromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	requestTimeout, err := strconv.Atoi(getEnvOrDefault("REQUEST_TIMEOUT", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := strconv.Atoi(getEnvOrDefault("SHUTDOWN_TIMEOUT", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	rateLimit, err := strconv.Atoi(getEnvOrDefault("RATE_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT: %w", err)
	}

	cacheTTL, err := time.ParseDuration(getEnvOrDefault("NAMESPACE_CACHE_TTL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid NAMESPACE_CACHE_TTL: %w", err)
	}

	consoleDefault, err := strconv.Atoi(getEnvOrDefault("CONSOLE_DEFAULT_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONSOLE_DEFAULT_LIMIT: %w", err)
	}

	consoleMax, err := strconv.Atoi(getEnvOrDefault("CONSOLE_MAX_LIMIT", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid CONSOLE_MAX_LIMIT: %w", err)
	}

	queueSize, err := strconv.Atoi(getEnvOrDefault("SNAPSHOT_QUEUE_SIZE", "64"))
	if err != nil {
		return nil, fmt.Errorf("invalid SNAPSHOT_QUEUE_SIZE: %w", err)
	}

	workers, err := strconv.Atoi(getEnvOrDefault("SNAPSHOT_WORKERS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid SNAPSHOT_WORKERS: %w", err)
	}

	return &Config{
		Host:                getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                port,
		ServiceName:         getEnvOrDefault("SERVICE_NAME", "pylonkit-api"),
		APIKey:              os.Getenv("API_KEY"),
		RequestTimeout:      requestTimeout,
		ShutdownTimeout:     shutdownTimeout,
		RateLimit:           rateLimit,
		NamespaceCacheTTL:   cacheTTL,
		ConsoleDefaultLimit: consoleDefault,
		ConsoleMaxLimit:     consoleMax,
		SnapshotQueueSize:   queueSize,
		SnapshotWorkers:     workers,
		MetricsPath:         getEnvOrDefault("METRICS_PATH", "/metrics"),
		Deployments:         splitList(os.Getenv("ALLOWED_DEPLOYMENTS")),
	}, nil
}

// DefaultConfig returns the configuration used when no environment is set
func DefaultConfig() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                8080,
		ServiceName:         "pylonkit-api",
		RequestTimeout:      30,
		ShutdownTimeout:     30,
		RateLimit:           100,
		NamespaceCacheTTL:   30 * time.Second,
		ConsoleDefaultLimit: 100,
		ConsoleMaxLimit:     1000,
		SnapshotQueueSize:   64,
		SnapshotWorkers:     2,
		MetricsPath:         "/metrics",
	}
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
