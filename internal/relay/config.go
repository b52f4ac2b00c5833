package relay

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds relay configuration
type Config struct {
	// Relay identification
	RelayID   string
	RelayName string

	// Platform access
	PlatformURL   string
	PlatformToken string
	Deployments   []string

	// Stream settings
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ReconnectOnClose  bool
	SuperviseInterval time.Duration

	// Processing settings
	BatchSize      int
	BatchTimeout   time.Duration
	ArchiveTimeout time.Duration
	PublishTimeout time.Duration

	// Monitoring
	MetricsInterval time.Duration
	HealthCheckPort int
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	deployments := splitList(os.Getenv("RELAY_DEPLOYMENTS"))
	if len(deployments) == 0 {
		return nil, fmt.Errorf("RELAY_DEPLOYMENTS must name at least one deployment")
	}

	batchSize, err := strconv.Atoi(getEnvOrDefault("RELAY_BATCH_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_BATCH_SIZE: %w", err)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("invalid RELAY_BATCH_SIZE: must be positive")
	}

	batchTimeout, err := parseDuration(getEnvOrDefault("RELAY_BATCH_TIMEOUT", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_BATCH_TIMEOUT: %w", err)
	}

	archiveTimeout, err := parseDuration(getEnvOrDefault("RELAY_ARCHIVE_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_ARCHIVE_TIMEOUT: %w", err)
	}

	publishTimeout, err := parseDuration(getEnvOrDefault("RELAY_PUBLISH_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_PUBLISH_TIMEOUT: %w", err)
	}

	reconnectDelay, err := parseDuration(getEnvOrDefault("RELAY_RECONNECT_DELAY", "250ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_RECONNECT_DELAY: %w", err)
	}

	maxReconnectDelay, err := parseDuration(getEnvOrDefault("RELAY_MAX_RECONNECT_DELAY", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_MAX_RECONNECT_DELAY: %w", err)
	}

	reconnectOnClose, err := strconv.ParseBool(getEnvOrDefault("RELAY_RECONNECT_ON_CLOSE", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_RECONNECT_ON_CLOSE: %w", err)
	}

	superviseInterval, err := parseDuration(getEnvOrDefault("RELAY_SUPERVISE_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_SUPERVISE_INTERVAL: %w", err)
	}

	metricsInterval, err := parseDuration(getEnvOrDefault("RELAY_METRICS_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_METRICS_INTERVAL: %w", err)
	}

	healthCheckPort, err := strconv.Atoi(getEnvOrDefault("RELAY_HEALTH_PORT", "8081"))
	if err != nil {
		return nil, fmt.Errorf("invalid RELAY_HEALTH_PORT: %w", err)
	}

	relayID := getEnvOrDefault("RELAY_ID", generateRelayID())

	return &Config{
		RelayID:           relayID,
		RelayName:         getEnvOrDefault("RELAY_NAME", "pylon-relay-"+relayID),
		PlatformURL:       getEnvOrDefault("PYLON_API_URL", "https://api.pylon.bot"),
		PlatformToken:     os.Getenv("PYLON_TOKEN"),
		Deployments:       deployments,
		ReconnectDelay:    reconnectDelay,
		MaxReconnectDelay: maxReconnectDelay,
		ReconnectOnClose:  reconnectOnClose,
		SuperviseInterval: superviseInterval,
		BatchSize:         batchSize,
		BatchTimeout:      batchTimeout,
		ArchiveTimeout:    archiveTimeout,
		PublishTimeout:    publishTimeout,
		MetricsInterval:   metricsInterval,
		HealthCheckPort:   healthCheckPort,
	}, nil
}

func splitList(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func generateRelayID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}
