package queue

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds queue configuration
type Config struct {
	// NATS connection settings
	URL      string
	Name     string
	User     string
	Password string

	// JetStream settings
	StreamName            string
	StreamMaxAge          time.Duration
	StreamMaxBytes        int64
	StreamMaxMsgs         int64
	StreamMaxMsgSize      int32
	StreamReplicas        int
	StreamRetentionPolicy string

	// Consumer settings
	ConsumerName          string
	ConsumerMaxDeliver    int
	ConsumerAckWait       time.Duration
	ConsumerMaxAckPending int

	// Retention notifications are published on core NATS
	RetentionSubject string

	// DLQ settings
	DLQStreamName    string
	DLQMaxRetries    int
	DLQRetryInterval time.Duration

	// DLQ fetch settings
	BatchSize    int
	BatchTimeout time.Duration
}

// DefaultConfig returns settings for a local single-node JetStream
func DefaultConfig(url string) *Config {
	return &Config{
		URL:                   url,
		Name:                  "pylonkit",
		StreamName:            "PYLON_CONSOLE",
		StreamMaxAge:          24 * time.Hour,
		StreamMaxBytes:        1 << 30,
		StreamMaxMsgs:         1000000,
		StreamMaxMsgSize:      1 << 20,
		StreamReplicas:        1,
		StreamRetentionPolicy: "limits",
		ConsumerName:          "pylon-relay",
		ConsumerMaxDeliver:    3,
		ConsumerAckWait:       30 * time.Second,
		ConsumerMaxAckPending: 1000,
		DLQStreamName:         "PYLON_DLQ",
		DLQMaxRetries:         5,
		DLQRetryInterval:      time.Minute,
		RetentionSubject:      SubjectRetention,
		BatchSize:             10,
		BatchTimeout:          5 * time.Second,
	}
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() (*Config, error) {
	streamMaxBytes, err := strconv.ParseInt(getEnvOrDefault("NATS_STREAM_MAX_BYTES", "1073741824"), 10, 64) // 1GB default
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_STREAM_MAX_BYTES: %w", err)
	}

	streamMaxMsgs, err := strconv.ParseInt(getEnvOrDefault("NATS_STREAM_MAX_MSGS", "1000000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_STREAM_MAX_MSGS: %w", err)
	}

	streamMaxMsgSize, err := strconv.ParseInt(getEnvOrDefault("NATS_STREAM_MAX_MSG_SIZE", "1048576"), 10, 32) // 1MB default
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_STREAM_MAX_MSG_SIZE: %w", err)
	}

	streamReplicas, err := strconv.Atoi(getEnvOrDefault("NATS_STREAM_REPLICAS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_STREAM_REPLICAS: %w", err)
	}

	consumerMaxDeliver, err := strconv.Atoi(getEnvOrDefault("NATS_CONSUMER_MAX_DELIVER", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_CONSUMER_MAX_DELIVER: %w", err)
	}

	consumerMaxAckPending, err := strconv.Atoi(getEnvOrDefault("NATS_CONSUMER_MAX_ACK_PENDING", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid NATS_CONSUMER_MAX_ACK_PENDING: %w", err)
	}

	dlqMaxRetries, err := strconv.Atoi(getEnvOrDefault("DLQ_MAX_RETRIES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DLQ_MAX_RETRIES: %w", err)
	}

	batchSize, err := strconv.Atoi(getEnvOrDefault("DLQ_FETCH_SIZE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid DLQ_FETCH_SIZE: %w", err)
	}

	batchTimeout, err := parseDuration(getEnvOrDefault("DLQ_FETCH_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid DLQ_FETCH_TIMEOUT: %w", err)
	}

	dlqRetryInterval, err := parseDuration(getEnvOrDefault("DLQ_RETRY_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DLQ_RETRY_INTERVAL: %w", err)
	}

	return &Config{
		URL:                   getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		Name:                  getEnvOrDefault("NATS_NAME", "pylonkit"),
		User:                  os.Getenv("NATS_USER"),
		Password:              os.Getenv("NATS_PASSWORD"),
		StreamName:            getEnvOrDefault("NATS_STREAM_NAME", "PYLON_CONSOLE"),
		StreamMaxAge:          24 * time.Hour,
		StreamMaxBytes:        streamMaxBytes,
		StreamMaxMsgs:         streamMaxMsgs,
		StreamMaxMsgSize:      int32(streamMaxMsgSize),
		StreamReplicas:        streamReplicas,
		StreamRetentionPolicy: "limits",
		ConsumerName:          getEnvOrDefault("NATS_CONSUMER_NAME", "pylon-relay"),
		ConsumerMaxDeliver:    consumerMaxDeliver,
		ConsumerAckWait:       30 * time.Second,
		ConsumerMaxAckPending: consumerMaxAckPending,
		DLQStreamName:         getEnvOrDefault("DLQ_STREAM_NAME", "PYLON_DLQ"),
		DLQMaxRetries:         dlqMaxRetries,
		DLQRetryInterval:      dlqRetryInterval,
		RetentionSubject:      getEnvOrDefault("NATS_RETENTION_SUBJECT", SubjectRetention),
		BatchSize:             batchSize,
		BatchTimeout:          batchTimeout,
	}, nil
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
