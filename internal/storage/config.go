package storage

import (
	"os"
	"strconv"
)

// Config contains settings for an S3-compatible bucket such as
// DigitalOcean Spaces or MinIO
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PathStyle addresses objects as endpoint/bucket/key, which MinIO needs
	PathStyle bool
	// DisableSSL talks plain HTTP to the endpoint
	DisableSSL bool
	// Traced wraps the session with Datadog instrumentation
	Traced bool
}

// NewConfigFromEnv loads storage configuration from environment variables
func NewConfigFromEnv() *Config {
	return &Config{
		Endpoint:   getEnvOrDefault("S3_ENDPOINT", "nyc3.digitaloceanspaces.com"),
		Region:     getEnvOrDefault("S3_REGION", "nyc3"),
		Bucket:     getEnvOrDefault("S3_BUCKET", "pylonkit-snapshots"),
		AccessKey:  os.Getenv("S3_ACCESS_KEY"),
		SecretKey:  os.Getenv("S3_SECRET_KEY"),
		PathStyle:  getEnvBool("S3_PATH_STYLE", false),
		DisableSSL: getEnvBool("S3_DISABLE_SSL", false),
		Traced:     getEnvBool("DD_TRACE_ENABLED", false),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
