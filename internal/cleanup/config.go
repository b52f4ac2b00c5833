package cleanup

import (
	"os"
	"strconv"
	"time"
)

// LoadCleanupConfig loads retention configuration from environment variables
func LoadCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Retention:          getEnvDuration("RETENTION_PERIOD", 7*24*time.Hour),
		CleanupInterval:    getEnvDuration("RETENTION_INTERVAL", 15*time.Minute),
		BatchLimit:         getEnvInt("RETENTION_BATCH_LIMIT", 5000),
		DryRun:             getEnvBool("RETENTION_DRY_RUN", false),
		ExportBeforeDelete: getEnvBool("RETENTION_EXPORT", true),
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment or returns default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment or returns default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
