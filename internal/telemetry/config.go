package telemetry

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds telemetry settings for one pylonkit process
type Config struct {
	// Component is "relay" or "gateway"; it is stamped on every log entry,
	// span resource and metric
	Component      string
	ServiceName    string
	ServiceVersion string
	Environment    string
	// InstanceID tells replicas of the same component apart
	InstanceID string

	// OTLPEndpoint is the collector receiving spans and OTel metrics. When
	// empty spans are still created so logs carry trace ids, but nothing
	// is exported.
	OTLPEndpoint    string
	OTLPInsecure    bool
	SamplingRate    float64
	MetricsInterval time.Duration

	LogLevel  string
	LogFormat string
	// LogFile additionally writes JSON entries to this path
	LogFile string

	EnableTracing bool
	EnableMetrics bool
}

// NewConfigFromEnv creates the telemetry config of a component from
// environment variables
func NewConfigFromEnv(component string) *Config {
	return &Config{
		Component:       component,
		ServiceName:     getEnv("OTEL_SERVICE_NAME", "pylonkit-"+component),
		ServiceVersion:  getEnv("PYLONKIT_VERSION", "dev"),
		Environment:     getEnv("PYLONKIT_ENV", "development"),
		InstanceID:      getEnv("PYLONKIT_INSTANCE_ID", hostname()),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		SamplingRate:    getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
		MetricsInterval: getEnvDuration("OTEL_METRICS_INTERVAL", 15*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		LogFile:         os.Getenv("LOG_FILE"),
		EnableTracing:   getEnvBool("ENABLE_TRACING", true),
		EnableMetrics:   getEnvBool("ENABLE_METRICS", true),
	}
}

// Validate checks the config before Init wires anything
func (c *Config) Validate() error {
	if c.Component == "" {
		return errors.New("telemetry component is required")
	}
	if c.ServiceName == "" {
		return errors.New("telemetry service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate %v outside [0, 1]", c.SamplingRate)
	}
	if c.EnableMetrics && c.OTLPEndpoint != "" && c.MetricsInterval <= 0 {
		return fmt.Errorf("metrics interval must be positive, got %s", c.MetricsInterval)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
