package sdk

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the configuration for the Pylon platform client.
// All fields except BaseURL are optional and have sensible defaults.
//
// Configuration can be built using the fluent builder pattern:
//
//	config := sdk.DefaultConfig().
//	    WithBaseURL("https://api.pylon.example.com").
//	    WithToken(os.Getenv("PYLON_TOKEN")).
//	    WithTimeout(10 * time.Second)
//
//	client, err := sdk.NewClient(config)
type Config struct {
	// BaseURL is the base URL of the platform API.
	// Default: "http://localhost:8080"
	BaseURL string

	// Token is sent as a bearer token with every request when set.
	// Session management is left to the caller.
	Token string

	// Timeout is the HTTP request timeout.
	// This includes connection time, any redirects, and reading the response body.
	// Default: 30s
	Timeout time.Duration

	// TransportConfig holds HTTP transport settings.
	// Configures connection pooling and keep-alive behavior.
	TransportConfig TransportConfig

	// Headers are custom headers to include in all requests.
	// Example: {"X-Request-ID": "12345"}
	Headers map[string]string

	// UserAgent is sent with every request.
	// Default: "pylonkit-go-sdk/1.0.0"
	UserAgent string

	// Observer for monitoring requests and streams.
	// If nil, NoopObserver is used.
	Observer Observer

	// Logger receives SDK debug and lifecycle logs.
	// If nil, logs are discarded.
	Logger *logrus.Entry
}

// TransportConfig holds HTTP transport configuration for connection pooling.
//
// Example:
//
//	config.TransportConfig = sdk.TransportConfig{
//	    MaxIdleConns:    200,
//	    MaxConnsPerHost: 50,
//	    IdleConnTimeout: 120 * time.Second,
//	}
type TransportConfig struct {
	// MaxIdleConns controls the maximum number of idle connections
	// across all hosts. Zero means no limit.
	// Default: 100
	MaxIdleConns int

	// MaxConnsPerHost controls the maximum connections per host.
	// Default: 10
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum time an idle connection will remain idle
	// before closing itself.
	// Default: 90s
	IdleConnTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults suitable for most use cases.
// The default configuration includes:
//   - Base URL: http://localhost:8080
//   - Timeout: 30 seconds
//   - Connection pooling: 100 idle connections, 10 per host
//   - No-op observer and a discarding logger
//
// Example:
//
//	config := sdk.DefaultConfig().WithBaseURL(apiURL)
//	client, err := sdk.NewClient(config)
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8080",
		Timeout: 30 * time.Second,
		TransportConfig: TransportConfig{
			MaxIdleConns:    100,
			MaxConnsPerHost: 10,
			IdleConnTimeout: 90 * time.Second,
		},
		Headers:   make(map[string]string),
		UserAgent: defaultUserAgent,
		Observer:  &NoopObserver{},
	}
}

const defaultUserAgent = "pylonkit-go-sdk/1.0.0"

// WithBaseURL sets the base URL for the platform API.
// The URL should include the protocol (http/https).
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithBaseURL("https://api.pylon.example.com")
func (c *Config) WithBaseURL(url string) *Config {
	c.BaseURL = url
	return c
}

// WithToken sets the bearer token sent with every request.
func (c *Config) WithToken(token string) *Config {
	c.Token = token
	return c
}

// WithTimeout sets the request timeout for all REST operations.
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithTimeout(10 * time.Second)
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithHeader adds a custom header to be sent with all requests.
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithHeader("X-Tenant-ID", "tenant-123")
func (c *Config) WithHeader(key, value string) *Config {
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	c.Headers[key] = value
	return c
}

// WithObserver sets a custom observer for monitoring SDK operations.
//
// Example:
//
//	metrics := sdk.NewMetricsCollector()
//	config := sdk.DefaultConfig().
//	    WithObserver(metrics)
func (c *Config) WithObserver(observer Observer) *Config {
	c.Observer = observer
	return c
}

// WithLogger sets the logger used by the client and the streams it creates.
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithLogger(logrus.WithField("component", "pylon"))
func (c *Config) WithLogger(logger *logrus.Entry) *Config {
	c.Logger = logger
	return c
}

// Validate validates the configuration and sets defaults for missing values.
// This is called automatically by NewClient.
//
// Returns an error if the configuration is invalid (e.g., missing base URL).
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.BaseURL == "" {
		return ErrInvalidConfig
	}
	return nil
}

// applyDefaults fills the optional fields. A custom transport does not need
// BaseURL, so this runs independently of Validate's checks.
func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Observer == nil {
		c.Observer = &NoopObserver{}
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
}

// discardLogger returns an entry whose output goes nowhere
func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
