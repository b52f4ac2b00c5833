package database

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the console archive's connection settings
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// ApplicationName shows up in pg_stat_activity so relay and gateway
	// connections can be told apart
	ApplicationName string
	// TraceService is the Datadog service name of the traced pool
	TraceService string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	// StatementTimeout bounds every statement server side; archive inserts
	// and console reads are expected to be short. Zero disables it.
	StatementTimeout time.Duration
}

// NewConfigFromEnv reads DATABASE_URL when set, otherwise the POSTGRES_*
// variables. Pool settings always come from POSTGRES_*.
func NewConfigFromEnv() (*Config, error) {
	var cfg *Config
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		parsed, err := ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		cfg = parsed
	} else {
		port, err := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		if err != nil {
			return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
		}
		cfg = defaults()
		cfg.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
		cfg.Port = port
		cfg.User = getEnvOrDefault("POSTGRES_USER", "pylon")
		cfg.Password = getEnvOrDefault("POSTGRES_PASSWORD", "pylonpass")
		cfg.Database = getEnvOrDefault("POSTGRES_DB", "pylonkit")
		cfg.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", cfg.SSLMode)
	}

	maxConns, err := strconv.ParseInt(getEnvOrDefault("POSTGRES_MAX_CONNS", strconv.Itoa(int(cfg.MaxConns))), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_MAX_CONNS: %w", err)
	}
	minConns, err := strconv.ParseInt(getEnvOrDefault("POSTGRES_MIN_CONNS", strconv.Itoa(int(cfg.MinConns))), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_MIN_CONNS: %w", err)
	}
	if minConns > maxConns {
		return nil, fmt.Errorf("POSTGRES_MIN_CONNS (%d) exceeds POSTGRES_MAX_CONNS (%d)", minConns, maxConns)
	}
	statementTimeout, err := time.ParseDuration(getEnvOrDefault("POSTGRES_STATEMENT_TIMEOUT", cfg.StatementTimeout.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_STATEMENT_TIMEOUT: %w", err)
	}

	cfg.MaxConns = int32(maxConns)
	cfg.MinConns = int32(minConns)
	cfg.StatementTimeout = statementTimeout
	cfg.ApplicationName = getEnvOrDefault("POSTGRES_APPLICATION_NAME", cfg.ApplicationName)
	cfg.TraceService = getEnvOrDefault("POSTGRES_TRACE_SERVICE", cfg.TraceService)
	return cfg, nil
}

// defaults sizes the pool for the archive: one relay writing batches plus a
// gateway reading pages, so a small pool is plenty
func defaults() *Config {
	return &Config{
		SSLMode:          "disable",
		ApplicationName:  "pylonkit",
		TraceService:     "pylonkit-archive",
		MaxConns:         10,
		MinConns:         2,
		MaxConnLifetime:  time.Hour,
		MaxConnIdleTime:  15 * time.Minute,
		ConnectTimeout:   10 * time.Second,
		StatementTimeout: 15 * time.Second,
	}
}

// ParseURL builds a Config from a postgres:// connection URL. The sslmode
// and application_name query parameters are honored.
func ParseURL(connStr string) (*Config, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("invalid scheme: %s", u.Scheme)
	}

	port := 5432
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
	}

	password, _ := u.User.Password()

	cfg := defaults()
	cfg.Host = u.Hostname()
	cfg.Port = port
	cfg.User = u.User.Username()
	cfg.Password = password
	cfg.Database = strings.TrimPrefix(u.Path, "/")
	if mode := u.Query().Get("sslmode"); mode != "" {
		cfg.SSLMode = mode
	}
	if name := u.Query().Get("application_name"); name != "" {
		cfg.ApplicationName = name
	}
	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection URL usable by both pgx
// and lib/pq
func (c *Config) ConnectionString() string {
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
