package sdk

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %v, want %v", config.BaseURL, "http://localhost:8080")
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want %v", config.Timeout, 30*time.Second)
	}
	if config.TransportConfig.MaxIdleConns != 100 {
		t.Errorf("MaxIdleConns = %v, want %v", config.TransportConfig.MaxIdleConns, 100)
	}
	if config.TransportConfig.MaxConnsPerHost != 10 {
		t.Errorf("MaxConnsPerHost = %v, want %v", config.TransportConfig.MaxConnsPerHost, 10)
	}
	if config.TransportConfig.IdleConnTimeout != 90*time.Second {
		t.Errorf("IdleConnTimeout = %v, want %v", config.TransportConfig.IdleConnTimeout, 90*time.Second)
	}
	if config.UserAgent != defaultUserAgent {
		t.Errorf("UserAgent = %v, want %v", config.UserAgent, defaultUserAgent)
	}
	if config.Headers == nil {
		t.Error("Headers should not be nil")
	}
	if _, ok := config.Observer.(*NoopObserver); !ok {
		t.Errorf("Observer = %T, want *NoopObserver", config.Observer)
	}
}

func TestConfigBuilders(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	metrics := NewMetricsCollector()

	config := DefaultConfig().
		WithBaseURL("https://api.example.com").
		WithToken("secret").
		WithTimeout(5*time.Second).
		WithHeader("X-Tenant", "t1").
		WithObserver(metrics).
		WithLogger(logger)

	if config.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %v", config.BaseURL)
	}
	if config.Token != "secret" {
		t.Errorf("Token = %v", config.Token)
	}
	if config.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", config.Timeout)
	}
	if config.Headers["X-Tenant"] != "t1" {
		t.Errorf("Headers = %v", config.Headers)
	}
	if config.Observer != metrics {
		t.Error("Observer not set")
	}
	if config.Logger != logger {
		t.Error("Logger not set")
	}

	var nilHeaders Config
	nilHeaders.WithHeader("a", "b")
	if nilHeaders.Headers["a"] != "b" {
		t.Error("WithHeader should allocate the map")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("missing base URL", func(t *testing.T) {
		config := &Config{}
		if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("fills defaults", func(t *testing.T) {
		config := &Config{BaseURL: "http://localhost:1"}
		if err := config.Validate(); err != nil {
			t.Fatalf("Validate() = %v", err)
		}
		if config.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v", config.Timeout)
		}
		if config.UserAgent != defaultUserAgent {
			t.Errorf("UserAgent = %v", config.UserAgent)
		}
		if config.Observer == nil {
			t.Error("Observer should default")
		}
		if config.Logger == nil {
			t.Error("Logger should default")
		}
	})
}
