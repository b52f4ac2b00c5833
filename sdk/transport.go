package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport performs one authenticated request against the platform API.
// It encodes body as JSON when non-nil, decodes a 2xx JSON response into
// result when non-nil, and returns a structured error otherwise.
//
// The KV namespace client and the deployment resolver only depend on this
// interface, so callers can substitute their own implementation (for example
// one that adds retries or signs requests).
type Transport interface {
	Do(ctx context.Context, method, path string, body, result interface{}) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, method, path string, body, result interface{}) error

// Do calls f
func (f TransportFunc) Do(ctx context.Context, method, path string, body, result interface{}) error {
	return f(ctx, method, path, body, result)
}

// HTTPTransport is the default Transport built on net/http.
// Requests are sent once; there is no retry or backoff for REST calls.
type HTTPTransport struct {
	// client is the underlying HTTP client
	client *http.Client
	// config holds the SDK configuration
	config *Config
	// baseURL is the parsed base URL for the API
	baseURL *url.URL
	// observer for monitoring operations
	observer Observer
}

// NewHTTPTransport creates an HTTP transport from a validated config.
func NewHTTPTransport(config *Config) (*HTTPTransport, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base URL must have a scheme and host: %w", ErrInvalidConfig)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.TransportConfig.MaxIdleConns,
		MaxConnsPerHost:     config.TransportConfig.MaxConnsPerHost,
		IdleConnTimeout:     config.TransportConfig.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config:   config,
		baseURL:  baseURL,
		observer: config.Observer,
	}, nil
}

// Do executes a single request and notifies the observer around it.
func (t *HTTPTransport) Do(ctx context.Context, method, path string, body, result interface{}) error {
	t.observer.OnRequestStart(method, path)
	start := time.Now()

	err := t.performHTTPRequest(ctx, method, path, body, result)

	t.observer.OnRequestEnd(method, path, time.Since(start), err)
	if err != nil {
		t.config.Logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).WithError(err).Debug("platform request failed")
	}
	return err
}

// performHTTPRequest performs a single HTTP request
func (t *HTTPTransport) performHTTPRequest(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	fullURL := t.resolve(path)

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", t.config.UserAgent)
	if t.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.Token)
	}
	for key, value := range t.config.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(ErrorTypeTimeout, "request timed out", err).
				WithContext(&ErrorContext{URL: fullURL, Method: method, Duration: time.Since(start)})
		}
		netErr := &NetworkError{Op: method + " " + path, Err: err}
		return netErr.ToError().WithContext(&ErrorContext{URL: fullURL, Method: method, Duration: time.Since(start)})
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		netErr := &NetworkError{Op: "reading response", Err: err}
		return netErr.ToError()
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return newProtocolError("response", fmt.Sprintf("failed to parse response: %v", err), string(respBody)).ToError()
			}
		}
		return nil
	}

	enhancedErr := parseAPIError(resp.StatusCode, respBody).ToError()
	enhancedErr.WithContext(&ErrorContext{
		URL:      fullURL,
		Method:   method,
		Duration: time.Since(start),
	})
	if reqID := resp.Header.Get("X-Request-ID"); reqID != "" {
		enhancedErr.RequestID = reqID
	}
	return enhancedErr
}

// resolve joins an already-escaped path (and optional query) onto the base URL
func (t *HTTPTransport) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	full := *t.baseURL
	full.Path = strings.TrimSuffix(t.baseURL.Path, "/") + ref.Path
	full.RawPath = strings.TrimSuffix(t.baseURL.EscapedPath(), "/") + ref.EscapedPath()
	full.RawQuery = ref.RawQuery
	return full.String()
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// buildPath builds a URL path with proper escaping for path parameters.
// It replaces placeholders like {0}, {1}, etc. with the provided arguments,
// ensuring all special characters are properly URL-encoded.
//
// Example:
//
//	path := buildPath("/deployments/{0}/kv/namespaces/{1}/items/{2}", "42", "app", "a key/1")
//	// Result: "/deployments/42/kv/namespaces/app/items/a%20key%2F1"
func buildPath(pattern string, args ...string) string {
	path := pattern
	for i, arg := range args {
		placeholder := fmt.Sprintf("{%d}", i)
		// QueryEscape also encodes '/', '=' and '&'; '+' is only a space inside query strings
		escaped := url.QueryEscape(arg)
		escaped = strings.Replace(escaped, "+", "%20", -1)
		path = strings.Replace(path, placeholder, escaped, 1)
	}
	return path
}
