package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the SDK. These can be used with errors.Is()
// to check for specific error conditions.
//
// Example:
//
//	found, err := ns.Get(ctx, "settings", &settings)
//	if errors.Is(err, sdk.ErrProtocol) {
//	    // The platform answered with an item we could not decode
//	} else if errors.Is(err, sdk.ErrInvalidArgument) {
//	    // A required argument was missing; nothing was sent
//	}
var (
	// ErrInvalidConfig is returned when the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidArgument is returned when a required argument is missing or malformed.
	// It is always raised before any network activity.
	ErrInvalidArgument = errors.New("missing or invalid required parameter")

	// ErrProtocol is returned when a response is missing an expected field
	ErrProtocol = errors.New("missing or unexpected value in response")

	// ErrNotFound is returned when a deployment or resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned when a request times out
	ErrTimeout = errors.New("request timeout")

	// ErrServerError is returned for 5xx server errors
	ErrServerError = errors.New("server error")

	// ErrClientClosed is returned when an operation is attempted on a closed client
	ErrClientClosed = errors.New("client is closed")

	// ErrStaleConnection is returned by Stream.Connect when the stream was closed,
	// or a newer attempt started, while the attempt was in flight
	ErrStaleConnection = errors.New("connection attempt superseded")
)

// ErrorType represents the type of error for categorization and handling.
//
// Example:
//
//	var sdkErr *sdk.Error
//	if errors.As(err, &sdkErr) {
//	    switch sdkErr.Type {
//	    case sdk.ErrorTypeNetwork:
//	        // The platform could not be reached
//	    case sdk.ErrorTypeProtocol:
//	        // The platform answered with something unexpected
//	    }
//	}
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown or unclassified error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork represents network-related errors (connection refused, DNS, etc.)
	ErrorTypeNetwork
	// ErrorTypeTimeout represents timeout errors (request timeout, context deadline)
	ErrorTypeTimeout
	// ErrorTypeServer represents server errors (5xx HTTP status codes)
	ErrorTypeServer
	// ErrorTypeClient represents client errors (4xx HTTP status codes)
	ErrorTypeClient
	// ErrorTypeValidation represents invalid arguments or configuration
	ErrorTypeValidation
	// ErrorTypeProtocol represents responses that are missing expected fields
	ErrorTypeProtocol
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeServer:
		return "server"
	case ErrorTypeClient:
		return "client"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error represents an enhanced error with additional context and metadata.
// It provides detailed information about what went wrong and context about
// the operation that failed.
//
// The Error type implements the error interface and supports error wrapping
// via errors.Is() and errors.As().
//
// Example:
//
//	var sdkErr *sdk.Error
//	if errors.As(err, &sdkErr) {
//	    fmt.Printf("Error Type: %s\n", sdkErr.Type)
//	    if sdkErr.Context != nil {
//	        fmt.Printf("Failed URL: %s\n", sdkErr.Context.URL)
//	    }
//	}
type Error struct {
	// Type categorizes the error for handling decisions
	Type ErrorType `json:"type"`
	// Code is an optional error code from the server
	Code string `json:"code,omitempty"`
	// Message is a human-readable error description
	Message string `json:"message"`
	// Details contains additional error metadata
	Details map[string]interface{} `json:"details,omitempty"`
	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`
	// Timestamp is when the error occurred
	Timestamp time.Time `json:"timestamp"`
	// Context provides additional context about the failed operation
	Context *ErrorContext `json:"context,omitempty"`
	// wrapped is the underlying error, if any
	wrapped error
}

// ErrorContext provides additional context about the operation that failed.
type ErrorContext struct {
	// URL is the full URL of the failed request
	URL string `json:"url,omitempty"`
	// Method is the HTTP method used (GET, PUT, DELETE, etc.)
	Method string `json:"method,omitempty"`
	// Duration is how long the operation took before failing
	Duration time.Duration `json:"duration,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Context != nil && e.Context.URL != "" {
		return fmt.Sprintf("%s error: %s (url: %s)", e.Type, e.Message, e.Context.URL)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is implements errors.Is
func (e *Error) Is(target error) bool {
	switch e.Type {
	case ErrorTypeTimeout:
		return errors.Is(target, ErrTimeout)
	case ErrorTypeServer:
		return errors.Is(target, ErrServerError)
	case ErrorTypeValidation:
		return errors.Is(target, ErrInvalidArgument)
	case ErrorTypeProtocol:
		return errors.Is(target, ErrProtocol)
	}
	return false
}

// WithContext adds error context
func (e *Error) WithContext(ctx *ErrorContext) *Error {
	e.Context = ctx
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError creates a new enhanced error
func NewError(errType ErrorType, message string, wrapped error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		wrapped:   wrapped,
	}
}

// NewErrorWithCode creates a new enhanced error with a code
func NewErrorWithCode(errType ErrorType, code, message string, wrapped error) *Error {
	err := NewError(errType, message, wrapped)
	err.Code = code
	return err
}

// invalidArgument reports a missing or malformed parameter.
// reason is "missing" or "incompatible".
func invalidArgument(reason, param string, value interface{}) *Error {
	err := NewError(ErrorTypeValidation,
		fmt.Sprintf("parameter %q is %s", param, reason), ErrInvalidArgument)
	err.WithDetail("parameter", param)
	if value != nil {
		err.WithDetail("value", value)
	}
	return err
}

// ProtocolError is returned when a response from the platform is missing a
// field the SDK needs. It carries the offending response for diagnostics.
//
// Example:
//
//	var protoErr *sdk.ProtocolError
//	if errors.As(err, &protoErr) {
//	    log.Printf("bad field %s in %s", protoErr.Field, protoErr.Response)
//	}
type ProtocolError struct {
	// Field is a path to the missing or unexpected field, e.g. "response[3].value.string"
	Field string
	// Message describes what was wrong with the field
	Message string
	// Response is the raw response that failed to decode
	Response json.RawMessage
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProtocol.Error(), e.Message)
}

// Is implements errors.Is
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// ToError converts ProtocolError to the enhanced Error type
func (e *ProtocolError) ToError() *Error {
	err := NewError(ErrorTypeProtocol, e.Message, e)
	err.WithDetail("field", e.Field)
	return err
}

// newProtocolError builds a ProtocolError, encoding response for the diagnostics payload
func newProtocolError(field, message string, response interface{}) *ProtocolError {
	raw, err := json.Marshal(response)
	if err != nil {
		raw = nil
	}
	return &ProtocolError{
		Field:    field,
		Message:  message,
		Response: raw,
	}
}

// APIError represents an error response from the platform API.
// It contains the HTTP status code and error details from the server.
//
// Example:
//
//	var apiErr *sdk.APIError
//	if errors.As(err, &apiErr) {
//	    if apiErr.IsNotFound() {
//	        // Handle 404
//	    } else if apiErr.StatusCode == http.StatusUnauthorized {
//	        // Token is missing or expired
//	    }
//	}
type APIError struct {
	// StatusCode is the HTTP status code from the response
	StatusCode int `json:"-"`
	// Message is the error message from the server
	Message string `json:"msg"`
	// Code is an optional error code for programmatic handling
	Code string `json:"code,omitempty"`
	// Details provides additional error information
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("API error (status %d): %s - %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a not found error
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.Code == "NOT_FOUND"
}

// IsServerError returns true if the error is a server error
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsClientError returns true if the error is a client error
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ToError converts APIError to the enhanced Error type
func (e *APIError) ToError() *Error {
	errType := ErrorTypeClient
	if e.IsServerError() {
		errType = ErrorTypeServer
	} else if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout {
		errType = ErrorTypeTimeout
	}

	err := NewErrorWithCode(errType, e.Code, e.Message, e)
	if e.Details != "" {
		err.WithDetail("api_details", e.Details)
	}
	err.WithDetail("status_code", e.StatusCode)
	return err
}

// parseAPIError decodes an error body, falling back to the raw text when the
// platform does not answer with JSON
func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	if len(body) > 0 {
		var payload struct {
			Msg     string `json:"msg"`
			Error   string `json:"error"`
			Code    string `json:"code"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			apiErr.Message = payload.Msg
			if apiErr.Message == "" {
				apiErr.Message = payload.Error
			}
			apiErr.Code = payload.Code
			apiErr.Details = payload.Details
		} else {
			apiErr.Message = string(body)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}

// NetworkError represents a network-related error such as connection
// refused, DNS resolution failure, or connection timeout.
type NetworkError struct {
	// Op is the operation that failed (e.g., "GET /deployments/1", "dial")
	Op string
	// Err is the underlying network error
	Err error
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ToError converts NetworkError to the enhanced Error type
func (e *NetworkError) ToError() *Error {
	err := NewError(ErrorTypeNetwork, e.Error(), e)
	err.WithDetail("operation", e.Op)
	return err
}

// IsNotFound checks if the error represents a "not found" condition.
// This includes checking for ErrNotFound, 404 status codes, and "NOT_FOUND" error codes.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsNotFound()
	}
	return false
}

// IsProtocolError reports whether err was caused by an unexpected response shape
func IsProtocolError(err error) bool {
	return err != nil && errors.Is(err, ErrProtocol)
}

// IsInvalidArgument reports whether err was caused by a missing or malformed argument
func IsInvalidArgument(err error) bool {
	return err != nil && errors.Is(err, ErrInvalidArgument)
}
