package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/sdk"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

// NamespacesResponse lists the KV namespaces of a deployment
type NamespacesResponse struct {
	DeploymentID string                 `json:"deployment_id"`
	Namespaces   []sdk.NamespaceSummary `json:"namespaces"`
	Cached       bool                   `json:"cached"`
}

// KeysResponse is one page of namespace keys. Next is the cursor for the
// following page and is empty on the last page.
type KeysResponse struct {
	Namespace string   `json:"namespace"`
	Keys      []string `json:"keys"`
	Next      string   `json:"next,omitempty"`
}

// ItemResponse is a KV item as exposed by the gateway
type ItemResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Bytes     *string         `json:"bytes,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// ItemsResponse is one page of namespace items
type ItemsResponse struct {
	Namespace string         `json:"namespace"`
	Items     []ItemResponse `json:"items"`
	Next      string         `json:"next,omitempty"`
}

// ConsoleResponse is a page of archived console messages, newest first
type ConsoleResponse struct {
	DeploymentID string                    `json:"deployment_id"`
	Messages     []database.ConsoleMessage `json:"messages"`
	Total        int64                     `json:"total"`
	// Before is the cursor for the next (older) page
	Before *time.Time `json:"before,omitempty"`
}

// SnapshotRequest is the optional body of a snapshot request
type SnapshotRequest struct {
	Async bool `json:"async"`
}

// SnapshotJobResponse acknowledges a queued snapshot
type SnapshotJobResponse struct {
	JobID     string `json:"job_id"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
}

// SnapshotListResponse lists recorded snapshots of a namespace
type SnapshotListResponse struct {
	Namespace string                    `json:"namespace"`
	Snapshots []database.SnapshotRecord `json:"snapshots"`
}

// RestoreRequest selects the snapshot to restore
type RestoreRequest struct {
	SnapshotID  int64 `json:"snapshot_id"`
	IfNotExists bool  `json:"if_not_exists"`
}

// Error codes
const (
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeUpstream       = "UPSTREAM_ERROR"
	ErrCodeQueueFull      = "QUEUE_FULL"
)

// NewErrorResponse creates a new error response
func NewErrorResponse(err string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: err,
		Code:  code,
	}
}

// NewErrorResponseWithDetails creates a new error response with details
func NewErrorResponseWithDetails(err string, code string, details string) *ErrorResponse {
	return &ErrorResponse{
		Error:   err,
		Code:    code,
		Details: details,
	}
}

// ConvertItem converts an sdk item to its response form
func ConvertItem(item sdk.Item) ItemResponse {
	resp := ItemResponse{Key: item.Key, ExpiresAt: item.ExpiresAt}
	if item.IsBytes() {
		b := string(item.Bytes)
		resp.Bytes = &b
	} else {
		resp.Value = item.Value
	}
	return resp
}

// platformStatus maps a platform error onto an HTTP status and error code
func platformStatus(err error) (int, string) {
	switch {
	case sdk.IsInvalidArgument(err):
		return fiber.StatusBadRequest, ErrCodeInvalidRequest
	case sdk.IsNotFound(err):
		return fiber.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, sdk.ErrTimeout):
		return fiber.StatusGatewayTimeout, ErrCodeTimeout
	case sdk.IsProtocolError(err), errors.Is(err, sdk.ErrServerError):
		return fiber.StatusBadGateway, ErrCodeUpstream
	default:
		return fiber.StatusInternalServerError, ErrCodeInternalError
	}
}
