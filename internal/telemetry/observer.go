package telemetry

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/birbparty/pylonkit/sdk"
)

// PrometheusObserver exports SDK request and stream events as Prometheus
// metrics and logs stream lifecycle changes.
type PrometheusObserver struct{}

var _ sdk.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver returns an observer backed by the global registry.
func NewPrometheusObserver() *PrometheusObserver {
	ensurePrometheusMetrics()
	return &PrometheusObserver{}
}

// OnRequestStart is a no-op; requests are recorded when they end
func (o *PrometheusObserver) OnRequestStart(method, path string) {}

// OnRequestEnd records the request under its route template
func (o *PrometheusObserver) OnRequestEnd(method, path string, duration time.Duration, err error) {
	RecordPlatformRequest(method, RouteTemplate(path), requestStatus(err), duration)
}

// OnStreamOpen records an opened socket
func (o *PrometheusObserver) OnStreamOpen(deploymentID string) {
	RecordStreamOpen(deploymentID)
}

// OnStreamClose records a closed socket
func (o *PrometheusObserver) OnStreamClose(deploymentID string, code int) {
	RecordStreamClose(deploymentID, code)
}

// OnStreamError records a stream error
func (o *PrometheusObserver) OnStreamError(deploymentID string, err error) {
	RecordStreamError(deploymentID)
	WithContext(context.Background()).WithError(err).
		WithField("deployment_id", deploymentID).
		Debug("Console stream error")
}

// OnStreamMessage records a received message
func (o *PrometheusObserver) OnStreamMessage(deploymentID string) {
	RecordStreamMessage(deploymentID)
}

// OnReconnectScheduled records a scheduled reconnect
func (o *PrometheusObserver) OnReconnectScheduled(deploymentID string, attempt int, delay time.Duration) {
	RecordReconnect(deploymentID, delay)
}

// requestStatus maps an SDK error to a status label
func requestStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.StatusCode)
	}
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		return sdkErr.Type.String()
	}
	return "error"
}

// RouteTemplate replaces the variable segments of a platform path so that
// metric labels stay bounded:
//
//	/deployments/42/kv/namespaces/app/items/k -> /deployments/:id/kv/namespaces/:ns/items/:key
func RouteTemplate(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || segments[0] != "deployments" {
		return path
	}

	segments[1] = ":id"
	if len(segments) >= 5 && segments[2] == "kv" && segments[3] == "namespaces" {
		segments[4] = ":ns"
	}
	if len(segments) >= 7 && segments[5] == "items" {
		segments[6] = ":key"
	}
	return "/" + strings.Join(segments, "/")
}
