package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/internal/api/middleware"
	"github.com/birbparty/pylonkit/internal/cache"
	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/snapshot"
	"github.com/birbparty/pylonkit/internal/telemetry"
	"github.com/birbparty/pylonkit/sdk"
)

// Platform is the part of *sdk.Client the gateway uses
type Platform interface {
	GetDeployment(ctx context.Context, deploymentID string) (*sdk.Deployment, error)
	Namespaces(ctx context.Context, deploymentID string) ([]sdk.NamespaceSummary, error)
	Namespace(deploymentID, namespace string) (*sdk.Namespace, error)
}

// StatusReader reads relay status written by the relay service
type StatusReader interface {
	Get(ctx context.Context, deploymentID string) (*cache.RelayStatus, error)
	List(ctx context.Context) ([]cache.RelayStatus, error)
}

// SnapshotService takes, lists and restores namespace snapshots
type SnapshotService interface {
	Snapshotter
	Restore(ctx context.Context, ns *sdk.Namespace, id int64, opts snapshot.RestoreOptions) (*snapshot.RestoreResult, error)
	List(ctx context.Context, deploymentID, namespace string, limit int) ([]database.SnapshotRecord, error)
}

// HealthCheck reports the health of one dependency
type HealthCheck func(ctx context.Context) error

// Handler holds all dependencies for API handlers
type Handler struct {
	config    *Config
	platform  Platform
	archive   database.ConsoleArchive
	status    StatusReader
	cache     cache.Cache
	snapshots SnapshotService
	queue     *SnapshotQueue
	checks    map[string]HealthCheck
	log       *logrus.Entry
}

// HandlerOption wires an optional dependency into the handler
type HandlerOption func(*Handler)

// WithArchive serves archived console messages
func WithArchive(archive database.ConsoleArchive) HandlerOption {
	return func(h *Handler) { h.archive = archive }
}

// WithStatus serves relay status
func WithStatus(status StatusReader) HandlerOption {
	return func(h *Handler) { h.status = status }
}

// WithCache caches namespace listings
func WithCache(c cache.Cache) HandlerOption {
	return func(h *Handler) { h.cache = c }
}

// WithSnapshots enables snapshot endpoints. queue may be nil, which
// disables async snapshots.
func WithSnapshots(service SnapshotService, queue *SnapshotQueue) HandlerOption {
	return func(h *Handler) {
		h.snapshots = service
		h.queue = queue
	}
}

// WithHealthCheck adds a named check to /health
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *Handler) { h.checks[name] = check }
}

// NewHandler creates a new handler instance
func NewHandler(config *Config, platform Platform, opts ...HandlerOption) *Handler {
	h := &Handler{
		config:   config,
		platform: platform,
		checks:   make(map[string]HealthCheck),
		log:      telemetry.Component("gateway"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetDeployment handles GET /v1/deployments/:id
func (h *Handler) GetDeployment(c *fiber.Ctx) error {
	deployment, err := h.platform.GetDeployment(c.UserContext(), middleware.DeploymentID(c))
	if err != nil {
		return h.platformError(c, err)
	}

	// The socket URL is a short-lived credential
	resp := *deployment
	resp.WorkbenchURL = ""
	return c.JSON(resp)
}

// GetStatus handles GET /v1/deployments/:id/status
func (h *Handler) GetStatus(c *fiber.Ctx) error {
	if h.status == nil {
		return unavailable(c, "relay status")
	}

	st, err := h.status.Get(c.UserContext(), middleware.DeploymentID(c))
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(
				NewErrorResponse("No relay status for deployment", ErrCodeNotFound),
			)
		}
		h.log.WithError(err).Error("failed to read relay status")
		return c.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse("Failed to read relay status", ErrCodeInternalError),
		)
	}
	return c.JSON(st)
}

// ListRelays handles GET /v1/relays
func (h *Handler) ListRelays(c *fiber.Ctx) error {
	if h.status == nil {
		return unavailable(c, "relay status")
	}

	statuses, err := h.status.List(c.UserContext())
	if err != nil {
		h.log.WithError(err).Error("failed to list relay status")
		return c.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse("Failed to list relays", ErrCodeInternalError),
		)
	}
	return c.JSON(fiber.Map{"relays": statuses})
}

// GetConsole handles GET /v1/deployments/:id/console?limit=&before=
func (h *Handler) GetConsole(c *fiber.Ctx) error {
	if h.archive == nil {
		return unavailable(c, "console archive")
	}

	ctx := c.UserContext()
	deploymentID := middleware.DeploymentID(c)

	limit, err := h.queryLimit(c, h.config.ConsoleDefaultLimit, h.config.ConsoleMaxLimit)
	if err != nil {
		return err
	}
	if limit == 0 {
		limit = h.config.ConsoleDefaultLimit
	}

	q := database.MessageQuery{DeploymentID: deploymentID, Limit: limit}
	if before := c.Query("before"); before != "" {
		t, err := time.Parse(time.RFC3339Nano, before)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(
				NewErrorResponseWithDetails("Invalid before cursor", ErrCodeInvalidRequest, err.Error()),
			)
		}
		q.Before = t
	}

	messages, err := h.archive.Recent(ctx, q)
	if err != nil {
		h.log.WithError(err).WithField("deployment_id", deploymentID).Error("failed to read console archive")
		return c.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse("Failed to read console archive", ErrCodeInternalError),
		)
	}

	total, err := h.archive.Count(ctx, deploymentID)
	if err != nil {
		h.log.WithError(err).WithField("deployment_id", deploymentID).Warn("failed to count console archive")
	}

	resp := ConsoleResponse{
		DeploymentID: deploymentID,
		Messages:     messages,
		Total:        total,
	}
	if len(messages) > 0 && len(messages) == limit {
		oldest := messages[len(messages)-1].ReceivedAt
		resp.Before = &oldest
	}
	if resp.Messages == nil {
		resp.Messages = []database.ConsoleMessage{}
	}
	return c.JSON(resp)
}

// ListNamespaces handles GET /v1/deployments/:id/kv/namespaces
func (h *Handler) ListNamespaces(c *fiber.Ctx) error {
	ctx := c.UserContext()
	deploymentID := middleware.DeploymentID(c)

	var scoped *cache.ScopedCache
	if h.cache != nil {
		scoped = cache.NewScopedCache(h.cache, deploymentID, h.config.NamespaceCacheTTL)

		var cached []sdk.NamespaceSummary
		found, err := scoped.GetJSON(ctx, "namespaces", &cached)
		if err != nil {
			h.log.WithError(err).Warn("namespace cache read failed")
		}
		RecordNamespaceCache(found)
		if found {
			return c.JSON(NamespacesResponse{DeploymentID: deploymentID, Namespaces: cached, Cached: true})
		}
	}

	ctx, done := telemetry.TimeKVOperation(ctx, "namespaces", deploymentID, "")
	summaries, err := h.platform.Namespaces(ctx, deploymentID)
	if err != nil {
		done("error")
		return h.platformError(c, err)
	}
	done("ok")

	if summaries == nil {
		summaries = []sdk.NamespaceSummary{}
	}
	if scoped != nil {
		if err := scoped.SetJSON(ctx, "namespaces", summaries); err != nil {
			h.log.WithError(err).Warn("namespace cache write failed")
		}
	}
	return c.JSON(NamespacesResponse{DeploymentID: deploymentID, Namespaces: summaries})
}

// ListKeys handles GET /v1/deployments/:id/kv/namespaces/:ns/keys?from=&limit=
func (h *Handler) ListKeys(c *fiber.Ctx) error {
	ns, err := h.namespace(c)
	if err != nil {
		return h.platformError(c, err)
	}
	limit, err := h.queryLimit(c, 0, 0)
	if err != nil {
		return err
	}

	ctx, done := telemetry.TimeKVOperation(c.UserContext(), "list", ns.DeploymentID(), ns.Name())
	keys, err := ns.List(ctx, pageOptions(c.Query("from"), limit))
	if err != nil {
		done("error")
		return h.platformError(c, err)
	}
	done("ok")

	resp := KeysResponse{Namespace: ns.Name(), Keys: keys}
	if limit > 0 && len(keys) > limit {
		resp.Keys = keys[:limit]
		resp.Next = resp.Keys[limit-1]
	}
	if resp.Keys == nil {
		resp.Keys = []string{}
	}
	return c.JSON(resp)
}

// ListItems handles GET /v1/deployments/:id/kv/namespaces/:ns/items?from=&limit=
func (h *Handler) ListItems(c *fiber.Ctx) error {
	ns, err := h.namespace(c)
	if err != nil {
		return h.platformError(c, err)
	}
	limit, err := h.queryLimit(c, 0, 0)
	if err != nil {
		return err
	}

	ctx, done := telemetry.TimeKVOperation(c.UserContext(), "items", ns.DeploymentID(), ns.Name())
	items, err := ns.Items(ctx, pageOptions(c.Query("from"), limit))
	if err != nil {
		done("error")
		return h.platformError(c, err)
	}
	done("ok")

	resp := ItemsResponse{Namespace: ns.Name(), Items: make([]ItemResponse, 0, len(items))}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
		resp.Next = items[limit-1].Key
	}
	for _, item := range items {
		resp.Items = append(resp.Items, ConvertItem(item))
	}
	return c.JSON(resp)
}

// CountItems handles GET /v1/deployments/:id/kv/namespaces/:ns/count
func (h *Handler) CountItems(c *fiber.Ctx) error {
	ns, err := h.namespace(c)
	if err != nil {
		return h.platformError(c, err)
	}

	ctx, done := telemetry.TimeKVOperation(c.UserContext(), "count", ns.DeploymentID(), ns.Name())
	count, err := ns.Count(ctx)
	if err != nil {
		done("error")
		return h.platformError(c, err)
	}
	done("ok")

	return c.JSON(fiber.Map{"namespace": ns.Name(), "count": count})
}

// TakeSnapshot handles POST /v1/deployments/:id/kv/namespaces/:ns/snapshot
func (h *Handler) TakeSnapshot(c *fiber.Ctx) error {
	if h.snapshots == nil {
		return unavailable(c, "snapshots")
	}

	var req SnapshotRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(
				NewErrorResponse("Invalid request body", ErrCodeInvalidRequest),
			)
		}
	}

	ns, err := h.namespace(c)
	if err != nil {
		return h.platformError(c, err)
	}

	if req.Async {
		if h.queue == nil {
			return unavailable(c, "async snapshots")
		}
		job, err := h.queue.Enqueue(c.UserContext(), ns)
		if err != nil {
			if errors.Is(err, ErrQueueFull) {
				return c.Status(fiber.StatusServiceUnavailable).JSON(
					NewErrorResponse("Snapshot queue is full", ErrCodeQueueFull),
				)
			}
			return unavailable(c, "async snapshots")
		}
		return c.Status(fiber.StatusAccepted).JSON(SnapshotJobResponse{
			JobID:     job.ID,
			Namespace: job.Namespace,
			Status:    job.Status,
		})
	}

	rec, err := h.snapshots.Take(c.UserContext(), ns)
	if err != nil {
		return h.platformError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// ListSnapshots handles GET /v1/deployments/:id/kv/namespaces/:ns/snapshots
func (h *Handler) ListSnapshots(c *fiber.Ctx) error {
	if h.snapshots == nil {
		return unavailable(c, "snapshots")
	}

	limit, err := h.queryLimit(c, 20, 100)
	if err != nil {
		return err
	}

	namespace := c.Params("ns")
	records, err := h.snapshots.List(c.UserContext(), middleware.DeploymentID(c), namespace, limit)
	if err != nil {
		h.log.WithError(err).Error("failed to list snapshots")
		return c.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse("Failed to list snapshots", ErrCodeInternalError),
		)
	}
	if records == nil {
		records = []database.SnapshotRecord{}
	}
	return c.JSON(SnapshotListResponse{Namespace: namespace, Snapshots: records})
}

// RestoreSnapshot handles POST /v1/deployments/:id/kv/namespaces/:ns/restore
func (h *Handler) RestoreSnapshot(c *fiber.Ctx) error {
	if h.snapshots == nil {
		return unavailable(c, "snapshots")
	}

	var req RestoreRequest
	if err := c.BodyParser(&req); err != nil || req.SnapshotID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse("snapshot_id is required", ErrCodeInvalidRequest),
		)
	}

	ns, err := h.namespace(c)
	if err != nil {
		return h.platformError(c, err)
	}

	result, err := h.snapshots.Restore(c.UserContext(), ns, req.SnapshotID, snapshot.RestoreOptions{
		IfNotExists: req.IfNotExists,
	})
	if err != nil {
		if errors.Is(err, snapshot.ErrSnapshotNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(
				NewErrorResponse("Snapshot not found", ErrCodeNotFound),
			)
		}
		return h.platformError(c, err)
	}

	if h.cache != nil {
		scoped := cache.NewScopedCache(h.cache, ns.DeploymentID(), h.config.NamespaceCacheTTL)
		if err := scoped.Delete(c.UserContext(), "namespaces"); err != nil && !errors.Is(err, cache.ErrKeyNotFound) {
			h.log.WithError(err).Warn("namespace cache invalidation failed")
		}
	}
	return c.JSON(result)
}

// GetSnapshotJob handles GET /v1/snapshots/jobs/:job
func (h *Handler) GetSnapshotJob(c *fiber.Ctx) error {
	if h.queue == nil {
		return unavailable(c, "async snapshots")
	}

	job, ok := h.queue.Job(c.Params("job"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Snapshot job not found", ErrCodeNotFound),
		)
	}
	return c.JSON(job)
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx := c.UserContext()

	checks := make(map[string]string, len(h.checks))
	status := "healthy"
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			status = "unhealthy"
			UpdateHealthMetric(name, false)
			continue
		}
		checks[name] = "healthy"
		UpdateHealthMetric(name, true)
	}

	response := &HealthResponse{
		Status:  status,
		Service: h.config.ServiceName,
		Version: Version,
		Uptime:  time.Since(startTime).String(),
		Checks:  checks,
	}

	statusCode := fiber.StatusOK
	if status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

// Shutdown drains the snapshot queue
func (h *Handler) Shutdown() {
	if h.queue != nil {
		h.queue.Shutdown()
	}
}

// namespace builds the namespace client addressed by the route
func (h *Handler) namespace(c *fiber.Ctx) (*sdk.Namespace, error) {
	return h.platform.Namespace(middleware.DeploymentID(c), c.Params("ns"))
}

// queryLimit parses ?limit=, applying def when absent and capping at max
// when max is positive. A malformed limit is a *fiber.Error rendered by
// the error middleware.
func (h *Handler) queryLimit(c *fiber.Ctx, def, max int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit, nil
}

// platformError maps a platform error onto a JSON error response
func (h *Handler) platformError(c *fiber.Ctx, err error) error {
	status, code := platformStatus(err)
	RecordUpstreamError(c.Route().Path, code)

	entry := h.log.WithError(err).WithFields(logrus.Fields{
		"path":   c.Path(),
		"status": status,
	})
	if status >= fiber.StatusInternalServerError {
		entry.Error("platform request failed")
	} else {
		entry.Debug("platform request rejected")
	}

	return c.Status(status).JSON(NewErrorResponseWithDetails("Platform request failed", code, err.Error()))
}

// pageOptions asks for one extra result so the handler can tell whether a
// further page exists
func pageOptions(from string, limit int) *sdk.ListOptions {
	opts := &sdk.ListOptions{From: from}
	if limit > 0 {
		opts.Limit = limit + 1
	}
	return opts
}

func unavailable(c *fiber.Ctx, feature string) error {
	return c.Status(fiber.StatusNotImplemented).JSON(
		NewErrorResponse(feature+" not configured", ErrCodeInternalError),
	)
}

// Version is the gateway version reported by /health
const Version = "1.0.0"

var startTime = time.Now()
