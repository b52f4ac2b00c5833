package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/birbparty/pylonkit/internal/api/middleware"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, handler *Handler, cfg *Config) {
	// Health and metrics endpoints (no auth required)
	app.Get("/health", handler.Health)
	app.Get(cfg.MetricsPath, MetricsHandler())

	// API v1 group
	v1 := app.Group("/v1")
	v1.Use(RateLimiter(cfg.RateLimit))
	if cfg.APIKey != "" {
		v1.Use(ValidateAPIKey(cfg.APIKey))
	}

	v1.Get("/relays", handler.ListRelays)
	v1.Get("/snapshots/jobs/:job", handler.GetSnapshotJob)

	deployment := v1.Group("/deployments/:id", middleware.RequireDeployment(cfg.Deployments))
	deployment.Get("/", handler.GetDeployment)
	deployment.Get("/status", handler.GetStatus)
	deployment.Get("/console", handler.GetConsole)

	kv := deployment.Group("/kv/namespaces")
	kv.Get("/", handler.ListNamespaces)
	kv.Get("/:ns/keys", handler.ListKeys)
	kv.Get("/:ns/items", handler.ListItems)
	kv.Get("/:ns/count", handler.CountItems)
	kv.Get("/:ns/snapshots", handler.ListSnapshots)
	kv.Post("/:ns/snapshot", handler.TakeSnapshot)
	kv.Post("/:ns/restore", handler.RestoreSnapshot)

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": cfg.ServiceName,
			"version": Version,
			"status":  "running",
			"endpoints": fiber.Map{
				"deployment": "GET /v1/deployments/:id",
				"status":     "GET /v1/deployments/:id/status",
				"console":    "GET /v1/deployments/:id/console",
				"kv": fiber.Map{
					"namespaces": "GET /v1/deployments/:id/kv/namespaces",
					"keys":       "GET /v1/deployments/:id/kv/namespaces/:ns/keys",
					"items":      "GET /v1/deployments/:id/kv/namespaces/:ns/items",
					"count":      "GET /v1/deployments/:id/kv/namespaces/:ns/count",
					"snapshot":   "POST /v1/deployments/:id/kv/namespaces/:ns/snapshot",
					"snapshots":  "GET /v1/deployments/:id/kv/namespaces/:ns/snapshots",
					"restore":    "POST /v1/deployments/:id/kv/namespaces/:ns/restore",
				},
				"relays":  "GET /v1/relays",
				"health":  "GET /health",
				"metrics": "GET " + cfg.MetricsPath,
			},
		})
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Endpoint not found", ErrCodeNotFound),
		)
	})
}
