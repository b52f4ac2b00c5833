package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/internal/telemetry"
)

// SetupMiddleware configures all middleware for the application
func SetupMiddleware(app *fiber.App) {
	// Request ID middleware
	app.Use(requestid.New())

	// Recover middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// CORS middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
	}))

	// Tracing, request metrics and structured access logs
	app.Use(telemetry.FiberMetricsMiddleware())
	app.Use(telemetry.FiberLoggingMiddleware())

	// Custom error handler
	app.Use(errorHandler())

	// Timing middleware
	app.Use(timingMiddleware())
}

// errorHandler renders errors returned by handlers as JSON
func errorHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if err == nil {
			return nil
		}

		// Default to 500 Internal Server Error
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"
		errCode := ErrCodeInternalError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		switch code {
		case fiber.StatusNotFound:
			errCode = ErrCodeNotFound
		case fiber.StatusBadRequest:
			errCode = ErrCodeInvalidRequest
		case fiber.StatusRequestTimeout:
			errCode = ErrCodeTimeout
		case fiber.StatusTooManyRequests:
			errCode = ErrCodeRateLimited
		}

		entry := telemetry.WithContext(c.UserContext()).WithError(err).WithFields(logrus.Fields{
			"path":   c.Path(),
			"method": c.Method(),
			"status": code,
		})
		if code >= fiber.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Debug("request rejected")
		}

		return c.Status(code).JSON(NewErrorResponse(message, errCode))
	}
}

// timingMiddleware adds request timing headers
func timingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		c.Set("X-Response-Time", fmt.Sprintf("%d ms", time.Since(start).Milliseconds()))
		return err
	}
}

// ValidateAPIKey creates a middleware for API key validation
func ValidateAPIKey(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}

		// Get API key from header
		key := c.Get("X-API-Key")
		if key == "" {
			// Try Authorization header
			if auth := c.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(
				NewErrorResponse("Invalid or missing API key", ErrCodeUnauthorized),
			)
		}
		return c.Next()
	}
}

// RateLimiter creates a simple in-memory fixed-window rate limiter keyed by client IP
func RateLimiter(requestsPerMinute int) fiber.Handler {
	type client struct {
		count     int
		lastReset time.Time
	}

	var mu sync.Mutex
	clients := make(map[string]*client)

	return func(c *fiber.Ctx) error {
		if requestsPerMinute <= 0 {
			return c.Next()
		}

		ip := c.IP()
		now := time.Now()

		mu.Lock()
		cl, exists := clients[ip]
		if !exists {
			cl = &client{lastReset: now}
			clients[ip] = cl
		}

		// Reset counter if a minute has passed
		if now.Sub(cl.lastReset) > time.Minute {
			cl.count = 0
			cl.lastReset = now
		}

		if cl.count >= requestsPerMinute {
			mu.Unlock()
			return c.Status(fiber.StatusTooManyRequests).JSON(
				NewErrorResponse("Rate limit exceeded", ErrCodeRateLimited),
			)
		}

		cl.count++
		remaining := requestsPerMinute - cl.count
		reset := cl.lastReset.Add(time.Minute).Unix()
		mu.Unlock()

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerMinute))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		return c.Next()
	}
}
