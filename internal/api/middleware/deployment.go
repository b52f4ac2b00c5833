package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// deploymentIDKey is the fiber local holding the validated deployment ID
const deploymentIDKey = "deployment_id"

// DeploymentMiddleware validates the :id route parameter of deployment routes
type DeploymentMiddleware struct {
	param   string
	allowed map[string]bool
}

// NewDeploymentMiddleware creates a deployment middleware reading the given
// route parameter. A non-empty allow list restricts which deployments the
// gateway will serve.
func NewDeploymentMiddleware(param string, allowed []string) *DeploymentMiddleware {
	m := &DeploymentMiddleware{param: param}
	if len(allowed) > 0 {
		m.allowed = make(map[string]bool, len(allowed))
		for _, id := range allowed {
			m.allowed[strings.TrimSpace(id)] = true
		}
	}
	return m
}

// Handle is the Fiber middleware function
func (m *DeploymentMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		deploymentID := strings.TrimSpace(c.Params(m.param))

		if deploymentID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "deployment ID is required",
				"code":  "MISSING_DEPLOYMENT_ID",
			})
		}

		if !ValidDeploymentID(deploymentID) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "deployment ID must be numeric",
				"code":  "INVALID_DEPLOYMENT_ID",
			})
		}

		if m.allowed != nil && !m.allowed[deploymentID] {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":         "deployment is not served by this gateway",
				"code":          "DEPLOYMENT_FORBIDDEN",
				"deployment_id": deploymentID,
			})
		}

		c.Locals(deploymentIDKey, deploymentID)
		c.Set("X-Deployment-ID", deploymentID)

		return c.Next()
	}
}

// ValidDeploymentID reports whether id looks like a platform deployment ID
func ValidDeploymentID(id string) bool {
	if id == "" || len(id) > 32 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DeploymentID returns the deployment ID stored by the middleware
func DeploymentID(c *fiber.Ctx) string {
	id, _ := c.Locals(deploymentIDKey).(string)
	return id
}

// RequireDeployment creates middleware that validates the ":id" parameter
func RequireDeployment(allowed []string) fiber.Handler {
	return NewDeploymentMiddleware("id", allowed).Handle()
}
