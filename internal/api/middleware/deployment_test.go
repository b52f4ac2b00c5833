package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(allowed []string) *fiber.App {
	app := fiber.New()
	app.Get("/deployments/:id", RequireDeployment(allowed), func(c *fiber.Ctx) error {
		return c.SendString(DeploymentID(c))
	})
	return app
}

func TestRequireDeployment(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		path    string
		status  int
		body    string
	}{
		{name: "numeric id", path: "/deployments/834213", status: fiber.StatusOK, body: "834213"},
		{name: "non numeric", path: "/deployments/abc", status: fiber.StatusBadRequest},
		{name: "allowed", allowed: []string{"1", "2"}, path: "/deployments/2", status: fiber.StatusOK, body: "2"},
		{name: "not allowed", allowed: []string{"1"}, path: "/deployments/2", status: fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := newApp(tt.allowed).Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.body != "" {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.body, string(body))
				assert.Equal(t, tt.body, resp.Header.Get("X-Deployment-ID"))
			}
		})
	}
}

func TestValidDeploymentID(t *testing.T) {
	assert.True(t, ValidDeploymentID("0"))
	assert.True(t, ValidDeploymentID("834213"))
	assert.False(t, ValidDeploymentID(""))
	assert.False(t, ValidDeploymentID("12a"))
	assert.False(t, ValidDeploymentID("-1"))
	assert.False(t, ValidDeploymentID("123456789012345678901234567890123"))
}
