package sdk

import (
	"context"
	"encoding/json"
	"net/http"
)

// Deployment describes a hosted script instance on the platform.
//
// WorkbenchURL is a short-lived socket endpoint for the deployment's
// console stream; it is issued per lookup and is only valid until the
// platform closes the socket, so it must be resolved before every connect.
type Deployment struct {
	ID           string          `json:"id"`
	BotID        string          `json:"bot_id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Type         int             `json:"type,omitempty"`
	Status       int             `json:"status,omitempty"`
	Revision     int             `json:"revision,omitempty"`
	Disabled     bool            `json:"disabled,omitempty"`
	WorkbenchURL string          `json:"workbench_url"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// DeploymentResolver looks up a deployment by ID.
// *Client implements it against GET /deployments/{id}.
type DeploymentResolver interface {
	GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error)
}

// DeploymentResolverFunc adapts a function to the DeploymentResolver interface.
type DeploymentResolverFunc func(ctx context.Context, deploymentID string) (*Deployment, error)

// GetDeployment calls f
func (f DeploymentResolverFunc) GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error) {
	return f(ctx, deploymentID)
}

// transportResolver resolves deployments through any Transport
type transportResolver struct {
	transport Transport
}

// GetDeployment fetches /deployments/{id} and checks the socket URL is present
func (r *transportResolver) GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error) {
	if deploymentID == "" {
		return nil, invalidArgument("missing", "deploymentID", nil)
	}

	var deployment Deployment
	if err := r.transport.Do(ctx, http.MethodGet, buildPath("/deployments/{0}", deploymentID), nil, &deployment); err != nil {
		return nil, err
	}
	if deployment.WorkbenchURL == "" {
		return nil, newProtocolError("workbench_url", "deployment has no workbench_url", deployment).ToError()
	}
	if deployment.ID == "" {
		deployment.ID = deploymentID
	}
	return &deployment, nil
}
