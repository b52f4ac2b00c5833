package sdk

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// Client is the entry point for the Pylon platform API. It resolves
// deployments, hands out KV namespace clients and opens console streams.
// All methods are safe for concurrent use.
//
// Example:
//
//	client, err := sdk.NewClient(sdk.DefaultConfig().
//	    WithBaseURL("https://api.pylon.example.com").
//	    WithToken(token))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ns, _ := client.Namespace("834213", "settings")
//	var theme string
//	found, err := ns.Get(ctx, "theme", &theme)
//
//	stream, _ := client.Stream("834213")
//	stream.OnMessage(func(msg json.RawMessage) { fmt.Println(string(msg)) })
//	err = stream.Connect(ctx)
type Client struct {
	config    *Config
	transport Transport
	closer    func() error
	resolver  *transportResolver
	logger    *logrus.Entry

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a client backed by the default HTTP transport.
// If config is nil, DefaultConfig() is used.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	transport, err := NewHTTPTransport(config)
	if err != nil {
		return nil, err
	}

	c, err := NewClientWithTransport(config, transport)
	if err != nil {
		return nil, err
	}
	c.closer = transport.Close
	return c, nil
}

// NewClientWithTransport creates a client that sends every REST call
// through transport. The config still supplies the logger and observer;
// its BaseURL is not required.
func NewClientWithTransport(config *Config, transport Transport) (*Client, error) {
	if transport == nil {
		return nil, invalidArgument("missing", "transport", nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()

	return &Client{
		config:    config,
		transport: transport,
		resolver:  &transportResolver{transport: transport},
		logger:    config.Logger,
	}, nil
}

// Transport returns the transport the client sends requests through.
func (c *Client) Transport() Transport {
	return c.transport
}

// GetDeployment resolves a deployment, including a fresh WorkbenchURL.
func (c *Client) GetDeployment(ctx context.Context, deploymentID string) (*Deployment, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	return c.resolver.GetDeployment(ctx, deploymentID)
}

// Namespace returns a client for one KV namespace of a deployment.
// No request is made until an operation is called.
func (c *Client) Namespace(deploymentID, namespace string) (*Namespace, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	return NewNamespace(c.transport, deploymentID, namespace)
}

// Namespaces lists the KV namespaces of a deployment with their item counts.
func (c *Client) Namespaces(ctx context.Context, deploymentID string) ([]NamespaceSummary, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	return listNamespaces(ctx, c.transport, deploymentID)
}

// Stream returns a console stream for a deployment. Options default to the
// client's logger and observer. Call Connect on the result to open it.
func (c *Client) Stream(deploymentID string, opts ...StreamOption) (*Stream, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	base := []StreamOption{
		WithStreamLogger(c.logger),
		WithStreamObserver(c.config.Observer),
	}
	return NewStream(c, deploymentID, append(base, opts...)...)
}

// Ping checks that the platform answers for the given deployment.
func (c *Client) Ping(ctx context.Context, deploymentID string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	return c.transport.Do(ctx, http.MethodGet, buildPath("/deployments/{0}", deploymentID), nil, nil)
}

// Close releases the client's resources. Streams created from the client
// keep their sockets but can no longer resolve new ones.
// Close is safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.closer != nil {
		return c.closer()
	}
	return nil
}

// checkClosed checks if the client is closed
func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	return nil
}
