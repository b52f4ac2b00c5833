// Package testutil starts throwaway backing services for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RequireDocker skips t in -short mode, where container tests do not run
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
}

// StartPostgres starts PostgreSQL and returns its connection URL. The
// container is terminated when t finishes.
func StartPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	terminateOnCleanup(t, pgContainer)

	host, port := endpoint(ctx, t, pgContainer, "5432/tcp")
	return fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port)
}

// StartRedis starts Redis and returns its redis:// URL
func StartRedis(ctx context.Context, t *testing.T) string {
	t.Helper()

	redisContainer, err := redis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
		redis.WithLogLevel(redis.LogLevelDebug),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	terminateOnCleanup(t, redisContainer)

	host, port := endpoint(ctx, t, redisContainer, "6379/tcp")
	return fmt.Sprintf("redis://%s:%s", host, port)
}

// StartNATS starts a JetStream-enabled NATS server and returns its URL
func StartNATS(ctx context.Context, t *testing.T) string {
	t.Helper()

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}
	terminateOnCleanup(t, natsContainer)

	host, port := endpoint(ctx, t, natsContainer, "4222/tcp")
	return fmt.Sprintf("nats://%s:%s", host, port)
}

func endpoint(ctx context.Context, t *testing.T, c testcontainers.Container, port nat.Port) (string, string) {
	t.Helper()

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("failed to get mapped port %s: %v", port, err)
	}
	return host, mapped.Port()
}

func terminateOnCleanup(t *testing.T, c testcontainers.Container) {
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
}
