//go:build integration

package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startGeneric(t testing.TB, name string, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	container, err := testcontainers.GenericContainer(context.Background(), testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	terminateOnCleanup(t, name, container)
	return container
}

// SetupRedis starts Redis and returns its host:port address.
func SetupRedis(t testing.TB) string {
	t.Helper()
	container := startGeneric(t, "redis", testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})

	addr, err := container.Endpoint(context.Background(), "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return addr
}

// SetupDynamoDB starts DynamoDB Local and returns its http endpoint URL.
func SetupDynamoDB(t testing.TB) string {
	t.Helper()
	container := startGeneric(t, "dynamodb", testcontainers.ContainerRequest{
		Image:        "amazon/dynamodb-local:latest",
		ExposedPorts: []string{"8000/tcp"},
		WaitingFor:   wait.ForListeningPort("8000/tcp"),
	})

	url, err := container.PortEndpoint(context.Background(), "8000/tcp", "http")
	if err != nil {
		t.Fatalf("dynamodb endpoint: %v", err)
	}
	return url
}
