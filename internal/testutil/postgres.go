//go:build integration

// Package testutil starts throwaway backing services for integration tests.
// Every container is terminated when the test that started it ends.
package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// SetupPostgres starts PostgreSQL and returns a connection string for the
// purr_test database.
func SetupPostgres(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("purr_test"),
		postgres.WithUsername("purr"),
		postgres.WithPassword("purr"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	terminateOnCleanup(t, "postgres", container)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	return connStr
}

func terminateOnCleanup(t testing.TB, name string, c testcontainers.Container) {
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("terminate %s: %v", name, err)
		}
	})
}
