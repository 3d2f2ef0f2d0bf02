//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/fdclock/internal/config"
)

func setupPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		Name:     "testdb",
		User:     "test",
		Password: "test",
		MaxConns: 4,
	}
}

func openPostgres(cfg config.DatabaseConfig) func(t *testing.T) Backend {
	return func(t *testing.T) Backend {
		b, err := NewPostgresBackend(context.Background(), cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}
}

func TestPostgresBackend(t *testing.T) {
	cfg := setupPostgres(t)
	open := openPostgres(cfg)

	t.Run("RoundTrip", func(t *testing.T) {
		assertBackendRoundTrip(t, open(t), open)
	})
	t.Run("StoreRoundTrip", func(t *testing.T) {
		assertStoreRoundTrip(t, open(t), open)
	})
	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, open(t).Ping(context.Background()))
	})
}
