//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/fdclock/internal/config"
)

func setupMinIO(t *testing.T) config.MinIOConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort("9000/tcp").
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
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return config.MinIOConfig{
		Endpoint:  fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "fdclock-test",
		Prefix:    "kiosk-1",
	}
}

func openMinIO(cfg config.MinIOConfig) func(t *testing.T) Backend {
	return func(t *testing.T) Backend {
		b, err := NewMinIOBackend(context.Background(), cfg)
		require.NoError(t, err)
		return b
	}
}

func TestMinIOBackend(t *testing.T) {
	cfg := setupMinIO(t)
	open := openMinIO(cfg)

	t.Run("MissingObjectsLoadEmpty", func(t *testing.T) {
		b := open(t)
		ids, err := b.LoadIdentities(context.Background())
		require.NoError(t, err)
		require.Empty(t, ids)
		evs, err := b.LoadEvents(context.Background())
		require.NoError(t, err)
		require.Empty(t, evs)
	})
	t.Run("RoundTrip", func(t *testing.T) {
		assertBackendRoundTrip(t, open(t), open)
	})
	t.Run("StoreRoundTrip", func(t *testing.T) {
		assertStoreRoundTrip(t, open(t), open)
	})
}
