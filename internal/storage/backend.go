package storage

import (
	"context"
	"fmt"

	"github.com/your-org/fdclock/internal/config"
)

// OpenBackend builds the backend selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileBackend(cfg.Dir)
	case "postgres":
		return NewPostgresBackend(ctx, cfg.Database)
	case "minio":
		return NewMinIOBackend(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
