package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/fdclock/internal/config"
	"github.com/your-org/fdclock/internal/models"
)

// MinIOBackend keeps each collection as one JSON object. A PUT replaces the
// object as a whole, so readers see either the previous or the next version.
type MinIOBackend struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinIOBackend(ctx context.Context, cfg config.MinIOConfig) (*MinIOBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	b := &MinIOBackend{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
	if err := b.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// ensureBucket creates the bucket if it doesn't exist.
func (b *MinIOBackend) ensureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (b *MinIOBackend) LoadIdentities(ctx context.Context) ([]models.Identity, error) {
	var out []models.Identity
	if err := b.getJSON(ctx, identitiesFile, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (b *MinIOBackend) SaveIdentities(ctx context.Context, identities []models.Identity) error {
	return b.putJSON(ctx, identitiesFile, nonNil(identities))
}

func (b *MinIOBackend) LoadEvents(ctx context.Context) ([]models.AttendanceEvent, error) {
	var out []models.AttendanceEvent
	if err := b.getJSON(ctx, eventsFile, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (b *MinIOBackend) SaveEvents(ctx context.Context, events []models.AttendanceEvent) error {
	return b.putJSON(ctx, eventsFile, nonNil(events))
}

// Ping checks MinIO connectivity.
func (b *MinIOBackend) Ping(ctx context.Context) error {
	_, err := b.client.BucketExists(ctx, b.bucket)
	return err
}

func (b *MinIOBackend) Close() error { return nil }

func (b *MinIOBackend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func (b *MinIOBackend) putJSON(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	key := b.key(name)
	_, err = b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// getJSON leaves v untouched when the object doesn't exist yet.
func (b *MinIOBackend) getJSON(ctx context.Context, name string, v any) error {
	key := b.key(name)
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("read object %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
