package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/your-org/fdclock/internal/models"
)

const (
	identitiesFile = "identities.json"
	eventsFile     = "events.json"
)

// FileBackend keeps each collection as a JSON array in its own file.
// Writes go to a temp file in the same directory, are fsynced and then
// renamed over the previous file, so a crash leaves either the old or the
// new collection on disk.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) LoadIdentities(ctx context.Context) ([]models.Identity, error) {
	var out []models.Identity
	if err := b.load(identitiesFile, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (b *FileBackend) SaveIdentities(ctx context.Context, identities []models.Identity) error {
	return b.save(identitiesFile, nonNil(identities))
}

func (b *FileBackend) LoadEvents(ctx context.Context) ([]models.AttendanceEvent, error) {
	var out []models.AttendanceEvent
	if err := b.load(eventsFile, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (b *FileBackend) SaveEvents(ctx context.Context, events []models.AttendanceEvent) error {
	return b.save(eventsFile, nonNil(events))
}

// Ping checks that the data directory is still there.
func (b *FileBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", b.dir)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) load(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	f, err := os.CreateTemp(b.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(b.dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// nonNil makes empty collections encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
