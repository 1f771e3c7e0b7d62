package payload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore keeps payloads as files under a base directory.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a LocalStore, creating basePath if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		return nil, errors.New("payload: local store requires a path")
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("payload: create base directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Put writes data through a temp file and rename so readers never see a
// partial payload.
func (s *LocalStore) Put(_ context.Context, id string, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.basePath, ".tmp-"+id+"-*")
	if err != nil {
		return fmt.Errorf("payload: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("payload: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("payload: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.basePath, id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("payload: rename temp file: %w", err)
	}
	return nil
}

// Get returns ErrNotFound for unknown IDs.
func (s *LocalStore) Get(_ context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payload: read file: %w", err)
	}
	return data, nil
}

// Delete is idempotent.
func (s *LocalStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.basePath, id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("payload: remove file: %w", err)
	}
	return nil
}
