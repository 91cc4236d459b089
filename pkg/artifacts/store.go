// Package artifacts stores exported evidence packs in a configurable sink:
// local filesystem, S3-compatible object storage, or GCS.
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// PackStore persists an evidence pack and returns its location.
type PackStore interface {
	// Store writes data under name and returns a location string an
	// operator can resolve (path or object URL).
	Store(ctx context.Context, name string, data []byte) (string, error)
}

// FSStore writes packs into a local directory.
type FSStore struct {
	dir string
}

// NewFSStore ensures dir exists and returns the store.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("artifacts: create dir %q: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("artifacts: write %q: %w", path, err)
	}
	return path, nil
}

var _ PackStore = (*FSStore)(nil)
