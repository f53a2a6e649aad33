// Package localfs implements the object store port on the local filesystem.
// Artifact content is laid out under a root directory using the storage path
// recorded in the artifact row.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/ChainForge/internal/domain"
)

// Store writes artifact content under a single root directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a Store.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// resolve maps a key to an absolute path, rejecting traversal outside root.
func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	abs := filepath.Join(s.root, clean)
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q: %w", key, domain.ErrValidation)
	}
	return abs, nil
}

// Put writes content and returns the storage path relative to the root.
func (s *Store) Put(_ context.Context, key string, content []byte) (string, error) {
	abs, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", key, err)
	}

	// Write to a temp file and rename so readers never see partial content.
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", key, err)
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", key, err)
	}

	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", key, err)
	}
	return filepath.ToSlash(rel), nil
}

// Get reads content by storage path.
func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Delete removes content. Deleting a missing path is not an error.
func (s *Store) Delete(_ context.Context, path string) error {
	abs, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
