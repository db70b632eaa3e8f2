// Package storage persists canonical spec documents relative to a repository
// root and records merge runs in NATS KV.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store reads and writes documents addressed by slash-separated,
// repo-relative paths.
type Store interface {
	Read(ctx context.Context, rel string) ([]byte, error)
	Write(ctx context.Context, rel string, data []byte) error
	Exists(ctx context.Context, rel string) (bool, error)
}

// FileStore is a Store backed by the local filesystem.
type FileStore struct {
	root string
}

// NewFileStore creates a file store rooted at repoRoot.
func NewFileStore(repoRoot string) *FileStore {
	return &FileStore{root: repoRoot}
}

// Root returns the repository root.
func (s *FileStore) Root() string {
	return s.root
}

// ClimbsOut reports whether the slash-separated path rel leaves its base
// directory once cleaned. Dots inside a segment, as in "v1..2.md", are fine.
func ClimbsOut(rel string) bool {
	clean := path.Clean(filepath.ToSlash(rel))
	return clean == ".." || strings.HasPrefix(clean, "../")
}

// Resolve validates rel and returns its absolute path, ensuring it stays
// within the repository root.
func (s *FileStore) Resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || ClimbsOut(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}

	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("resolve repo root: %w", err)
	}

	absPath := filepath.Clean(filepath.Join(absRoot, filepath.FromSlash(rel)))
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}

	return absPath, nil
}

// Read returns the content of rel, or ErrNotFound.
func (s *FileStore) Read(_ context.Context, rel string) ([]byte, error) {
	fullPath, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// Write replaces the content of rel, creating parent directories as needed.
func (s *FileStore) Write(_ context.Context, rel string, data []byte) error {
	fullPath, err := s.Resolve(rel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether rel names an existing regular file.
func (s *FileStore) Exists(_ context.Context, rel string) (bool, error) {
	fullPath, err := s.Resolve(rel)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}
	return !info.IsDir(), nil
}
