// Package storage is the object-store collaborator: put, copy, delete, each
// independently retryable and idempotent at the path level.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ObjectInfo describes one stored object, as returned by List.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is the only interface the pipeline depends on. Swap the
// implementation in main — staging, promotion and cleanup never change.
type Store interface {
	// Put writes data at path and returns the public URL.
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	// Copy duplicates src to dst. Copying onto an existing dst overwrites it.
	Copy(ctx context.Context, src, dst string) error
	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
	// Exists reports whether path currently holds an object.
	Exists(ctx context.Context, path string) (bool, error)
	// List returns every object under the prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// URL returns the public URL for a stored path.
	URL(path string) string
}

// LocalStore keeps objects on the local filesystem, for dev and tests.
type LocalStore struct {
	Root    string
	BaseURL string
}

func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure storage root: %w", err)
	}
	return &LocalStore{Root: root, BaseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *LocalStore) abs(path string) string {
	return filepath.Join(s.Root, filepath.FromSlash(path))
}

func (s *LocalStore) Put(_ context.Context, path string, data []byte, _ string) (string, error) {
	dst := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("ensure dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write object %s: %w", path, err)
	}
	return s.URL(path), nil
}

func (s *LocalStore) Copy(_ context.Context, src, dst string) error {
	data, err := os.ReadFile(s.abs(src))
	if err != nil {
		return fmt.Errorf("read source %s: %w", src, err)
	}
	out := s.abs(dst)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write copy %s: %w", dst, err)
	}
	return nil
}

func (s *LocalStore) Delete(_ context.Context, path string) error {
	if err := os.Remove(s.abs(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

func (s *LocalStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", path, err)
}

func (s *LocalStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	root := s.abs(prefix)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

func (s *LocalStore) URL(path string) string {
	return s.BaseURL + "/objects/" + path
}
