package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/metrics"
)

// FileStore keeps images under a local directory that the API serves at
// /static/, so BaseURL usually ends with that prefix.
type FileStore struct {
	root    string
	baseURL string
}

func NewFileStore(root, baseURL string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: filesystem path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "/static"
	}
	return &FileStore{root: root, baseURL: baseURL}, nil
}

// Upload writes data under the sanitized name and returns its public URL.
func (s *FileStore) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key, err := s.put(ctx, name, data)
	metrics.ObserveUpload(DriverFilesystem, err)
	if err != nil {
		return "", &domain.StorageError{Op: "upload", Key: name, Err: err}
	}
	return joinURL(s.baseURL, key), nil
}

// put writes through a temp file and a rename so readers never see a
// partially written image.
func (s *FileStore) put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := sanitizeKey(name)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes the object. A missing object reports domain.ErrNotFound.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := sanitizeKey(name)
	if err != nil {
		return &domain.StorageError{Op: "delete", Key: name, Err: err}
	}
	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &domain.StorageError{Op: "delete", Key: key, Err: domain.ErrNotFound}
	case err != nil:
		return &domain.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// sanitizeKey turns a client-supplied name into a slash-separated key that
// stays inside the store root. Every driver keys objects through it.
func sanitizeKey(name string) (string, error) {
	key := strings.Trim(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"), "/")
	if key == "" {
		return "", errors.New("storage: object name is required")
	}
	key = path.Clean(key)
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("storage: invalid object name %q", name)
	}
	return key, nil
}
