package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid blob path")
	ErrNotFound    = errors.New("blob not found")
)

// FSStore keeps blobs on local disk under a root directory and addresses
// them with URLs under a base URL.
type FSStore struct {
	rootDir string
	baseURL string
}

// NewFSStore validates the root directory and returns a store. The directory
// is created when absent.
func NewFSStore(rootDir string, baseURL string) (*FSStore, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, fmt.Errorf("%w: empty root directory", ErrInvalidPath)
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{
		rootDir: rootDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Save writes data at the given relative path and returns its URL.
func (store *FSStore) Save(ctx context.Context, data []byte, path string) (string, error) {
	localPath, err := store.localPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return store.baseURL + "/" + strings.TrimPrefix(path, "/"), nil
}

// Load reads the blob addressed by a URL previously returned from Save.
func (store *FSStore) Load(ctx context.Context, url string) ([]byte, error) {
	localPath, err := store.localPath(store.relativePath(url))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob addressed by a URL. Deleting an absent blob is
// not an error.
func (store *FSStore) Delete(ctx context.Context, url string) error {
	localPath, err := store.localPath(store.relativePath(url))
	if err != nil {
		return err
	}
	if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (store *FSStore) relativePath(url string) string {
	trimmed := strings.TrimPrefix(url, store.baseURL)
	return strings.TrimPrefix(trimmed, "/")
}

// localPath resolves a relative blob path and rejects traversal outside the
// root directory.
func (store *FSStore) localPath(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	if cleaned == "/" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return filepath.Join(store.rootDir, cleaned), nil
}
