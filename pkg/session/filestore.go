// Package session persists authenticated browser sessions and restores them
// for later runs.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/sessionpilot/pkg/types"
)

var (
	// ErrNotFound is returned when a session is missing or expired.
	ErrNotFound = errors.New("session: not found")

	// ErrCorrupt is returned when a session blob cannot be decoded.
	ErrCorrupt = errors.New("session: corrupt session blob")
)

// FileStore keeps one JSON blob per session under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory when needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("session: init directory %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("session: abs dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

// Dir returns the absolute blob directory.
func (fs *FileStore) Dir() string { return fs.dir }

// PathFor returns the blob path of a session id.
func (fs *FileStore) PathFor(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("session: invalid session id (empty)")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", fmt.Errorf("session: invalid session id %q (contains path separator)", id)
	}
	resolved := filepath.Join(fs.dir, id+".json")
	if !strings.HasPrefix(resolved, fs.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("session: path traversal detected for id %q", id)
	}
	return resolved, nil
}

// Write stores s atomically, replacing any previous blob of the same id.
// It sets s.StoragePath.
func (fs *FileStore) Write(_ context.Context, s *types.Session) (string, error) {
	path, err := fs.PathFor(s.ID)
	if err != nil {
		return "", err
	}
	s.StoragePath = path

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return "", fmt.Errorf("session: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("session: atomic rename %s: %w", path, err)
	}
	return path, nil
}

// Read loads the blob of id. Expiry is not checked here.
func (fs *FileStore) Read(ctx context.Context, id string) (*types.Session, error) {
	path, err := fs.PathFor(id)
	if err != nil {
		return nil, err
	}
	return fs.ReadPath(ctx, path)
}

// ReadPath loads a blob from an explicit path.
func (fs *FileStore) ReadPath(_ context.Context, path string) (*types.Session, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	var s types.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if s.StoragePath == "" {
		s.StoragePath = path
	}
	return &s, nil
}

// List returns every decodable blob. Corrupt files are skipped.
func (fs *FileStore) List(ctx context.Context) ([]*types.Session, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("session: list %s: %w", fs.dir, err)
	}
	var out []*types.Session
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(fs.dir, e.Name())
		s, err := fs.ReadPath(ctx, path)
		if err != nil {
			slog.Debug("session: skipping unreadable session file", "path", path, "err", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Delete removes the blob of id. A missing blob is not an error.
func (fs *FileStore) Delete(_ context.Context, id string) error {
	path, err := fs.PathFor(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: delete %s: %w", path, err)
	}
	return nil
}
