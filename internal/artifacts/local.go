package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes artifacts under <dir>/<projectID>/<name>, next to
// the project's job document.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// cleanSegment rejects values that would escape the store root when
// joined into a path or object key.
func cleanSegment(kind, v string) (string, error) {
	if v == "" || v == "." || v == ".." ||
		strings.Contains(v, "/") || strings.Contains(v, "\\") || v != filepath.Base(v) {
		return "", fmt.Errorf("invalid %s %q", kind, v)
	}
	return v, nil
}

func clean(projectID, name string) (string, string, error) {
	projectID, err := cleanSegment("project id", projectID)
	if err != nil {
		return "", "", err
	}
	name, err = cleanSegment("artifact name", name)
	if err != nil {
		return "", "", err
	}
	return projectID, name, nil
}

func (s *LocalStore) Save(ctx context.Context, projectID, name string, data []byte) error {
	projectID, name, err := clean(projectID, name)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.dir, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) Open(ctx context.Context, projectID, name string) ([]byte, error) {
	projectID, name, err := clean(projectID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, projectID, name))
	if os.IsNotExist(err) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}
