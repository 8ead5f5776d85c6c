package templatestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// document is the persisted template format: the graph under "data"
// and the field map under "map".
type document struct {
	Data types.Graph    `json:"data"`
	Map  types.FieldMap `json:"map"`
}

// FileStore persists each template as one JSON document in a
// directory, named "<template>.json".
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewFileStore creates the directory if needed and returns a store
// over it.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create template dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Get(ctx context.Context, name string) (*types.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(name)
}

// read loads one template document. Callers hold the lock.
func (s *FileStore) read(name string) (*types.WorkflowTemplate, error) {
	raw, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	if doc.Data == nil {
		// A legacy bare-graph document: readable only after Migrate.
		return nil, fmt.Errorf("template %s is a legacy document, run migration", name)
	}
	if doc.Map == nil {
		doc.Map = types.FieldMap{}
	}
	return &types.WorkflowTemplate{Name: name, Data: doc.Data, Map: doc.Map}, nil
}

func (s *FileStore) Put(ctx context.Context, tmpl *types.WorkflowTemplate) error {
	if err := Validate(tmpl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(&document{Data: tmpl.Data, Map: tmpl.Map}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode template %s: %w", tmpl.Name, err)
	}
	if err := os.WriteFile(s.path(tmpl.Name), raw, 0o644); err != nil {
		return fmt.Errorf("write template %s: %w", tmpl.Name, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]*types.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	var out []*types.WorkflowTemplate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		tmpl, err := s.read(name)
		if err != nil {
			s.logger.Warn("skipping unreadable template", slog.String("name", name), "error", err)
			continue
		}
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return ErrTemplateNotFound
	}
	return err
}

func (s *FileStore) Close() error {
	return nil
}
