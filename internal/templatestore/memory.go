package templatestore

import (
	"context"
	"sort"
	"sync"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// MemoryStore implements Store using in-memory storage. Suitable for
// testing and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*types.WorkflowTemplate
}

// NewMemoryStore creates a new in-memory template store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[string]*types.WorkflowTemplate)}
}

func (s *MemoryStore) Get(ctx context.Context, name string) (*types.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, ok := s.templates[name]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return &types.WorkflowTemplate{Name: tmpl.Name, Data: tmpl.Data.Clone(), Map: tmpl.Map}, nil
}

func (s *MemoryStore) Put(ctx context.Context, tmpl *types.WorkflowTemplate) error {
	if err := Validate(tmpl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.templates[tmpl.Name] = &types.WorkflowTemplate{Name: tmpl.Name, Data: tmpl.Data.Clone(), Map: tmpl.Map}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*types.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.WorkflowTemplate, 0, len(s.templates))
	for _, tmpl := range s.templates {
		out = append(out, &types.WorkflowTemplate{Name: tmpl.Name, Data: tmpl.Data.Clone(), Map: tmpl.Map})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[name]; !ok {
		return ErrTemplateNotFound
	}
	delete(s.templates, name)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
