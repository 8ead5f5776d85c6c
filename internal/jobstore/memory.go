package jobstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// MemoryStore is an in-memory implementation of Store. Suitable for
// development and testing. Data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
	hub      *subscriberHub
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*Project),
		hub:      newSubscriberHub(),
	}
}

func (s *MemoryStore) CreateProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		name = "New Project"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	p := &Project{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Jobs:      make(map[string]*types.GenerationJob),
	}
	s.projects[p.ID] = p
	return cloneProject(p), nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return cloneProject(p), nil
}

func (s *MemoryStore) ListProjects(ctx context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) PutJob(ctx context.Context, projectID string, job *types.GenerationJob) error {
	s.mu.Lock()

	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return ErrProjectNotFound
	}

	// Identical state: nothing to persist, nothing to announce.
	if existing, ok := p.Jobs[job.ID]; ok && jobsEqual(existing, job) {
		s.mu.Unlock()
		return nil
	}

	stored := cloneJob(job)
	stored.UpdatedAt = time.Now().UTC()
	p.Jobs[job.ID] = stored
	p.UpdatedAt = stored.UpdatedAt
	s.mu.Unlock()

	s.hub.notify(projectID, stored)
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, projectID, jobID string) (*types.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}
	job, ok := p.Jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, projectID, jobID string) (<-chan *types.GenerationJob, func(), error) {
	// Snapshot read and hub registration happen under the store lock,
	// so a terminal write cannot land between them and leave the
	// subscriber waiting on a notification that already fired.
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, nil, ErrProjectNotFound
	}
	job, ok := p.Jobs[jobID]
	if !ok {
		return nil, nil, ErrJobNotFound
	}

	ch, cleanup := s.hub.subscribe(projectID, jobID, job)
	return ch, cleanup, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// jobsEqual compares two job states by their serialized form, ignoring
// the store-assigned update timestamp.
func jobsEqual(a, b *types.GenerationJob) bool {
	ac, bc := *a, *b
	ac.UpdatedAt, bc.UpdatedAt = time.Time{}, time.Time{}
	aj, err := json.Marshal(&ac)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(&bc)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
