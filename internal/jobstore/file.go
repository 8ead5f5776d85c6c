package jobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// FileStore persists each project as one JSON document at
// <dir>/<projectID>/project.json, written whole on every mutation.
// Writes are serialized per project: the read-modify-write of the full
// document is not atomic, so one mutation per project is in flight at
// a time.
type FileStore struct {
	dir    string
	hub    *subscriberHub
	logger *slog.Logger

	// locksMu guards the lock map only; each project's operations run
	// under that project's own mutex.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store
// over it.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		hub:    newSubscriberHub(),
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// ProjectDir returns the directory holding a project's document and
// artifacts.
func (s *FileStore) ProjectDir(projectID string) string {
	return filepath.Join(s.dir, projectID)
}

func (s *FileStore) docPath(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), "project.json")
}

func (s *FileStore) projectLock(projectID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu, ok := s.locks[projectID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[projectID] = mu
	}
	return mu
}

func (s *FileStore) readDoc(projectID string) (*Project, []byte, error) {
	raw, err := os.ReadFile(s.docPath(projectID))
	if os.IsNotExist(err) {
		return nil, nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read project %s: %w", projectID, err)
	}

	var p Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("parse project %s: %w", projectID, err)
	}
	if p.Jobs == nil {
		p.Jobs = make(map[string]*types.GenerationJob)
	}
	return &p, raw, nil
}

func (s *FileStore) writeDoc(p *Project) ([]byte, error) {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode project %s: %w", p.ID, err)
	}
	if err := os.MkdirAll(s.ProjectDir(p.ID), 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	if err := os.WriteFile(s.docPath(p.ID), raw, 0o644); err != nil {
		return nil, fmt.Errorf("write project %s: %w", p.ID, err)
	}
	return raw, nil
}

func (s *FileStore) CreateProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		name = "New Project"
	}

	now := time.Now().UTC()
	p := &Project{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Jobs:      make(map[string]*types.GenerationJob),
	}

	mu := s.projectLock(p.ID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.writeDoc(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *FileStore) GetProject(ctx context.Context, id string) (*Project, error) {
	mu := s.projectLock(id)
	mu.Lock()
	defer mu.Unlock()

	p, _, err := s.readDoc(id)
	return p, err
}

func (s *FileStore) ListProjects(ctx context.Context) ([]*Project, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	var out []*Project
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p, err := s.GetProject(ctx, e.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable project", slog.String("id", e.Name()), "error", err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *FileStore) PutJob(ctx context.Context, projectID string, job *types.GenerationJob) error {
	mu := s.projectLock(projectID)
	mu.Lock()

	p, prev, err := s.readDoc(projectID)
	if err != nil {
		mu.Unlock()
		return err
	}

	if existing, ok := p.Jobs[job.ID]; ok && jobsEqual(existing, job) {
		mu.Unlock()
		return nil
	}

	stored := cloneJob(job)
	stored.UpdatedAt = time.Now().UTC()
	p.Jobs[job.ID] = stored
	p.UpdatedAt = stored.UpdatedAt

	next, err := s.writeDoc(p)
	if err != nil {
		mu.Unlock()
		return err
	}
	mu.Unlock()

	if !bytes.Equal(prev, next) {
		s.hub.notify(projectID, stored)
	}
	return nil
}

func (s *FileStore) GetJob(ctx context.Context, projectID, jobID string) (*types.GenerationJob, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	job, ok := p.Jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *FileStore) Subscribe(ctx context.Context, projectID, jobID string) (<-chan *types.GenerationJob, func(), error) {
	// Snapshot read and hub registration happen under the project
	// lock, so a terminal write cannot land between them and leave
	// the subscriber waiting on a notification that already fired.
	mu := s.projectLock(projectID)
	mu.Lock()
	defer mu.Unlock()

	p, _, err := s.readDoc(projectID)
	if err != nil {
		return nil, nil, err
	}
	job, ok := p.Jobs[jobID]
	if !ok {
		return nil, nil, ErrJobNotFound
	}

	ch, cleanup := s.hub.subscribe(projectID, jobID, job)
	return ch, cleanup, nil
}

func (s *FileStore) Close() error {
	return nil
}
