// Package jobstore provides project and generation-job persistence
// with per-job event subscription.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrJobNotFound     = errors.New("job not found")
)

// Project is one project record: metadata plus the full job-id to
// GenerationJob mapping. The record is written as a whole document on
// every mutation; the store serializes writes per project so
// concurrent generations on one project cannot lose updates.
type Project struct {
	ID        string                          `json:"id"`
	Name      string                          `json:"name"`
	CreatedAt time.Time                       `json:"created_at"`
	UpdatedAt time.Time                       `json:"updated_at"`
	Jobs      map[string]*types.GenerationJob `json:"jobs"`
}

// Store defines the interface for project and job persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateProject creates a new project with a generated id.
	CreateProject(ctx context.Context, name string) (*Project, error)

	// GetProject retrieves a project. Returns ErrProjectNotFound if
	// not found.
	GetProject(ctx context.Context, id string) (*Project, error)

	// ListProjects returns all projects, most recently updated first.
	ListProjects(ctx context.Context) ([]*Project, error)

	// PutJob inserts or replaces one job within a project, persisting
	// the whole record. Persisting an identical job state twice is
	// idempotent: the second write leaves the stored record unchanged.
	PutJob(ctx context.Context, projectID string, job *types.GenerationJob) error

	// GetJob retrieves one job. Returns ErrProjectNotFound or
	// ErrJobNotFound.
	GetJob(ctx context.Context, projectID, jobID string) (*types.GenerationJob, error)

	// Subscribe returns a channel receiving each persisted state of one
	// job. The cleanup function must be called when done. The channel
	// is closed after a terminal state is delivered.
	Subscribe(ctx context.Context, projectID, jobID string) (<-chan *types.GenerationJob, func(), error)

	// Close releases any resources.
	Close() error
}

// cloneJob returns a copy safe to hand to callers and subscribers.
func cloneJob(job *types.GenerationJob) *types.GenerationJob {
	c := *job
	return &c
}

// cloneProject deep-copies a project record.
func cloneProject(p *Project) *Project {
	c := *p
	c.Jobs = make(map[string]*types.GenerationJob, len(p.Jobs))
	for id, job := range p.Jobs {
		c.Jobs[id] = cloneJob(job)
	}
	return &c
}
