// Package orchestrator drives generation jobs end to end: template
// resolution, graph rewriting, submission to the backend, progress
// tracking, and artifact persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/comfystudio/orchestrator/internal/artifacts"
	"github.com/comfystudio/orchestrator/internal/comfy"
	"github.com/comfystudio/orchestrator/internal/jobstore"
	"github.com/comfystudio/orchestrator/internal/metrics"
	"github.com/comfystudio/orchestrator/internal/rewrite"
	"github.com/comfystudio/orchestrator/internal/templatestore"
	"github.com/comfystudio/orchestrator/pkg/types"
)

// DefaultTrackTimeout bounds how long a job may run without the
// backend reporting completion.
const DefaultTrackTimeout = 600 * time.Second

// Engine is the subset of the backend client the orchestrator needs.
type Engine interface {
	QueuePrompt(ctx context.Context, graph types.Graph) (string, error)
	History(ctx context.Context, promptID string) (*comfy.HistoryEntry, error)
	FetchArtifact(ctx context.Context, ref *comfy.ArtifactRef) ([]byte, error)
}

// ProgressTracker follows one submitted prompt to a terminal outcome.
type ProgressTracker interface {
	Track(ctx context.Context, promptID string, onProgress func(float64), timeout time.Duration) comfy.Outcome
}

// Orchestrator runs generation jobs. One call to Run handles one job;
// callers typically invoke it on its own goroutine.
type Orchestrator struct {
	engine    Engine
	tracker   ProgressTracker
	templates templatestore.Store
	jobs      jobstore.Store
	artifacts artifacts.Store
	timeout   time.Duration
	logger    *slog.Logger
}

// Config holds the orchestrator's collaborators.
type Config struct {
	Engine    Engine
	Tracker   ProgressTracker
	Templates templatestore.Store
	Jobs      jobstore.Store
	Artifacts artifacts.Store

	// TrackTimeout bounds progress tracking per job. Zero means
	// DefaultTrackTimeout.
	TrackTimeout time.Duration

	Logger *slog.Logger
}

// New creates an orchestrator.
func New(cfg *Config) *Orchestrator {
	timeout := cfg.TrackTimeout
	if timeout <= 0 {
		timeout = DefaultTrackTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine:    cfg.Engine,
		tracker:   cfg.Tracker,
		templates: cfg.Templates,
		jobs:      cfg.Jobs,
		artifacts: cfg.Artifacts,
		timeout:   timeout,
		logger:    logger,
	}
}

// Run executes one generation job to a terminal status. The job must
// already be persisted in pending state; every state change Run makes
// is persisted immediately, and every failure becomes a terminal
// error status on the job rather than a returned error.
func (o *Orchestrator) Run(ctx context.Context, projectID string, job *types.GenerationJob) {
	start := time.Now()
	metrics.JobsActive.Inc()
	defer func() {
		metrics.JobsActive.Dec()
		metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
		metrics.JobDuration.WithLabelValues(string(job.Status)).Observe(time.Since(start).Seconds())
	}()

	logger := o.logger.With("project_id", projectID, "job_id", job.ID, "workflow", job.Params.Workflow)

	tmpl, err := o.templates.Get(ctx, job.Params.Workflow)
	if err != nil {
		if errors.Is(err, templatestore.ErrTemplateNotFound) {
			o.fail(ctx, logger, projectID, job, fmt.Sprintf("unknown workflow template %q", job.Params.Workflow))
		} else {
			o.fail(ctx, logger, projectID, job, fmt.Sprintf("load template: %v", err))
		}
		return
	}

	graph, err := rewrite.Apply(tmpl, &job.Params)
	if err != nil {
		o.fail(ctx, logger, projectID, job, fmt.Sprintf("rewrite workflow: %v", err))
		return
	}

	promptID, err := o.engine.QueuePrompt(ctx, graph)
	if err != nil {
		o.fail(ctx, logger, projectID, job, fmt.Sprintf("submit workflow: %v", err))
		return
	}

	job.PromptID = promptID
	job.Status = types.JobStatusGenerating
	o.persist(ctx, logger, projectID, job)
	logger.Info("job submitted", "prompt_id", promptID)

	// The backend answers instantly from its result cache when it has
	// already executed an identical graph. Checking history right
	// after submission avoids waiting on a push channel that will
	// never emit for this prompt.
	entry, err := o.engine.History(ctx, promptID)
	if err != nil {
		logger.Warn("early history check failed", "error", err)
	}
	if entry != nil {
		logger.Info("job served from backend cache", "prompt_id", promptID)
		o.finish(ctx, logger, projectID, job, tmpl, entry)
		return
	}

	onProgress := func(f float64) {
		metrics.ProgressEventsTotal.WithLabelValues("progress").Inc()
		job.Progress = f
		o.persist(ctx, logger, projectID, job)
	}

	outcome := o.tracker.Track(ctx, promptID, onProgress, o.timeout)
	metrics.TrackOutcomes.WithLabelValues(outcome.String()).Inc()
	switch outcome {
	case comfy.Completed:
	case comfy.TimedOut:
		o.fail(ctx, logger, projectID, job, fmt.Sprintf("timed out after %s waiting for completion", o.timeout))
		return
	default:
		o.fail(ctx, logger, projectID, job, "lost connection to generation backend")
		return
	}

	entry, err = o.engine.History(ctx, promptID)
	if err != nil {
		o.fail(ctx, logger, projectID, job, fmt.Sprintf("fetch history: %v", err))
		return
	}
	if entry == nil {
		o.fail(ctx, logger, projectID, job, "completed but no history record found")
		return
	}

	o.finish(ctx, logger, projectID, job, tmpl, entry)
}

// finish resolves the output artifact from a terminal history entry,
// stores it, and marks the job completed.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, projectID string, job *types.GenerationJob, tmpl *types.WorkflowTemplate, entry *comfy.HistoryEntry) {
	ref, err := comfy.ResolveOutput(entry, tmpl.Map.Node(types.RoleSave))
	if err != nil {
		o.fail(ctx, logger, projectID, job, "completed but no artifact was produced")
		return
	}

	data, err := o.engine.FetchArtifact(ctx, ref)
	if err != nil {
		o.fail(ctx, logger, projectID, job, fmt.Sprintf("fetch artifact: %v", err))
		return
	}
	metrics.ArtifactBytes.Observe(float64(len(data)))

	name := job.ID + ref.Ext()
	if err := o.artifacts.Save(ctx, projectID, name, data); err != nil {
		o.fail(ctx, logger, projectID, job, fmt.Sprintf("save artifact: %v", err))
		return
	}

	job.Artifact = name
	job.Progress = 1.0
	job.Status = types.JobStatusCompleted
	o.persist(ctx, logger, projectID, job)
	logger.Info("job completed", "artifact", name, "bytes", len(data))
}

// fail marks the job terminally failed and persists it.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, projectID string, job *types.GenerationJob, msg string) {
	job.Status = types.JobStatusError
	job.Error = msg
	o.persist(ctx, logger, projectID, job)
	logger.Error("job failed", "error", msg)
}

// persist writes the job's current state. Store failures are logged
// rather than propagated; the in-memory job keeps progressing and the
// next state change retries the write.
func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, projectID string, job *types.GenerationJob) {
	if err := o.jobs.PutJob(ctx, projectID, job); err != nil {
		logger.Error("persist job state", "error", err, "status", job.Status)
	}
}
