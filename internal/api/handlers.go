package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/comfystudio/orchestrator/internal/artifacts"
	"github.com/comfystudio/orchestrator/internal/config"
	"github.com/comfystudio/orchestrator/internal/jobstore"
	"github.com/comfystudio/orchestrator/internal/orchestrator"
	"github.com/comfystudio/orchestrator/internal/templatestore"
	"github.com/comfystudio/orchestrator/internal/validator"
	"github.com/comfystudio/orchestrator/pkg/types"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	templates templatestore.Store
	jobs      jobstore.Store
	artifacts artifacts.Store
	orch      *orchestrator.Orchestrator
	validator *validator.Validator
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(templates templatestore.Store, jobs jobstore.Store, arts artifacts.Store, orch *orchestrator.Orchestrator, v *validator.Validator, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		templates: templates,
		jobs:      jobs,
		artifacts: arts,
		orch:      orch,
		validator: v,
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := h.jobs.ListProjects(ctx); err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "job store unhealthy", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// --- Project Management ---

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// CreateProject handles POST /api/v1/projects
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "project name required", errors.New("empty name"))
		return
	}

	project, err := h.jobs.CreateProject(ctx, req.Name)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to create project", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, project)
}

// ListProjects handles GET /api/v1/projects
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projects, err := h.jobs.ListProjects(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list projects", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// GetProject handles GET /api/v1/projects/{id}
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := mux.Vars(r)["id"]

	project, err := h.jobs.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, jobstore.ErrProjectNotFound) {
			h.respondError(w, http.StatusNotFound, "project not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get project", err)
		return
	}

	h.respondJSON(w, http.StatusOK, project)
}

// --- Generation ---

// GenerateRequest is the request body for starting a generation job.
type GenerateRequest struct {
	types.GenerationParams
	ParentID string `json:"parent_id,omitempty"`
}

// GenerateResponse is returned after a job is accepted.
type GenerateResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	SSEURL string `json:"sse_url"`
}

// Generate handles POST /api/v1/projects/{id}/generate
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := mux.Vars(r)["id"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if h.validator != nil {
		if result := h.validator.ValidateGenerateJSON(body); !result.Valid {
			h.respondJSON(w, http.StatusBadRequest, result)
			return
		}
	}

	var req GenerateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if _, err := h.jobs.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, jobstore.ErrProjectNotFound) {
			h.respondError(w, http.StatusNotFound, "project not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get project", err)
		return
	}

	job := &types.GenerationJob{
		ID:        uuid.New().String(),
		ParentID:  req.ParentID,
		Params:    req.GenerationParams,
		Status:    types.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.jobs.PutJob(ctx, projectID, job); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to persist job", err)
		return
	}

	// The job runs on its own goroutine, detached from the request
	// context; clients follow progress over SSE.
	go h.orch.Run(context.WithoutCancel(ctx), projectID, job)

	h.respondJSON(w, http.StatusAccepted, GenerateResponse{
		JobID:  job.ID,
		Status: string(job.Status),
		SSEURL: "/api/v1/projects/" + projectID + "/jobs/" + job.ID + "/events",
	})
}

// ListJobs handles GET /api/v1/projects/{id}/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := mux.Vars(r)["id"]

	project, err := h.jobs.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, jobstore.ErrProjectNotFound) {
			h.respondError(w, http.StatusNotFound, "project not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get project", err)
		return
	}

	jobs := make([]*types.GenerationJob, 0, len(project.Jobs))
	for _, job := range project.Jobs {
		jobs = append(jobs, job)
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// GetJob handles GET /api/v1/projects/{id}/jobs/{jobID}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	job, err := h.jobs.GetJob(ctx, vars["id"], vars["jobID"])
	if err != nil {
		if errors.Is(err, jobstore.ErrProjectNotFound) || errors.Is(err, jobstore.ErrJobNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get job", err)
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// --- Artifacts ---

// GetArtifact handles GET /api/v1/projects/{id}/artifacts/{filename}
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	data, err := h.artifacts.Open(ctx, vars["id"], vars["filename"])
	if err != nil {
		if errors.Is(err, artifacts.ErrArtifactNotFound) {
			h.respondError(w, http.StatusNotFound, "artifact not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to read artifact", err)
		return
	}

	w.Header().Set("Content-Type", artifactContentType(vars["filename"]))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- Templates ---

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	templates, err := h.templates.List(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list templates", err)
		return
	}

	// Template graphs can be large; the listing returns names and
	// role bindings only.
	summaries := make([]map[string]interface{}, 0, len(templates))
	for _, tmpl := range templates {
		summaries = append(summaries, map[string]interface{}{
			"name":  tmpl.Name,
			"map":   tmpl.Map,
			"nodes": len(tmpl.Data),
		})
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"templates": summaries})
}

// GetTemplate handles GET /api/v1/templates/{name}
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	tmpl, err := h.templates.Get(ctx, name)
	if err != nil {
		if errors.Is(err, templatestore.ErrTemplateNotFound) {
			h.respondError(w, http.StatusNotFound, "template not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get template", err)
		return
	}

	h.respondJSON(w, http.StatusOK, tmpl)
}

// PutTemplate handles PUT /api/v1/templates/{name}
func (h *Handlers) PutTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if h.validator != nil {
		if result := h.validator.ValidateTemplateJSON(body); !result.Valid {
			h.respondJSON(w, http.StatusBadRequest, result)
			return
		}
	}

	var tmpl types.WorkflowTemplate
	if err := json.Unmarshal(body, &tmpl); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	tmpl.Name = name

	if err := h.templates.Put(ctx, &tmpl); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid template", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"name": name, "status": "saved"})
}

// DeleteTemplate handles DELETE /api/v1/templates/{name}
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	if err := h.templates.Delete(ctx, name); err != nil {
		if errors.Is(err, templatestore.ErrTemplateNotFound) {
			h.respondError(w, http.StatusNotFound, "template not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to delete template", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MigrateTemplates handles POST /api/v1/templates/migrate
func (h *Handlers) MigrateTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fs, ok := h.templates.(*templatestore.FileStore)
	if !ok {
		h.respondError(w, http.StatusConflict, "template store does not support migration", errors.New("not a file store"))
		return
	}

	migrated, err := fs.Migrate(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "migration failed", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"migrated": migrated})
}

// --- Helper Methods ---

func artifactContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".mp4"):
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Error(message, "error", err, "status", status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := ErrorResponse{
		Error:   HTTPStatusToErrorCode(status),
		Message: message,
	}
	if err != nil {
		resp.Details = err.Error()
	}
	json.NewEncoder(w).Encode(resp)
}
