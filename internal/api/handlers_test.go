package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/comfystudio/orchestrator/internal/artifacts"
	"github.com/comfystudio/orchestrator/internal/comfy"
	"github.com/comfystudio/orchestrator/internal/config"
	"github.com/comfystudio/orchestrator/internal/jobstore"
	"github.com/comfystudio/orchestrator/internal/orchestrator"
	"github.com/comfystudio/orchestrator/internal/templatestore"
	"github.com/comfystudio/orchestrator/internal/validator"
	"github.com/comfystudio/orchestrator/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine always serves results from the backend cache so jobs
// complete without a tracker round trip.
type fakeEngine struct {
	promptID string
	saveNode string
	artifact []byte
}

func (f *fakeEngine) QueuePrompt(ctx context.Context, graph types.Graph) (string, error) {
	return f.promptID, nil
}

func (f *fakeEngine) History(ctx context.Context, promptID string) (*comfy.HistoryEntry, error) {
	return &comfy.HistoryEntry{
		Outputs: map[string]comfy.NodeOutput{
			f.saveNode: {Images: []comfy.ArtifactRef{{Filename: "out.png", Type: "output"}}},
		},
	}, nil
}

func (f *fakeEngine) FetchArtifact(ctx context.Context, ref *comfy.ArtifactRef) ([]byte, error) {
	return f.artifact, nil
}

type noopTracker struct{}

func (noopTracker) Track(ctx context.Context, promptID string, onProgress func(float64), timeout time.Duration) comfy.Outcome {
	return comfy.Completed
}

func testTemplate() *types.WorkflowTemplate {
	return &types.WorkflowTemplate{
		Name: "t2i_test",
		Data: types.Graph{
			"4": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]types.FieldValue{
				"ckpt_name": types.Lit("base.safetensors"),
			}},
			"3": {ClassType: "KSampler", Inputs: map[string]types.FieldValue{
				"seed":  types.Lit(0),
				"steps": types.Lit(20),
				"cfg":   types.Lit(7.0),
				"model": types.RefTo("4", 0),
			}},
			"9": {ClassType: "SaveImage", Inputs: map[string]types.FieldValue{
				"images": types.RefTo("3", 0),
			}},
		},
		Map: types.FieldMap{
			types.RoleSampler: "3",
			types.RoleSave:    "9",
		},
	}
}

type testEnv struct {
	server    *Server
	jobs      jobstore.Store
	templates templatestore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	templates := templatestore.NewMemoryStore()
	if err := templates.Put(context.Background(), testTemplate()); err != nil {
		t.Fatalf("put template: %v", err)
	}

	jobs := jobstore.NewMemoryStore()

	arts, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}

	orch := orchestrator.New(&orchestrator.Config{
		Engine:    &fakeEngine{promptID: "p-1", saveNode: "9", artifact: []byte("png bytes")},
		Tracker:   noopTracker{},
		Templates: templates,
		Jobs:      jobs,
		Artifacts: arts,
		Logger:    testLogger(),
	})

	v, err := validator.New()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	cfg := &config.Config{CORSOrigins: []string{"*"}}
	h := NewHandlers(templates, jobs, arts, orch, v, cfg, testLogger())
	return &testEnv{server: NewServer(h), jobs: jobs, templates: templates}
}

func (env *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createProject(t *testing.T, name string) *jobstore.Project {
	t.Helper()
	rec := env.do("POST", "/api/v1/projects", CreateProjectRequest{Name: name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: status %d: %s", rec.Code, rec.Body)
	}
	var project jobstore.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	return &project
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/healthz", "/ready"} {
		rec := env.do("GET", path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, rec.Code)
		}
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)

	project := env.createProject(t, "portraits")
	if project.ID == "" || project.Name != "portraits" {
		t.Fatalf("unexpected project %+v", project)
	}

	rec := env.do("GET", "/api/v1/projects/"+project.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get project: status %d", rec.Code)
	}

	rec = env.do("GET", "/api/v1/projects/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing project: status %d, want 404", rec.Code)
	}

	rec = env.do("POST", "/api/v1/projects", CreateProjectRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty name: status %d, want 400", rec.Code)
	}
}

func TestGenerateAcceptedAndCompletes(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, "test")

	rec := env.do("POST", "/api/v1/projects/"+project.ID+"/generate", map[string]any{
		"workflow": "t2i_test",
		"prompt":   "a red bicycle",
		"seed":     7,
		"steps":    20,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate: status %d: %s", rec.Code, rec.Body)
	}

	var resp GenerateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("empty job id")
	}
	if !strings.Contains(resp.SSEURL, resp.JobID) {
		t.Errorf("sse url %q does not reference job", resp.SSEURL)
	}

	// The job runs on its own goroutine; wait for the terminal state.
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := env.jobs.GetJob(context.Background(), project.ID, resp.JobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status.Terminal() {
			if job.Status != types.JobStatusCompleted {
				t.Fatalf("job status = %s (%s)", job.Status, job.Error)
			}
			if job.Artifact != resp.JobID+".png" {
				t.Errorf("artifact = %q", job.Artifact)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never finished, status %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The artifact endpoint serves the stored bytes.
	rec = env.do("GET", "/api/v1/projects/"+project.ID+"/artifacts/"+resp.JobID+".png", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get artifact: status %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type = %q", got)
	}
	if rec.Body.String() != "png bytes" {
		t.Errorf("artifact body = %q", rec.Body.String())
	}
}

func TestGenerateValidation(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, "test")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing workflow", map[string]any{"prompt": "x"}},
		{"missing prompt", map[string]any{"workflow": "t2i_test"}},
		{"negative seed", map[string]any{"workflow": "t2i_test", "prompt": "x", "seed": -1}},
		{"steps too high", map[string]any{"workflow": "t2i_test", "prompt": "x", "steps": 10000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("POST", "/api/v1/projects/"+project.ID+"/generate", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestGenerateUnknownProject(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/api/v1/projects/nope/generate", map[string]any{
		"workflow": "t2i_test",
		"prompt":   "x",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestTemplateCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/api/v1/templates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "t2i_test") {
		t.Errorf("listing missing seeded template: %s", rec.Body)
	}

	tmpl := testTemplate()
	rec = env.do("PUT", "/api/v1/templates/t2i_other", tmpl)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: status %d: %s", rec.Code, rec.Body)
	}

	rec = env.do("GET", "/api/v1/templates/t2i_other", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var got types.WorkflowTemplate
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	if got.Name != "t2i_other" {
		t.Errorf("name = %q, want t2i_other", got.Name)
	}

	rec = env.do("DELETE", "/api/v1/templates/t2i_other", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}

	rec = env.do("GET", "/api/v1/templates/t2i_other", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", rec.Code)
	}
}

func TestPutTemplateRejectsDanglingRef(t *testing.T) {
	env := newTestEnv(t)

	tmpl := testTemplate()
	tmpl.Data["3"].Inputs["model"] = types.RefTo("99", 0)

	rec := env.do("PUT", "/api/v1/templates/broken", tmpl)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400: %s", rec.Code, rec.Body)
	}
}

func TestMigrateRequiresFileStore(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/api/v1/templates/migrate", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status %d, want 409", rec.Code)
	}
}

func TestStreamJobEventsTerminalJob(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, "test")

	job := &types.GenerationJob{
		ID:       "job-done",
		Status:   types.JobStatusCompleted,
		Progress: 1.0,
		Artifact: "job-done.png",
		Params:   types.GenerationParams{Workflow: "t2i_test", Prompt: "x"},
	}
	if err := env.jobs.PutJob(context.Background(), project.ID, job); err != nil {
		t.Fatalf("put job: %v", err)
	}

	rec := env.do("GET", "/api/v1/projects/"+project.ID+"/jobs/job-done/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: job") {
		t.Errorf("missing job event:\n%s", body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Errorf("missing terminal state:\n%s", body)
	}
	if !strings.Contains(body, "event: end") {
		t.Errorf("missing end event:\n%s", body)
	}
}

func TestStreamJobEventsUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, "test")

	rec := env.do("GET", "/api/v1/projects/"+project.ID+"/jobs/nope/events", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestArtifactNotFound(t *testing.T) {
	env := newTestEnv(t)
	project := env.createProject(t, "test")

	rec := env.do("GET", "/api/v1/projects/"+project.ID+"/artifacts/missing.png", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("OPTIONS", "/api/v1/projects", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS header")
	}
}
