package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/comfystudio/orchestrator/internal/jobstore"
	"github.com/comfystudio/orchestrator/internal/metrics"
	"github.com/comfystudio/orchestrator/pkg/types"
)

// StreamJobEvents handles GET /api/v1/projects/{id}/jobs/{jobID}/events
// It streams every persisted job state over Server-Sent Events until
// the job reaches a terminal status. The first event is always the
// job's current state, so late subscribers and reconnecting clients
// need no replay protocol.
func (h *Handlers) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	projectID, jobID := vars["id"], vars["jobID"]
	startTime := time.Now()

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	h.logger.Info("SSE connection opened",
		slog.String("project_id", projectID),
		slog.String("job_id", jobID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	jobCh, cleanup, err := h.jobs.Subscribe(ctx, projectID, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrProjectNotFound) || errors.Is(err, jobstore.ErrJobNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to subscribe", err)
		return
	}
	defer cleanup()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}
	flusher.Flush()

	done := r.Context().Done()

	// Heartbeat ticker to keep connection alive.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	seq := 0
	for {
		select {
		case <-done:
			h.logger.Info("SSE connection closed (client disconnect)",
				slog.String("job_id", jobID),
				slog.Duration("duration", time.Since(startTime)),
			)
			return

		case job, ok := <-jobCh:
			if !ok {
				// Terminal state delivered; the stream is complete.
				h.writeSSE(w, flusher, seq, "end", nil)
				h.logger.Info("SSE connection closed (job finished)",
					slog.String("job_id", jobID),
					slog.Duration("duration", time.Since(startTime)),
				)
				return
			}
			seq++
			h.writeSSE(w, flusher, seq, "job", job)

		case <-heartbeat.C:
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// writeSSE writes one event in SSE wire format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, id int, event string, job *types.GenerationJob) {
	data := []byte("{}")
	if job != nil {
		encoded, err := json.Marshal(job)
		if err != nil {
			h.logger.Error("failed to encode SSE event", "error", err)
			return
		}
		data = encoded
	}

	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data); err != nil {
		h.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		h.logger.Error("failed to write SSE comment", "error", err)
		return
	}
	flusher.Flush()
}
