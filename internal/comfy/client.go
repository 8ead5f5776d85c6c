// Package comfy is the client for the remote render backend: prompt
// submission, history lookup, artifact retrieval, and the websocket
// progress tracker.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// Errors returned by the client. Submission and fetch failures are
// terminal for the attempt; the caller decides whether to retry.
var (
	ErrSubmitRejected = errors.New("prompt rejected by render backend")
	ErrNoArtifact     = errors.New("no artifact in job outputs")
)

// Client talks to one render backend instance over HTTP.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	logger   *slog.Logger
}

// Config holds client configuration.
type Config struct {
	// Host is the backend address, e.g. "127.0.0.1:8188".
	Host string

	// ClientID identifies this orchestrator on the push channel. The
	// backend scopes websocket events to it. Empty means a fresh id is
	// generated.
	ClientID string

	// RequestTimeout bounds individual HTTP calls.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// NewClient creates a client for the given backend host.
func NewClient(cfg *Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.New().String()
	}
	return &Client{
		baseURL:  "http://" + cfg.Host,
		clientID: clientID,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// ClientID returns the push-channel client id this client submits with.
func (c *Client) ClientID() string {
	return c.clientID
}

// queueRequest is the submission envelope.
type queueRequest struct {
	Prompt   types.Graph `json:"prompt"`
	ClientID string      `json:"client_id"`
}

type queueResponse struct {
	PromptID string `json:"prompt_id"`
}

// QueuePrompt submits a graph for asynchronous execution and returns
// the backend-assigned prompt id. A rejection or transport failure is
// terminal for this attempt; there is no implicit retry.
func (c *Client) QueuePrompt(ctx context.Context, graph types.Graph) (string, error) {
	body, err := json.Marshal(&queueRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d: %s", ErrSubmitRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var qr queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrSubmitRejected, err)
	}
	if qr.PromptID == "" {
		return "", fmt.Errorf("%w: response carries no prompt id", ErrSubmitRejected)
	}

	c.logger.Debug("prompt queued", slog.String("prompt_id", qr.PromptID))
	return qr.PromptID, nil
}

// HistoryEntry is the terminal result record for one prompt: outputs
// keyed by node id, each holding images and/or gifs lists.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// NodeOutput holds the artifact lists produced by one node.
type NodeOutput struct {
	Images []ArtifactRef `json:"images,omitempty"`
	Gifs   []ArtifactRef `json:"gifs,omitempty"`
}

// ArtifactRef locates one artifact on the backend.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Ext derives the extension for local persistence from the filename
// suffix: ".png" for png files, ".mp4" for everything else. This is a
// heuristic, not a guarantee: video workflows commonly emit webp or
// gif thumbnails under "gifs" and the backend does not report a media
// type, so non-png artifacts are stored as mp4 regardless of their
// actual container.
func (r ArtifactRef) Ext() string {
	if strings.HasSuffix(r.Filename, ".png") {
		return ".png"
	}
	return ".mp4"
}

// History fetches the terminal result record for a prompt. A nil
// entry means the job has not finished (or was never submitted);
// absence is not an error.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}

	// The response maps prompt id to entry; an empty object means the
	// result is not in the store yet.
	var all map[string]*HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return all[promptID], nil
}

// ResolveOutput resolves the terminal artifact from a history entry
// given the graph's save node id. Exactly one of the images or gifs
// lists is expected; the first element wins.
func ResolveOutput(entry *HistoryEntry, saveNodeID string) (*ArtifactRef, error) {
	if entry == nil {
		return nil, ErrNoArtifact
	}
	out, ok := entry.Outputs[saveNodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s missing from outputs", ErrNoArtifact, saveNodeID)
	}
	if len(out.Images) > 0 {
		return &out.Images[0], nil
	}
	if len(out.Gifs) > 0 {
		return &out.Gifs[0], nil
	}
	return nil, fmt.Errorf("%w: node %s has neither images nor gifs", ErrNoArtifact, saveNodeID)
}

// FetchArtifact retrieves the raw bytes of one artifact.
func (c *Client) FetchArtifact(ctx context.Context, ref *ArtifactRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch artifact %s: status %d", ref.Filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
