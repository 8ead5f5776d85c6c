package types

import "time"

// JobStatus represents the current state of a generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// GenerationParams are the user-supplied values for one generation.
type GenerationParams struct {
	Workflow       string  `json:"workflow"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Model          string  `json:"model,omitempty"`
	Seed           int64   `json:"seed"`
	Steps          int     `json:"steps"`
	CFG            float64 `json:"cfg"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Lora           string  `json:"lora,omitempty"`
	LoraBypass     bool    `json:"lora_bypass,omitempty"`
}

// GenerationJob is one generation request's full lifecycle record,
// from submission through artifact resolution. Created at submission
// time and mutated in place as progress and status change; the
// persisted record is the single source of truth for any observer.
type GenerationJob struct {
	ID       string           `json:"id"`
	ParentID string           `json:"parent_id,omitempty"`
	Params   GenerationParams `json:"params"`

	// PromptID is the remote job identifier, assigned after submission.
	PromptID string    `json:"prompt_id,omitempty"`
	Status   JobStatus `json:"status"`

	// Progress is a fraction in [0,1].
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`

	// Artifact is the resulting artifact reference, relative to the
	// project's storage location.
	Artifact string `json:"artifact,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
