package types

import "encoding/json"

// PushEventType categorizes frames on the render backend's push
// channel. Only executing and progress are acted on; any other type
// is ignored.
type PushEventType string

const (
	PushEventExecuting PushEventType = "executing"
	PushEventProgress  PushEventType = "progress"
)

// PushEvent is one JSON frame pushed by the render backend over the
// websocket channel.
type PushEvent struct {
	Type PushEventType   `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ExecutingData is the payload of an executing frame. A null Node
// with a matching PromptID is the terminal completion signal: the
// engine reports that nothing is now executing for this job.
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// ProgressData is the payload of a progress frame.
type ProgressData struct {
	Value int `json:"value"`
	Max   int `json:"max"`
}

// Fraction converts the sampler step counter to a fraction in [0,1].
// A non-positive max yields 0.
func (d ProgressData) Fraction() float64 {
	if d.Max <= 0 {
		return 0
	}
	f := float64(d.Value) / float64(d.Max)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
