package providers

import (
	"context"
	"encoding/json"
	"strings"
)

// Job kinds understood by provider gateways.
const (
	KindResearch   = "research"
	KindScreenplay = "screenplay"
	KindPortrait   = "portrait"
	KindSceneVideo = "scene_video"
	KindSpeech     = "speech"
	KindLipSync    = "lip_sync"
	KindMusic      = "music"
	KindCover      = "cover"
)

// Job is one unit of work submitted to a provider.
type Job struct {
	Kind   string                 `json:"kind"`
	Model  string                 `json:"model,omitempty"`
	Prompt string                 `json:"prompt,omitempty"`
	Params map[string]interface{} `json:"parameters,omitempty"`
}

// State is a provider job state normalized across vocabularies.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is the normalized answer to a status query. Asset is the output URL;
// text providers may return the document inline in Payload instead.
type Status struct {
	State   State
	Asset   string
	Payload json.RawMessage
	Error   string
}

// Adapter talks to one provider. Implementations own all knowledge of the
// provider's request and response shapes.
type Adapter interface {
	Submit(ctx context.Context, job Job) (string, error)
	Status(ctx context.Context, jobID string) (Status, error)
}

// NormalizeState maps a provider's state string onto the three states the poller
// distinguishes. Anything unrecognized counts as still running.
func NormalizeState(raw string) State {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "succeeded", "success", "successful", "completed", "complete", "finished", "done", "ready", "ok":
		return StateSucceeded
	case "failed", "failure", "fail", "error", "errored", "cancelled", "canceled", "rejected", "timed_out", "expired", "aborted":
		return StateFailed
	default:
		return StateRunning
	}
}
