package models

import "encoding/json"

// Poll is a poll payload attached to an agent result.
type Poll struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Location is a geographic point attached to an agent result.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AgentResult is the terminal output of either execution mode.
type AgentResult struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`

	ImageURL string    `json:"image_url,omitempty"`
	VideoURL string    `json:"video_url,omitempty"`
	AudioURL string    `json:"audio_url,omitempty"`
	Poll     *Poll     `json:"poll,omitempty"`
	Location *Location `json:"location,omitempty"`

	// Audit trail of the run.
	ToolCalls   []ToolCallRecord           `json:"tool_calls,omitempty"`
	ToolResults map[string]json.RawMessage `json:"tool_results,omitempty"`

	// MultiStep marks results produced by the plan executor. AlreadySent
	// tells the caller that per-step output was dispatched progressively
	// and must not be resent.
	MultiStep   bool `json:"multi_step,omitempty"`
	AlreadySent bool `json:"already_sent,omitempty"`

	// Plan and progress counters, carried so a faithful retry record can
	// be persisted.
	Plan           *Plan `json:"plan,omitempty"`
	StepsCompleted int   `json:"steps_completed,omitempty"`
	TotalSteps     int   `json:"total_steps,omitempty"`

	// Iterations is the number of decision rounds consumed. Timeout is set
	// only when the wall-clock budget expired; an exhausted iteration
	// budget leaves Timeout false.
	Iterations int  `json:"iterations,omitempty"`
	Timeout    bool `json:"timeout,omitempty"`

	Error string `json:"error,omitempty"`
}

// ApplyAsset copies a generated asset URL onto the matching result field.
func (r *AgentResult) ApplyAsset(kind AssetKind, url string) {
	switch kind {
	case AssetImage:
		r.ImageURL = url
	case AssetVideo:
		r.VideoURL = url
	case AssetAudio:
		r.AudioURL = url
	}
}
