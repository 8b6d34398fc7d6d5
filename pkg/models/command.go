package models

import (
	"encoding/json"
	"time"
)

// SavedCommand is the persisted retry record for a chat, keyed by
// (chat id, triggering message id). A single-step record carries the last
// retry-eligible tool call; a multi-step record carries the whole plan plus
// progress counters.
type SavedCommand struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`

	// Single-step fields.
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Prompt string          `json:"prompt,omitempty"`

	// Multi-step fields.
	MultiStep      bool  `json:"is_multi_step,omitempty"`
	Plan           *Plan `json:"plan,omitempty"`
	StepsCompleted int   `json:"steps_completed,omitempty"`
	TotalSteps     int   `json:"total_steps,omitempty"`

	Failed bool `json:"failed,omitempty"`

	// Last known media URLs and the original normalized request, so a
	// retry can reconstruct the same intent.
	ImageURL        string    `json:"image_url,omitempty"`
	VideoURL        string    `json:"video_url,omitempty"`
	AudioURL        string    `json:"audio_url,omitempty"`
	NormalizedInput string    `json:"normalized_input,omitempty"`
	SavedAt         time.Time `json:"saved_at"`
}
