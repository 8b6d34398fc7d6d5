package models

import "encoding/json"

// AssetKind identifies a generated media asset category.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
	AssetAudio AssetKind = "audio"
)

// ContextState is the per-chat working memory for one request: the tool
// calls issued so far, structured results carried over from prior turns,
// and the most recent generated asset URL per kind.
//
// A ContextState is created fresh per inbound request by merging a
// persisted snapshot with request-scoped defaults, mutated by the decision
// loop as tools execute, and persisted back on successful completion. It is
// never shared across concurrent requests for different chats.
type ContextState struct {
	ChatID              string                     `json:"chat_id"`
	ToolCalls           []ToolCallRecord           `json:"tool_calls,omitempty"`
	PreviousToolResults map[string]json.RawMessage `json:"previous_tool_results,omitempty"`
	GeneratedAssets     map[AssetKind]string       `json:"generated_assets,omitempty"`

	// BackendOverride asks capability tools to run against an alternate
	// provider. Set by the retry tool, never persisted.
	BackendOverride string `json:"-"`
}

// NewContextState returns an empty context state for a chat.
func NewContextState(chatID string) *ContextState {
	return &ContextState{
		ChatID:              chatID,
		PreviousToolResults: make(map[string]json.RawMessage),
		GeneratedAssets:     make(map[AssetKind]string),
	}
}

// RecordCall appends an audit entry and, for a successful call, stores the
// structured result for the named tool. Error text stays on the audit
// trail only; it is not working memory.
func (s *ContextState) RecordCall(tool string, args json.RawMessage, result *ToolResult) {
	s.ToolCalls = append(s.ToolCalls, ToolCallRecord{
		Tool:    tool,
		Args:    args,
		Success: result != nil && !result.IsError,
	})
	if result == nil || result.IsError {
		return
	}
	if s.PreviousToolResults == nil {
		s.PreviousToolResults = make(map[string]json.RawMessage)
	}
	if len(result.Payload) > 0 {
		s.PreviousToolResults[tool] = result.Payload
	} else if result.Content != "" {
		raw, err := json.Marshal(result.Content)
		if err == nil {
			s.PreviousToolResults[tool] = raw
		}
	}
}

// RecordAsset stores the most recent URL for an asset kind.
func (s *ContextState) RecordAsset(kind AssetKind, url string) {
	if url == "" {
		return
	}
	if s.GeneratedAssets == nil {
		s.GeneratedAssets = make(map[AssetKind]string)
	}
	s.GeneratedAssets[kind] = url
}

// LastFailedCall returns the most recent failed tool call, skipping calls
// made by the named tools (the retry tool excludes itself).
func (s *ContextState) LastFailedCall(skip map[string]struct{}) (ToolCallRecord, bool) {
	for i := len(s.ToolCalls) - 1; i >= 0; i-- {
		rec := s.ToolCalls[i]
		if rec.Success {
			continue
		}
		if _, skipped := skip[rec.Tool]; skipped {
			continue
		}
		return rec, true
	}
	return ToolCallRecord{}, false
}

// Clone returns a deep copy. Used when merging persisted snapshots so the
// caller's request-scoped state is never aliased.
func (s *ContextState) Clone() *ContextState {
	if s == nil {
		return nil
	}
	out := &ContextState{
		ChatID:              s.ChatID,
		BackendOverride:     s.BackendOverride,
		ToolCalls:           make([]ToolCallRecord, len(s.ToolCalls)),
		PreviousToolResults: make(map[string]json.RawMessage, len(s.PreviousToolResults)),
		GeneratedAssets:     make(map[AssetKind]string, len(s.GeneratedAssets)),
	}
	copy(out.ToolCalls, s.ToolCalls)
	for k, v := range s.PreviousToolResults {
		out.PreviousToolResults[k] = append(json.RawMessage(nil), v...)
	}
	for k, v := range s.GeneratedAssets {
		out.GeneratedAssets[k] = v
	}
	return out
}
