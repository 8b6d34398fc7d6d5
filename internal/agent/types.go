package agent

import (
	"context"
	"encoding/json"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// DecisionBackend is the language-model-style service that, given the
// running exchange and the available tool declarations, chooses the next
// action or produces a final answer.
//
// Thread safety: implementations must be safe for concurrent use. Multiple
// goroutines may call Converse simultaneously for different requests.
type DecisionBackend interface {
	// Converse submits the exchange and returns either a final textual
	// answer or one or more tool invocation requests.
	Converse(ctx context.Context, req *ConverseRequest) (*Decision, error)

	// Name returns the backend identifier used for routing and logging.
	Name() string
}

// ConverseRequest carries one decision round's input.
type ConverseRequest struct {
	// Model selects the backend model; empty means the backend default.
	Model string `json:"model,omitempty"`

	// System is the assembled system instruction (language hint,
	// preferences, repaired-history context).
	System string `json:"system,omitempty"`

	// Exchange is the running conversation, oldest first.
	Exchange []ExchangeMessage `json:"exchange"`

	// Tools lists the declarations offered to the backend.
	Tools []ToolDeclaration `json:"tools,omitempty"`

	// MaxTokens limits the response length; 0 uses the backend default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// ExchangeMessage is a single turn of the running exchange.
type ExchangeMessage struct {
	Role        models.Role         `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// Decision is the backend's answer for one round: either FinalText is
// non-empty and ToolRequests is empty, or ToolRequests holds the tools the
// backend wants executed before it decides again.
type Decision struct {
	FinalText    string            `json:"final_text,omitempty"`
	ToolRequests []models.ToolCall `json:"tool_requests,omitempty"`
}

// ToolDeclaration describes a registered tool to the decision backend.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Tool is a named, schema-described unit of external work invocable by the
// decision backend.
type Tool interface {
	// Name returns the stable tool identifier.
	Name() string

	// Description returns the natural-language description shown to the
	// decision backend.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. A failed execution is reported through the
	// result's IsError flag, not through the error return; the error
	// return is reserved for infrastructure failures.
	Execute(ctx context.Context, args json.RawMessage, state *models.ContextState) (*models.ToolResult, error)
}

// Dispatcher receives user-visible output. The multi-step executor pushes
// each step's payload through it as the step completes.
type Dispatcher interface {
	Dispatch(ctx context.Context, chatID string, result *models.AgentResult) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, chatID string, result *models.AgentResult) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, chatID string, result *models.AgentResult) error {
	return f(ctx, chatID, result)
}

// PreferenceReader supplies long-term per-chat preferences for the system
// instruction.
type PreferenceReader interface {
	Preferences(ctx context.Context, chatID string) (string, error)
}

// Planner classifies a request as single-step or an ordered list of steps.
type Planner interface {
	Classify(ctx context.Context, text string) (*models.Plan, error)
}

// HistoryResult is the outcome of loading and repairing conversation
// history for one request.
type HistoryResult struct {
	// ShouldLoadHistory is false when the caller explicitly suppressed
	// memory for this request.
	ShouldLoadHistory bool

	// History is the repaired turn sequence, oldest first. Non-empty
	// history always starts with a user turn.
	History []models.Turn

	// SystemContextAddition summarizes assistant turns stripped from the
	// front of History so the decision backend does not lose them.
	SystemContextAddition string
}

// HistoryStrategy loads the recent conversation window for a chat.
// Implementations treat load failures as "no history available": history
// is an optimization, never a correctness requirement.
type HistoryStrategy interface {
	ProcessHistory(ctx context.Context, chatID, requestText string, useHistory bool) *HistoryResult
}

// ContextStore persists per-chat working memory between requests.
type ContextStore interface {
	// Load merges the persisted snapshot for the chat into base without
	// overwriting fields the caller already set; the current request wins
	// on conflict. When memoryEnabled is false, base is returned
	// unchanged and no I/O is performed.
	Load(ctx context.Context, chatID string, base *models.ContextState, memoryEnabled bool) *models.ContextState

	// Save persists the mutated state. Best-effort: failure is reported
	// but callers log and swallow it. No-op when memoryEnabled is false.
	Save(ctx context.Context, chatID string, state *models.ContextState, memoryEnabled bool) error
}

// CommandSaver persists the last retryable action for a chat.
type CommandSaver interface {
	SaveLastCommand(ctx context.Context, result *models.AgentResult, chatID, messageID, originalText, normalizedInput string) error
}
