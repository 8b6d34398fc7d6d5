package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// RetryToolName is the registered name of the retry tool.
const RetryToolName = "retry_last"

// retrySkip lists tools the retry scan ignores: the retry tool never
// retries itself or other informational tools.
var retrySkip = map[string]struct{}{
	RetryToolName:       {},
	RecallAssetToolName: {},
}

// retryArgs are the retry tool's arguments.
type retryArgs struct {
	// UseAlternateBackend asks the retried capability to run against a
	// different provider than the one that just failed.
	UseAlternateBackend bool `json:"use_alternate_backend,omitempty" jsonschema:"description=Retry against an alternate provider instead of the one that failed"`

	// AlternateBackend names the provider to use when set.
	AlternateBackend string `json:"alternate_backend,omitempty" jsonschema:"description=Provider name to retry against"`
}

// RetryTool re-invokes the most recent failed tool call from the current
// request's audit trail. The re-invocation is recorded as a fresh audit
// entry, so a failed-then-retried action shows up twice: once failed, once
// with the retry's outcome.
type RetryTool struct {
	registry *agent.Registry
	logger   *slog.Logger
}

// NewRetryTool creates the retry tool over the shared registry.
func NewRetryTool(registry *agent.Registry, logger *slog.Logger) *RetryTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryTool{registry: registry, logger: logger}
}

func (t *RetryTool) Name() string { return RetryToolName }

func (t *RetryTool) Description() string {
	return "Retry the most recent failed action in this conversation, optionally against an alternate provider. Use when the user asks to try again after a failure."
}

func (t *RetryTool) Schema() json.RawMessage {
	return reflectSchema(&retryArgs{})
}

// Execute finds the last failed call and re-invokes it through the
// registry against the same state, so the retried tool sees the
// accumulated context.
func (t *RetryTool) Execute(ctx context.Context, args json.RawMessage, state *models.ContextState) (*models.ToolResult, error) {
	var parsed retryArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return &models.ToolResult{
				Content: "invalid retry arguments: " + err.Error(),
				IsError: true,
			}, nil
		}
	}

	failed, ok := state.LastFailedCall(retrySkip)
	if !ok {
		return &models.ToolResult{
			Content: "nothing to retry: no failed action in this conversation",
			IsError: true,
		}, nil
	}

	if parsed.UseAlternateBackend {
		state.BackendOverride = parsed.AlternateBackend
		defer func() { state.BackendOverride = "" }()
	}

	t.logger.Info("retrying failed tool",
		"tool", failed.Tool,
		"alternate_backend", parsed.AlternateBackend)

	result, err := t.registry.Invoke(ctx, failed.Tool, failed.Args, state)
	if err != nil {
		return nil, fmt.Errorf("retry of %s: %w", failed.Tool, err)
	}

	// Record the re-invocation as its own audit entry. The new structured
	// result replaces the failed one under the retried tool's name.
	state.RecordCall(failed.Tool, failed.Args, result)

	if result.IsError {
		return &models.ToolResult{
			Content: fmt.Sprintf("retry of %s failed again: %s", failed.Tool, result.Content),
			IsError: true,
		}, nil
	}

	return &models.ToolResult{
		Content: fmt.Sprintf("retry of %s succeeded: %s", failed.Tool, result.Content),
		Payload: result.Payload,
	}, nil
}
