// Package backends implements decision backend integrations for the agent
// engine: Anthropic and OpenAI adapters plus a failover wrapper that
// manages an ordered list of them.
package backends

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// AnthropicConfig holds configuration for the Anthropic backend.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// DefaultModel is used when the request does not name a model.
	// Default: "claude-sonnet-4-20250514"
	DefaultModel string

	// DefaultMaxTokens is used when the request does not set a budget.
	// Default: 4096
	DefaultMaxTokens int
}

func (c *AnthropicConfig) sanitize() {
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = 4096
	}
}

// AnthropicBackend implements agent.DecisionBackend over the Anthropic
// Messages API. Safe for concurrent use.
type AnthropicBackend struct {
	client anthropic.Client
	config AnthropicConfig
}

// NewAnthropicBackend creates an Anthropic decision backend.
func NewAnthropicBackend(config AnthropicConfig) (*AnthropicBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	config.sanitize()

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicBackend{
		client: anthropic.NewClient(opts...),
		config: config,
	}, nil
}

// Name returns the backend identifier.
func (b *AnthropicBackend) Name() string { return "anthropic" }

// Converse submits the exchange and returns the backend's decision.
func (b *AnthropicBackend) Converse(ctx context.Context, req *agent.ConverseRequest) (*agent.Decision, error) {
	messages, err := convertExchangeToAnthropic(req.Exchange)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = b.config.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.config.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	// System prompt is separate from messages in the Anthropic API.
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}

	if len(req.Tools) > 0 {
		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	decision := &agent.Decision{}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			decision.FinalText += variant.Text
		case anthropic.ToolUseBlock:
			decision.ToolRequests = append(decision.ToolRequests, models.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}
	return decision, nil
}

// convertExchangeToAnthropic maps the internal exchange onto Anthropic
// message params. Tool-role turns become user messages carrying tool
// result blocks; system turns are handled separately and skipped here.
func convertExchangeToAnthropic(exchange []agent.ExchangeMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range exchange {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}

		for _, toolCall := range msg.ToolCalls {
			var input map[string]interface{}
			if len(toolCall.Input) > 0 {
				if err := json.Unmarshal(toolCall.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(
				toolCall.ID,
				input,
				toolCall.Name,
			))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertToolsToAnthropic(tools []agent.ToolDeclaration) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, toolParam)
	}

	return result, nil
}
