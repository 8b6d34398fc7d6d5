package backends

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// OpenAIConfig holds configuration for the OpenAI backend.
type OpenAIConfig struct {
	// APIKey is the OpenAI API authentication key (required).
	APIKey string

	// BaseURL overrides the default API base URL (for proxies and
	// compatible servers).
	BaseURL string

	// DefaultModel is used when the request does not name a model.
	// Default: "gpt-4o"
	DefaultModel string

	// DefaultMaxTokens is used when the request does not set a budget.
	// Default: 4096
	DefaultMaxTokens int
}

func (c *OpenAIConfig) sanitize() {
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o"
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = 4096
	}
}

// OpenAIBackend implements agent.DecisionBackend over the OpenAI chat
// completions API. Safe for concurrent use.
type OpenAIBackend struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIBackend creates an OpenAI decision backend.
func NewOpenAIBackend(config OpenAIConfig) (*OpenAIBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	config.sanitize()

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the backend identifier.
func (b *OpenAIBackend) Name() string { return "openai" }

// Converse submits the exchange and returns the backend's decision.
func (b *OpenAIBackend) Converse(ctx context.Context, req *agent.ConverseRequest) (*agent.Decision, error) {
	model := req.Model
	if model == "" {
		model = b.config.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.config.DefaultMaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertExchangeToOpenAI(req.Exchange, req.System),
		MaxTokens: maxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	choice := resp.Choices[0].Message
	decision := &agent.Decision{FinalText: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		decision.ToolRequests = append(decision.ToolRequests, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return decision, nil
}

// convertExchangeToOpenAI maps the internal exchange onto OpenAI chat
// messages. The system prompt is injected as the first message; tool-role
// turns fan out into one message per tool result.
func convertExchangeToOpenAI(exchange []agent.ExchangeMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(exchange)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range exchange {
		switch msg.Role {
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Input),
						},
					}
				}
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

func convertToolsToOpenAI(tools []agent.ToolDeclaration) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			// One bad schema must not break function calling for the rest.
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}
