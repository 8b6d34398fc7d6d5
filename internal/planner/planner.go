// Package planner classifies a request as single-step or an ordered list
// of steps, using a decision backend as the classifier.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

const classifierSystem = `You are a task classifier for a chat automation agent.
Given one user request, decide whether it requires multiple distinct sequential
actions (for example "draw a cat, then write a poem about it") or a single
action.

Respond with JSON only, no prose, in exactly this shape:
{"is_multi_step": bool, "steps": [{"tool": "", "action": "", "args": {}}]}

Rules:
- "steps" is empty when is_multi_step is false.
- Each step has either "tool" (a concrete capability name) or "action"
  (free text for the agent to interpret), never both.
- Steps must be in execution order.`

// maxClassifierTokens bounds the classification response; a plan never
// needs more.
const maxClassifierTokens = 1024

// Classifier asks a decision backend to classify the request. Any backend
// failure or malformed response degrades to a fallback plan, which the
// caller treats as single-step; classification is latency optimization,
// never a correctness gate.
type Classifier struct {
	backend agent.DecisionBackend
	model   string
	logger  *slog.Logger
}

// NewClassifier creates a planner over the given backend. Model overrides
// the backend default when non-empty.
func NewClassifier(backend agent.DecisionBackend, model string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{backend: backend, model: model, logger: logger}
}

// Classify returns the plan for the request text.
func (c *Classifier) Classify(ctx context.Context, text string) (*models.Plan, error) {
	if c.backend == nil {
		return &models.Plan{Fallback: true}, nil
	}

	decision, err := c.backend.Converse(ctx, &agent.ConverseRequest{
		Model:  c.model,
		System: classifierSystem,
		Exchange: []agent.ExchangeMessage{
			{Role: models.RoleUser, Content: text},
		},
		MaxTokens: maxClassifierTokens,
	})
	if err != nil {
		c.logger.Warn("plan classification failed, falling back to single-step",
			"error", err)
		return &models.Plan{Fallback: true}, nil
	}

	plan, err := ParsePlan(decision.FinalText)
	if err != nil {
		c.logger.Warn("unparseable plan response, falling back to single-step",
			"error", err)
		return &models.Plan{Fallback: true}, nil
	}
	return plan, nil
}

// ParsePlan decodes a classifier response into a normalized plan. The
// response may wrap the JSON in a markdown fence.
func ParsePlan(text string) (*models.Plan, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var plan models.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}

	return Normalize(&plan), nil
}

// Normalize drops empty steps and coerces structurally-invalid multi-step
// plans to single-step. A multi-step plan needs at least 2 steps to mean
// anything.
func Normalize(plan *models.Plan) *models.Plan {
	if plan == nil {
		return &models.Plan{Fallback: true}
	}

	steps := plan.Steps[:0]
	for _, step := range plan.Steps {
		step.Tool = strings.TrimSpace(step.Tool)
		step.Action = strings.TrimSpace(step.Action)
		if step.Tool == "" && step.Action == "" {
			continue
		}
		steps = append(steps, step)
	}
	plan.Steps = steps

	if plan.MultiStep && len(plan.Steps) < 2 {
		plan.MultiStep = false
		plan.Steps = nil
	}
	if !plan.MultiStep {
		plan.Steps = nil
	}
	return plan
}

// extractJSON returns the outermost JSON object in text, tolerating
// markdown fences and surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
