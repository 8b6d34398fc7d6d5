package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// stepLoopIterations is the scaled-down iteration budget for plan steps
// whose action is free text and has to be resolved by the decision loop.
const stepLoopIterations = 3

// MultiStepExecutor runs a plan's steps strictly in sequence. Steps are
// not parallelized because later steps may depend on artifacts produced
// earlier ("make an image, then animate it"). Each step's user-visible
// payload is dispatched immediately rather than buffered, so the caller
// perceives progressive completion; the terminal result carries
// AlreadySent=true so the caller's generic send path does not double-send.
type MultiStepExecutor struct {
	registry   *Registry
	loop       *Loop
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *Metrics
}

// NewMultiStepExecutor creates a plan executor. The loop is used for
// free-text steps; the dispatcher receives per-step output.
func NewMultiStepExecutor(registry *Registry, loop *Loop, dispatcher Dispatcher, logger *slog.Logger, metrics *Metrics) *MultiStepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStepExecutor{
		registry:   registry,
		loop:       loop,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// Execute traverses the plan's steps in order and returns the aggregated
// terminal result. A structurally invalid plan is rejected before any step
// runs.
func (m *MultiStepExecutor) Execute(ctx context.Context, plan *models.Plan, chatID, languageHint string) (*models.AgentResult, error) {
	if !plan.Executable() {
		return nil, ErrEmptyPlan
	}

	start := time.Now()

	// Multi-step execution manages its own state independently; the
	// orchestrator's pre-loaded context is intentionally not consumed.
	state := models.NewContextState(chatID)

	result := &models.AgentResult{
		MultiStep:   true,
		AlreadySent: true,
		Plan:        plan,
		TotalSteps:  len(plan.Steps),
	}

	for i, step := range plan.Steps {
		assetsBefore := make(map[models.AssetKind]string, len(state.GeneratedAssets))
		for kind, url := range state.GeneratedAssets {
			assetsBefore[kind] = url
		}

		stepResult, err := m.executeStep(ctx, step, chatID, languageHint, state)
		if err != nil {
			result.Success = false
			result.StepsCompleted = i
			result.Error = fmt.Sprintf("step %d/%d failed: %v", i+1, len(plan.Steps), err)
			m.finish(result, state, start)
			return result, nil
		}
		if stepResult.IsError {
			m.logger.Warn("plan step failed, stopping traversal",
				"chat_id", chatID,
				"step", i+1,
				"total_steps", len(plan.Steps),
				"error", stepResult.Content)
			result.Success = false
			result.StepsCompleted = i
			result.Error = stepResult.Content
			m.finish(result, state, start)
			return result, nil
		}

		result.StepsCompleted = i + 1
		m.dispatchStep(ctx, chatID, step, stepResult, state, assetsBefore)
	}

	result.Success = true
	m.finish(result, state, start)
	return result, nil
}

// executeStep resolves one plan step to a tool invocation: directly when
// the step names a registered tool, otherwise by delegating the free-text
// action to a scaled-down decision loop.
func (m *MultiStepExecutor) executeStep(ctx context.Context, step models.PlanStep, chatID, languageHint string, state *models.ContextState) (*models.ToolResult, error) {
	if step.Tool != "" {
		if _, ok := m.registry.Get(step.Tool); !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, step.Tool)
		}
		call := models.ToolCall{
			ID:    uuid.NewString(),
			Name:  step.Tool,
			Input: step.Args,
		}
		executor := NewExecutor(m.registry, nil, m.metrics)
		results := executor.ExecuteRound(ctx, []models.ToolCall{call}, state)
		return &results[0], nil
	}

	if step.Action == "" {
		return nil, fmt.Errorf("plan step has neither tool nor action")
	}
	if m.loop == nil {
		return nil, ErrNoBackend
	}

	loopResult, err := m.loop.Execute(ctx, &LoopRequest{
		ChatID:        chatID,
		Prompt:        step.Action,
		System:        "Respond in language: " + languageHint,
		State:         state,
		MaxIterations: stepLoopIterations,
	})
	if err != nil {
		return nil, err
	}

	return &models.ToolResult{
		Content: loopResult.Text,
		IsError: !loopResult.Success,
	}, nil
}

// dispatchStep pushes a completed step's user-visible payload to the
// output channel. Only assets produced by this step are included, so the
// caller does not resend earlier steps' media. Dispatch failure is logged
// and swallowed; it must not abort the remaining steps.
func (m *MultiStepExecutor) dispatchStep(ctx context.Context, chatID string, step models.PlanStep, stepResult *models.ToolResult, state *models.ContextState, assetsBefore map[models.AssetKind]string) {
	if m.dispatcher == nil {
		return
	}

	payload := &models.AgentResult{
		Success:   true,
		Text:      stepResult.Content,
		MultiStep: true,
	}
	for kind, url := range state.GeneratedAssets {
		if assetsBefore[kind] != url {
			payload.ApplyAsset(kind, url)
		}
	}

	if err := m.dispatcher.Dispatch(ctx, chatID, payload); err != nil {
		m.logger.Warn("step dispatch failed",
			"chat_id", chatID,
			"tool", step.Tool,
			"error", err)
	}
}

func (m *MultiStepExecutor) finish(result *models.AgentResult, state *models.ContextState, start time.Time) {
	result.ToolCalls = state.ToolCalls
	result.ToolResults = state.PreviousToolResults
	for kind, url := range state.GeneratedAssets {
		result.ApplyAsset(kind, url)
	}

	if m.metrics != nil {
		outcome := "success"
		if !result.Success {
			outcome = "error"
		}
		m.metrics.RunCounter.WithLabelValues("multi", outcome).Inc()
		m.metrics.RunDuration.WithLabelValues("multi").Observe(time.Since(start).Seconds())
	}
}
