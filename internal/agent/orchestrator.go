package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// timeoutMessage is the user-facing text for a run terminated by the
// wall-clock budget.
const timeoutMessage = "The operation took too long and was stopped. Please try again."

// MediaInput carries media and quoted context attached to the inbound
// request.
type MediaInput struct {
	ImageURL      string `json:"image_url,omitempty"`
	VideoURL      string `json:"video_url,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	QuotedContext string `json:"quoted_context,omitempty"`
}

// Options is the recognized per-request options bag.
type Options struct {
	// UseConversationHistory enables history and long-term memory for the
	// request. Default: true.
	UseConversationHistory bool

	// MaxIterations overrides the configured loop budget when positive.
	MaxIterations int

	// MessageID keys the saved retry record. When empty, no record is
	// saved.
	MessageID string

	// Input carries request-scoped media and quoted context.
	Input *MediaInput
}

// DefaultOptions returns the default per-request options.
func DefaultOptions() Options {
	return Options{UseConversationHistory: true}
}

// OrchestratorConfig configures the top-level coordinator.
type OrchestratorConfig struct {
	// SingleStepTimeout is the wall-clock budget for the single-step
	// path. The loop's completion is raced against this timer.
	// Default: 90s
	SingleStepTimeout time.Duration

	// LoopConfig configures the inner decision loop.
	LoopConfig *LoopConfig
}

// DefaultOrchestratorConfig returns the default orchestrator configuration.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		SingleStepTimeout: 90 * time.Second,
		LoopConfig:        DefaultLoopConfig(),
	}
}

// Orchestrator is the top-level coordinator: it owns the bootstrap
// fan-out, selects the single-step or multi-step path, races the decision
// loop against the wall-clock budget, and runs the post-completion
// persistence pipeline.
type Orchestrator struct {
	planner     Planner
	loop        *Loop
	multiStep   *MultiStepExecutor
	history     HistoryStrategy
	contexts    ContextStore
	preferences PreferenceReader
	saver       CommandSaver
	config      *OrchestratorConfig
	logger      *slog.Logger
	metrics     *Metrics
}

// OrchestratorDeps bundles the orchestrator's collaborators.
type OrchestratorDeps struct {
	Planner     Planner
	Loop        *Loop
	MultiStep   *MultiStepExecutor
	History     HistoryStrategy
	Contexts    ContextStore
	Preferences PreferenceReader
	Saver       CommandSaver
	Logger      *slog.Logger
	Metrics     *Metrics
}

// NewOrchestrator creates the coordinator. If config is nil,
// DefaultOrchestratorConfig is used.
func NewOrchestrator(deps OrchestratorDeps, config *OrchestratorConfig) *Orchestrator {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	if config.SingleStepTimeout <= 0 {
		config.SingleStepTimeout = DefaultOrchestratorConfig().SingleStepTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		planner:     deps.Planner,
		loop:        deps.Loop,
		multiStep:   deps.MultiStep,
		history:     deps.History,
		contexts:    deps.Contexts,
		preferences: deps.Preferences,
		saver:       deps.Saver,
		config:      config,
		logger:      logger,
		metrics:     deps.Metrics,
	}
}

// Execute processes one inbound request end to end and returns the
// terminal result. Only a decision-backend infrastructure failure
// propagates as an error; every expected outcome resolves to a well-formed
// AgentResult.
func (o *Orchestrator) Execute(ctx context.Context, requestText, chatID string, opts Options) (*models.AgentResult, error) {
	start := time.Now()
	languageHint := DetectLanguageHint(requestText)
	memoryEnabled := opts.UseConversationHistory

	// Bootstrap fan-out: the four tasks are fully independent and may
	// complete in any order. Buffered channels let abandoned tasks finish
	// without leaking goroutines.
	planCh := make(chan *models.Plan, 1)
	historyCh := make(chan *HistoryResult, 1)
	contextCh := make(chan *models.ContextState, 1)
	prefsCh := make(chan string, 1)

	go func() {
		planCh <- o.resolvePlan(ctx, requestText)
	}()

	go func() {
		if o.history == nil {
			historyCh <- &HistoryResult{ShouldLoadHistory: memoryEnabled}
			return
		}
		historyCh <- o.history.ProcessHistory(ctx, chatID, requestText, memoryEnabled)
	}()

	go func() {
		contextCh <- o.loadContext(ctx, chatID, opts, memoryEnabled)
	}()

	go func() {
		if !memoryEnabled || o.preferences == nil {
			prefsCh <- ""
			return
		}
		prefs, err := o.preferences.Preferences(ctx, chatID)
		if err != nil {
			o.logger.Warn("preference load failed", "chat_id", chatID, "error", err)
			prefsCh <- ""
			return
		}
		prefsCh <- prefs
	}()

	// Await planning first. A multi-step plan hands off immediately; the
	// other three tasks are abandoned since multi-step execution manages
	// its own state independently.
	plan := <-planCh
	if plan.Executable() && o.multiStep != nil {
		result, err := o.multiStep.Execute(ctx, plan, chatID, languageHint)
		if err != nil {
			return nil, err
		}
		o.postCompletion(ctx, result, chatID, requestText, opts, nil, memoryEnabled)
		return result, nil
	}

	historyRes := <-historyCh
	state := <-contextCh
	preferences := <-prefsCh

	system := o.buildSystemInstruction(languageHint, preferences, historyRes, opts)

	result, err := o.runSingleStep(ctx, requestText, chatID, system, historyRes.History, state, opts)
	if err != nil {
		return nil, err
	}

	if result.Timeout {
		// Context must not be persisted after a timeout response: a late
		// tool result would overwrite newer state.
		o.saveCommand(ctx, result, chatID, requestText, opts)
	} else {
		o.postCompletion(ctx, result, chatID, requestText, opts, state, memoryEnabled)
	}

	if o.metrics != nil {
		outcome := "success"
		switch {
		case result.Timeout:
			outcome = "timeout"
		case !result.Success && result.Error == ErrMaxIterations.Error():
			outcome = "iterations"
		case !result.Success:
			outcome = "error"
		}
		o.metrics.RunCounter.WithLabelValues("single", outcome).Inc()
		o.metrics.RunDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())
	}

	return result, nil
}

// resolvePlan returns the plan for the request: the fast path for
// obviously simple requests, otherwise the planner's classification.
// Planner failure degrades to a fallback single-step plan.
func (o *Orchestrator) resolvePlan(ctx context.Context, requestText string) *models.Plan {
	if IsObviouslySimple(requestText) || o.planner == nil {
		return &models.Plan{MultiStep: false}
	}
	plan, err := o.planner.Classify(ctx, requestText)
	if err != nil {
		o.logger.Warn("planner failed, assuming single-step", "error", err)
		return &models.Plan{MultiStep: false, Fallback: true}
	}
	if plan == nil {
		return &models.Plan{MultiStep: false, Fallback: true}
	}
	if plan.MultiStep && len(plan.Steps) < 2 {
		// Structurally invalid multi-step plans are coerced, never
		// executed partially.
		return &models.Plan{MultiStep: false, Fallback: plan.Fallback}
	}
	return plan
}

// loadContext builds the request-scoped base state and merges the
// persisted snapshot into it.
func (o *Orchestrator) loadContext(ctx context.Context, chatID string, opts Options, memoryEnabled bool) *models.ContextState {
	base := models.NewContextState(chatID)
	if opts.Input != nil {
		base.RecordAsset(models.AssetImage, opts.Input.ImageURL)
		base.RecordAsset(models.AssetVideo, opts.Input.VideoURL)
		base.RecordAsset(models.AssetAudio, opts.Input.AudioURL)
	}
	if o.contexts == nil {
		return base
	}
	return o.contexts.Load(ctx, chatID, base, memoryEnabled)
}

// buildSystemInstruction assembles the system instruction from the
// language hint, long-term preferences, and any context stripped out of
// the history by leading-turn repair.
func (o *Orchestrator) buildSystemInstruction(languageHint, preferences string, historyRes *HistoryResult, opts Options) string {
	var parts []string
	parts = append(parts, "Respond in the user's language: "+languageHint+".")
	if preferences != "" {
		parts = append(parts, "User preferences:\n"+preferences)
	}
	if historyRes != nil && historyRes.SystemContextAddition != "" {
		parts = append(parts, "Earlier assistant context:\n"+historyRes.SystemContextAddition)
	}
	if opts.Input != nil && opts.Input.QuotedContext != "" {
		parts = append(parts, "The user is replying to:\n"+opts.Input.QuotedContext)
	}
	return strings.Join(parts, "\n\n")
}

// runSingleStep races the decision loop against the wall-clock budget.
// On timeout the in-flight loop is detached, not killed: it finishes on
// its own, but its result is discarded and never persisted.
func (o *Orchestrator) runSingleStep(ctx context.Context, requestText, chatID, system string, history []models.Turn, state *models.ContextState, opts Options) (*models.AgentResult, error) {
	type loopOutcome struct {
		result *models.AgentResult
		err    error
	}

	var abandoned atomic.Bool
	var auditMu sync.Mutex
	var audit []models.ToolCallRecord
	partialResults := make(map[string]json.RawMessage)

	outcomeCh := make(chan loopOutcome, 1)

	go func() {
		result, err := o.loop.Execute(ctx, &LoopRequest{
			ChatID:        chatID,
			Prompt:        requestText,
			System:        system,
			History:       history,
			State:         state,
			MaxIterations: opts.MaxIterations,
			OnToolRecord: func(rec models.ToolCallRecord, payload json.RawMessage) {
				auditMu.Lock()
				audit = append(audit, rec)
				if rec.Success && len(payload) > 0 {
					partialResults[rec.Tool] = payload
				}
				auditMu.Unlock()
			},
		})
		if abandoned.Load() {
			// The timeout response has already been sent; the late
			// result is discarded to avoid overwriting newer context.
			o.logger.Info("abandoned loop finished after timeout",
				"chat_id", chatID,
				"error", err)
			return
		}
		outcomeCh <- loopOutcome{result: result, err: err}
	}()

	timer := time.NewTimer(o.config.SingleStepTimeout)
	defer timer.Stop()

	select {
	case outcome := <-outcomeCh:
		return outcome.result, outcome.err
	case <-timer.C:
		abandoned.Store(true)
		auditMu.Lock()
		partial := make([]models.ToolCallRecord, len(audit))
		copy(partial, audit)
		results := make(map[string]json.RawMessage, len(partialResults))
		for tool, payload := range partialResults {
			results[tool] = payload
		}
		auditMu.Unlock()

		o.logger.Warn("single-step execution timed out",
			"chat_id", chatID,
			"timeout", o.config.SingleStepTimeout,
			"partial_tool_calls", len(partial))

		return &models.AgentResult{
			Success:     false,
			Timeout:     true,
			Text:        timeoutMessage,
			Error:       "wall-clock budget exceeded",
			ToolCalls:   partial,
			ToolResults: results,
		}, nil
	}
}

// postCompletion is the fixed ordered pipeline run after a result is
// computed: persist context, persist the retry record. Each step is
// wrapped so its own failure cannot fail the overall request.
func (o *Orchestrator) postCompletion(ctx context.Context, result *models.AgentResult, chatID, requestText string, opts Options, state *models.ContextState, memoryEnabled bool) {
	if state != nil && o.contexts != nil && result.Success {
		if err := o.contexts.Save(ctx, chatID, state, memoryEnabled); err != nil {
			o.logger.Warn("context persistence failed",
				"chat_id", chatID,
				"error", err)
		}
	}
	o.saveCommand(ctx, result, chatID, requestText, opts)
}

func (o *Orchestrator) saveCommand(ctx context.Context, result *models.AgentResult, chatID, requestText string, opts Options) {
	if o.saver == nil {
		return
	}
	if err := o.saver.SaveLastCommand(ctx, result, chatID, opts.MessageID, requestText, normalizeRequest(requestText)); err != nil {
		o.logger.Warn("command persistence failed",
			"chat_id", chatID,
			"error", err)
	}
}

// normalizeRequest produces the canonical form of the request text stored
// in retry records.
func normalizeRequest(text string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
}
