package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// LoopPhase identifies the current state of a decision loop execution.
type LoopPhase string

const (
	// PhaseAwaitingDecision means the loop is waiting on the decision
	// backend for the next action.
	PhaseAwaitingDecision LoopPhase = "awaiting_decision"

	// PhaseToolExecuting means the loop is executing the tools the
	// backend requested.
	PhaseToolExecuting LoopPhase = "tool_executing"

	// PhaseFinal means the loop has produced a terminal result.
	PhaseFinal LoopPhase = "final"
)

// LoopConfig configures the single-step decision loop.
type LoopConfig struct {
	// MaxIterations bounds the number of decision rounds.
	// Default: 8
	MaxIterations int

	// MaxTokens is the per-round response budget passed to the backend.
	// Default: 4096
	MaxTokens int

	// Model overrides the backend's default model when non-empty.
	Model string

	// ExecutorConfig configures in-round tool execution.
	ExecutorConfig *ExecutorConfig
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations:  8,
		MaxTokens:      4096,
		ExecutorConfig: DefaultExecutorConfig(),
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	return &cfg
}

// Loop is the single-step execution state machine. Each iteration submits
// the running exchange plus tool declarations to the decision backend; the
// backend returns either a final textual answer or one or more tool
// invocation requests, whose results are fed back into the next round.
//
// State transitions:
//
//	AWAITING_DECISION -> {TOOL_EXECUTING -> AWAITING_DECISION}* -> FINAL
//
// bounded by MaxIterations. Exhausting the iteration budget is not an
// error: the loop returns the best available partial text with
// success=false and the iterations marker, which callers distinguish from
// the wall-clock timeout case.
type Loop struct {
	backend  DecisionBackend
	registry *Registry
	executor *Executor
	config   *LoopConfig
	logger   *slog.Logger
	metrics  *Metrics
}

// NewLoop creates a decision loop over the given backend and registry.
// If config is nil, DefaultLoopConfig is used.
func NewLoop(backend DecisionBackend, registry *Registry, config *LoopConfig, logger *slog.Logger, metrics *Metrics) *Loop {
	config = sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		backend:  backend,
		registry: registry,
		executor: NewExecutor(registry, config.ExecutorConfig, metrics),
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// LoopRequest carries one loop execution's input.
type LoopRequest struct {
	// ChatID identifies the chat the run belongs to.
	ChatID string

	// Prompt is the contextual user prompt for this run.
	Prompt string

	// System is the assembled system instruction.
	System string

	// History is prior conversation turns, oldest first, first turn
	// guaranteed to be a user turn.
	History []models.Turn

	// State is the per-chat working memory mutated as tools execute.
	State *models.ContextState

	// MaxIterations overrides the configured budget when positive.
	MaxIterations int

	// OnToolRecord, when set, observes each audit record and its
	// structured payload as they are written. Must be safe for concurrent
	// calls.
	OnToolRecord func(models.ToolCallRecord, json.RawMessage)
}

// Execute runs the decision loop to completion and returns the terminal
// result. Only a backend infrastructure failure produces a non-nil error;
// every expected outcome, including budget exhaustion, resolves to a
// well-formed AgentResult.
func (l *Loop) Execute(ctx context.Context, req *LoopRequest) (*models.AgentResult, error) {
	if l.backend == nil {
		return nil, ErrNoBackend
	}
	if req == nil {
		return nil, fmt.Errorf("loop request is nil")
	}

	state := req.State
	if state == nil {
		state = models.NewContextState(req.ChatID)
	}
	mark := markRun(state)

	maxIterations := l.config.MaxIterations
	if req.MaxIterations > 0 {
		maxIterations = req.MaxIterations
	}

	executor := l.executor
	if req.OnToolRecord != nil {
		executor = NewExecutor(l.registry, l.config.ExecutorConfig, l.metrics)
		executor.onRecord = req.OnToolRecord
	}

	exchange := make([]ExchangeMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		exchange = append(exchange, ExchangeMessage{Role: turn.Speaker, Content: turn.Text})
	}
	exchange = append(exchange, ExchangeMessage{Role: models.RoleUser, Content: req.Prompt})

	declarations := l.registry.Declarations()

	lastText := ""

	for iteration := 0; iteration < maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return l.finalize(state, mark, &models.AgentResult{
				Success:    false,
				Text:       lastText,
				Iterations: iteration,
				Error:      ctx.Err().Error(),
			}), nil
		default:
		}

		if l.metrics != nil {
			l.metrics.IterationCounter.Inc()
		}

		decision, err := l.backend.Converse(ctx, &ConverseRequest{
			Model:     l.config.Model,
			System:    req.System,
			Exchange:  exchange,
			Tools:     declarations,
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			// The decision backend being unreachable is the one truly
			// unexpected failure; it propagates as a hard error.
			return nil, fmt.Errorf("decision backend: %w", err)
		}

		if decision.FinalText != "" {
			lastText = decision.FinalText
		}

		if len(decision.ToolRequests) == 0 {
			return l.finalize(state, mark, &models.AgentResult{
				Success:    true,
				Text:       decision.FinalText,
				Iterations: iteration + 1,
			}), nil
		}

		l.logger.Debug("executing tool round",
			"chat_id", req.ChatID,
			"iteration", iteration,
			"tools", len(decision.ToolRequests))

		results := executor.ExecuteRound(ctx, decision.ToolRequests, state)

		exchange = append(exchange, ExchangeMessage{
			Role:      models.RoleAssistant,
			Content:   decision.FinalText,
			ToolCalls: decision.ToolRequests,
		})
		exchange = append(exchange, ExchangeMessage{
			Role:        models.RoleTool,
			ToolResults: results,
		})
	}

	l.logger.Warn("iteration budget exhausted",
		"chat_id", req.ChatID,
		"max_iterations", maxIterations)

	return l.finalize(state, mark, &models.AgentResult{
		Success:    false,
		Text:       lastText,
		Iterations: maxIterations,
		Error:      ErrMaxIterations.Error(),
	}), nil
}

// resultPayload is the conventional shape capability tools use to surface
// structured output to the caller.
type resultPayload struct {
	ImageURL  string           `json:"image_url,omitempty"`
	VideoURL  string           `json:"video_url,omitempty"`
	AudioURL  string           `json:"audio_url,omitempty"`
	Poll      *models.Poll     `json:"poll,omitempty"`
	Latitude  *float64         `json:"latitude,omitempty"`
	Longitude *float64         `json:"longitude,omitempty"`
	Location  *models.Location `json:"location,omitempty"`
}

// runMark snapshots where a run started in the merged context state, so
// the terminal result surfaces only what the run itself produced.
type runMark struct {
	baseCalls    int
	assetsBefore map[models.AssetKind]string
}

func markRun(state *models.ContextState) runMark {
	assets := make(map[models.AssetKind]string, len(state.GeneratedAssets))
	for kind, url := range state.GeneratedAssets {
		assets[kind] = url
	}
	return runMark{baseCalls: len(state.ToolCalls), assetsBefore: assets}
}

// finalize copies this run's audit trail, structured results, and newly
// generated assets onto the terminal result. Assets and payloads merged in
// from prior turns stay available in the context state for tools to read,
// but are never re-surfaced: an unrelated follow-up request must not
// re-send last turn's media.
func (l *Loop) finalize(state *models.ContextState, mark runMark, result *models.AgentResult) *models.AgentResult {
	runCalls := state.ToolCalls[mark.baseCalls:]
	result.ToolCalls = runCalls

	if len(runCalls) > 0 {
		results := make(map[string]json.RawMessage, len(runCalls))
		for _, call := range runCalls {
			if !call.Success {
				continue
			}
			if raw, ok := state.PreviousToolResults[call.Tool]; ok {
				results[call.Tool] = raw
			}
		}
		result.ToolResults = results
	}

	for kind, url := range state.GeneratedAssets {
		if mark.assetsBefore[kind] == url {
			continue
		}
		result.ApplyAsset(kind, url)
	}

	// Surface structured payloads (polls, locations, media URLs) from this
	// run's tool results, walking the audit trail in call order so the
	// newest payload wins deterministically.
	for _, call := range runCalls {
		raw, ok := result.ToolResults[call.Tool]
		if !ok {
			continue
		}
		var payload resultPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		if payload.ImageURL != "" {
			result.ImageURL = payload.ImageURL
		}
		if payload.VideoURL != "" {
			result.VideoURL = payload.VideoURL
		}
		if payload.AudioURL != "" {
			result.AudioURL = payload.AudioURL
		}
		if payload.Poll != nil {
			result.Poll = payload.Poll
		}
		if payload.Location != nil {
			result.Location = payload.Location
		} else if payload.Latitude != nil && payload.Longitude != nil {
			result.Location = &models.Location{
				Latitude:  *payload.Latitude,
				Longitude: *payload.Longitude,
			}
		}
	}

	return result
}
