package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// ExecutorConfig configures tool execution behavior within a decision
// round.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions
	// within a single decision round.
	// Default: 4
	MaxConcurrency int

	// DefaultTimeout bounds a single tool execution.
	// Default: 60s
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency: 4,
		DefaultTimeout: 60 * time.Second,
	}
}

// Executor runs the tool calls requested in one decision round. Calls
// within a round may run concurrently, but ExecuteRound does not return
// until every call has completed, so round k+1 always sees round k's
// results.
type Executor struct {
	registry *Registry
	config   *ExecutorConfig
	metrics  *Metrics

	// onRecord, when set, observes every audit record and its structured
	// payload as they are written. The orchestrator uses it to keep a
	// race-free partial trail for the timeout path.
	onRecord func(models.ToolCallRecord, json.RawMessage)

	sem chan struct{}
}

// NewExecutor creates a tool executor over the given registry. If config
// is nil, DefaultExecutorConfig is used.
func NewExecutor(registry *Registry, config *ExecutorConfig, metrics *Metrics) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultExecutorConfig().DefaultTimeout
	}

	return &Executor{
		registry: registry,
		config:   config,
		metrics:  metrics,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecuteRound executes the round's tool calls and returns their results
// in the same order as the input calls.
//
// The state argument is shared by all calls in the round; mutation of it
// is serialized by a mutex here rather than by the tools, so tools stay
// free of locking concerns.
func (e *Executor) ExecuteRound(ctx context.Context, calls []models.ToolCall, state *models.ContextState) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]models.ToolResult, len(calls))
	var stateMu sync.Mutex
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.executeOne(ctx, tc, state, &stateMu)
		}(i, call)
	}

	wg.Wait()
	return results
}

// executeOne runs a single tool call with timeout and panic recovery.
func (e *Executor) executeOne(ctx context.Context, call models.ToolCall, state *models.ContextState, stateMu *sync.Mutex) models.ToolResult {
	start := time.Now()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    NewToolError(call.Name, ToolErrorTimeout, ctx.Err()).Error(),
			IsError:    true,
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	res := e.invokeWithRecovery(execCtx, call, state, stateMu)
	res.ToolCallID = call.ID

	stateMu.Lock()
	state.RecordCall(call.Name, call.Input, &res)
	stateMu.Unlock()

	if e.onRecord != nil {
		e.onRecord(models.ToolCallRecord{
			Tool:    call.Name,
			Args:    call.Input,
			Success: !res.IsError,
		}, res.Payload)
	}

	if e.metrics != nil {
		status := "success"
		if res.IsError {
			status = "error"
		}
		e.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}

	return res
}

func (e *Executor) invokeWithRecovery(ctx context.Context, call models.ToolCall, state *models.ContextState, stateMu *sync.Mutex) (res models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = models.ToolResult{
				Content: fmt.Sprintf("%v: %v\n%s", ErrToolPanic, r, debug.Stack()),
				IsError: true,
			}
		}
	}()

	// Set when the per-tool timeout fires: the call is already recorded as
	// failed, so the late result must not fold into the shared state.
	var abandoned atomic.Bool

	done := make(chan models.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.ToolResult{
					Content: fmt.Sprintf("%v: %v", ErrToolPanic, r),
					IsError: true,
				}
			}
		}()

		stateMu.Lock()
		snapshot := state.Clone()
		stateMu.Unlock()
		baseCalls := len(snapshot.ToolCalls)

		result, err := e.registry.Invoke(ctx, call.Name, call.Input, snapshot)
		if err != nil {
			done <- models.ToolResult{Content: err.Error(), IsError: true}
			return
		}
		if result == nil {
			done <- models.ToolResult{Content: "tool returned no result", IsError: true}
			return
		}

		// Fold snapshot mutations back into the shared state: asset URLs,
		// structured results, and any extra call records the tool appended
		// (the retry tool records its re-invocation this way).
		stateMu.Lock()
		if !abandoned.Load() {
			for kind, url := range snapshot.GeneratedAssets {
				state.RecordAsset(kind, url)
			}
			if state.PreviousToolResults == nil {
				state.PreviousToolResults = make(map[string]json.RawMessage)
			}
			for tool, payload := range snapshot.PreviousToolResults {
				state.PreviousToolResults[tool] = payload
			}
			if len(snapshot.ToolCalls) > baseCalls {
				state.ToolCalls = append(state.ToolCalls, snapshot.ToolCalls[baseCalls:]...)
			}
		}
		stateMu.Unlock()

		done <- *result
	}()

	select {
	case res = <-done:
		return res
	case <-ctx.Done():
		// The in-flight invocation is left to finish on its own; its
		// result and state mutations are discarded.
		abandoned.Store(true)
		return models.ToolResult{
			Content: NewToolError(call.Name, ToolErrorTimeout, ctx.Err()).Error(),
			IsError: true,
		}
	}
}

// DecodeArgs unmarshals tool arguments into the given struct, reporting a
// structured invalid-input error on failure.
func DecodeArgs(name string, args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return NewToolError(name, ToolErrorInvalidInput, err)
	}
	return nil
}
