package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine observability counters.
//
// Tracked series:
//   - decision rounds and terminal outcomes per run
//   - tool executions by tool name and status
//   - backend requests by backend name and status
//   - failovers between decision backends
type Metrics struct {
	// RunCounter counts completed runs by mode and outcome.
	// Labels: mode (single|multi), outcome (success|error|timeout|iterations)
	RunCounter *prometheus.CounterVec

	// RunDuration measures end-to-end run latency in seconds.
	// Labels: mode
	RunDuration *prometheus.HistogramVec

	// IterationCounter counts decision rounds.
	IterationCounter prometheus.Counter

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// BackendRequestCounter counts decision backend calls.
	// Labels: backend, status (success|error)
	BackendRequestCounter *prometheus.CounterVec

	// FailoverCounter counts switches to an alternate backend.
	FailoverCounter prometheus.Counter
}

// NewMetrics creates and registers the engine metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests pass
// a private registry so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasker_agent_runs_total",
				Help: "Total number of agent runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasker_agent_run_duration_seconds",
				Help:    "End-to-end agent run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),

		IterationCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tasker_agent_iterations_total",
				Help: "Total number of decision rounds across all runs",
			},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasker_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasker_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		BackendRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasker_backend_requests_total",
				Help: "Total number of decision backend requests by backend and status",
			},
			[]string{"backend", "status"},
		),

		FailoverCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tasker_backend_failovers_total",
				Help: "Total number of failovers to an alternate decision backend",
			},
		),
	}
}
