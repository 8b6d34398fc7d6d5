package backends

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
)

// FailoverConfig configures the failover backend.
type FailoverConfig struct {
	// MaxRetries is the maximum number of retry attempts per backend.
	MaxRetries int

	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration

	// MaxRetryBackoff is the maximum backoff duration.
	MaxRetryBackoff time.Duration

	// FailoverOnRateLimit enables failover on rate limit errors.
	FailoverOnRateLimit bool

	// FailoverOnServerError enables failover on server errors.
	FailoverOnServerError bool

	// CircuitBreakerThreshold is the number of consecutive failures before
	// a backend's circuit opens.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long an open circuit skips a backend
	// before letting a request through again.
	CircuitBreakerTimeout time.Duration
}

// DefaultFailoverConfig returns sensible defaults for failover.
func DefaultFailoverConfig() *FailoverConfig {
	return &FailoverConfig{
		MaxRetries:              2,
		RetryBackoff:            100 * time.Millisecond,
		MaxRetryBackoff:         5 * time.Second,
		FailoverOnRateLimit:     true,
		FailoverOnServerError:   true,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// backendState tracks the health of one backend.
type backendState struct {
	failures      int
	circuitOpen   bool
	circuitOpenAt time.Time
}

func (s *backendState) available(cfg *FailoverConfig) bool {
	if !s.circuitOpen {
		return true
	}
	return time.Since(s.circuitOpenAt) > cfg.CircuitBreakerTimeout
}

// Failover is a DecisionBackend over an ordered list of backends with
// per-backend retry, exponential backoff, and a circuit breaker. The first
// backend is primary; the rest are tried in order when an error warrants
// failing over.
type Failover struct {
	backends []agent.DecisionBackend
	config   *FailoverConfig
	logger   *slog.Logger
	metrics  *agent.Metrics

	mu     sync.Mutex
	states map[string]*backendState
}

// NewFailover creates a failover backend. At least one backend is
// required.
func NewFailover(backends []agent.DecisionBackend, config *FailoverConfig, logger *slog.Logger, metrics *agent.Metrics) (*Failover, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("failover: at least one backend is required")
	}
	if config == nil {
		config = DefaultFailoverConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		backends: backends,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		states:   make(map[string]*backendState),
	}, nil
}

// Name returns the identifier of the primary backend.
func (f *Failover) Name() string {
	return f.backends[0].Name()
}

// Converse tries each available backend in order until one answers.
func (f *Failover) Converse(ctx context.Context, req *agent.ConverseRequest) (*agent.Decision, error) {
	var lastErr error

	for i, backend := range f.backends {
		if !f.stateFor(backend.Name()).available(f.config) {
			continue
		}

		decision, err := f.tryBackend(ctx, backend, req)
		if err == nil {
			f.recordSuccess(backend.Name())
			return decision, nil
		}
		lastErr = err
		f.recordFailure(backend.Name())

		if !f.shouldFailover(err) {
			return nil, err
		}

		if i < len(f.backends)-1 {
			f.logger.Warn("failing over to next backend",
				"from", backend.Name(),
				"to", f.backends[i+1].Name(),
				"error", err)
			if f.metrics != nil {
				f.metrics.FailoverCounter.Inc()
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("failover: no available backends")
	}
	return nil, lastErr
}

// tryBackend attempts one backend with retries and exponential backoff.
func (f *Failover) tryBackend(ctx context.Context, backend agent.DecisionBackend, req *agent.ConverseRequest) (*agent.Decision, error) {
	var lastErr error
	backoff := f.config.RetryBackoff

	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		decision, err := backend.Converse(ctx, req)
		if f.metrics != nil {
			status := "ok"
			if err != nil {
				status = string(agent.ClassifyBackendError(err))
			}
			f.metrics.BackendRequestCounter.WithLabelValues(backend.Name(), status).Inc()
		}
		if err == nil {
			return decision, nil
		}
		lastErr = err

		if !agent.IsBackendRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= f.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > f.config.MaxRetryBackoff {
				backoff = f.config.MaxRetryBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// shouldFailover determines if an error warrants trying another backend.
func (f *Failover) shouldFailover(err error) bool {
	if agent.ShouldFailover(err) {
		return true
	}

	switch agent.ClassifyBackendError(err) {
	case agent.BackendErrorRateLimit:
		return f.config.FailoverOnRateLimit
	case agent.BackendErrorServer:
		return f.config.FailoverOnServerError
	default:
		return false
	}
}

func (f *Failover) stateFor(name string) *backendState {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.states[name]
	if state == nil {
		state = &backendState{}
		f.states[name] = state
	}
	return state
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state := f.states[name]; state != nil {
		state.failures = 0
		state.circuitOpen = false
	}
}

func (f *Failover) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.states[name]
	if state == nil {
		state = &backendState{}
		f.states[name] = state
	}
	state.failures++
	if state.failures >= f.config.CircuitBreakerThreshold && !state.circuitOpen {
		state.circuitOpen = true
		state.circuitOpenAt = time.Now()
		f.logger.Warn("circuit opened for backend",
			"backend", name,
			"failures", state.failures)
	}
}
