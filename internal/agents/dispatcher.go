package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/civicflow/civicflow/internal/types"
)

// DispatcherConfig tunes how agent invocations are throttled.
type DispatcherConfig struct {
	// MaxConcurrentCalls caps in-flight agent invocations (0 = unlimited)
	MaxConcurrentCalls int
	// CallsPerSecond rate-limits provider calls (0 = unlimited)
	CallsPerSecond float64
	// Burst is the rate limiter burst size
	Burst int

	// Circuit breaker settings
	CircuitBreakerEnabled bool
	FailureThreshold      int
	SuccessThreshold      int
	OpenTimeout           time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrentCalls:    8,
		CallsPerSecond:        10,
		Burst:                 10,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
	}
}

// Dispatcher routes step invocations to registered agents, applying
// bounded concurrency, rate limiting, a per-call timeout, and the circuit
// breaker. It performs exactly one invocation attempt per call; the
// retry/backoff schedule belongs to the workflow layer, which writes an
// audit record per attempt.
type Dispatcher struct {
	registry map[types.AgentType]Agent
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	breaker  *CircuitBreaker
}

// NewDispatcher creates a dispatcher with the given throttling configuration
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		registry: make(map[types.AgentType]Agent),
	}
	if cfg.MaxConcurrentCalls > 0 {
		d.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	if cfg.CallsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst)
	}
	if cfg.CircuitBreakerEnabled {
		d.breaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout)
	}
	return d
}

// Register makes an agent available for dispatch. Registering the same
// type twice replaces the earlier agent.
func (d *Dispatcher) Register(agent Agent) {
	d.registry[agent.Type()] = agent
}

// Registered reports whether an agent of the given type is available
func (d *Dispatcher) Registered(agentType types.AgentType) bool {
	_, ok := d.registry[agentType]
	return ok
}

// Breaker exposes the circuit breaker for health reporting; may be nil
func (d *Dispatcher) Breaker() *CircuitBreaker {
	return d.breaker
}

// Invoke executes one agent invocation attempt with the configured
// timeout. An error means the attempt failed; the caller decides whether
// to retry based on IsRetriable.
func (d *Dispatcher) Invoke(ctx context.Context, agentType types.AgentType, req *Request, timeout time.Duration) (*Result, error) {
	agent, ok := d.registry[agentType]
	if !ok {
		return nil, fmt.Errorf("no agent registered for type %q", agentType)
	}

	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to acquire concurrency slot for %s: %w", agentType, err)
		}
		defer d.sem.Release(1)
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", agentType, err)
		}
	}
	if d.breaker != nil {
		if err := d.breaker.Allow(); err != nil {
			state, failures, _ := d.breaker.Metrics()
			fmt.Fprintf(os.Stderr, "Agent %s blocked by circuit breaker (state=%s, failures=%d)\n",
				agentType, state, failures)
			return nil, fmt.Errorf("%s invocation: %w", agentType, err)
		}
	}

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := agent.Execute(attemptCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		if d.breaker != nil && IsRetriable(err) {
			d.breaker.RecordFailure()
		}
		return nil, err
	}
	if d.breaker != nil {
		d.breaker.RecordSuccess()
	}

	if result.Latency == 0 {
		result.Latency = elapsed
	}
	if result.Confidence < 0.0 || result.Confidence > 1.0 {
		return nil, fmt.Errorf("%s returned confidence %.2f outside [0,1]", agentType, result.Confidence)
	}
	if result.Reasoning == "" {
		return nil, fmt.Errorf("%s returned a result without reasoning", agentType)
	}
	return result, nil
}

// IsRetriable determines whether an invocation failure is transient.
// Timeouts, rate limits, server errors, and network failures are worth
// retrying; client errors are not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}

	errStr := err.Error()

	// Rate limits (429) are retriable
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}

	// Server errors (5xx) are retriable
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	// Network/connection errors are retriable
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return true
	}

	// Remaining 4xx client errors indicate requests that will not succeed
	// on retry
	if strings.Contains(errStr, "400") || strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") || strings.Contains(errStr, "404") {
		return false
	}

	return false
}
