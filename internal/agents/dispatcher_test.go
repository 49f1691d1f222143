package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/types"
)

// fakeAgent lets tests script invocation outcomes
type fakeAgent struct {
	agentType types.AgentType
	execute   func(ctx context.Context, req *Request) (*Result, error)
}

func (f *fakeAgent) Type() types.AgentType { return f.agentType }
func (f *fakeAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	return f.execute(ctx, req)
}

func dispatchRequest() *Request {
	return &Request{
		Issue:   &types.Issue{ID: "cf-1", CityID: "bengaluru", Text: "pothole", Status: types.StatusProcessing},
		Context: &Context{},
		Config:  cityconfig.DefaultConfig("bengaluru"),
	}
}

func TestDispatcherInvoke(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig())
	d.Register(&fakeAgent{
		agentType: types.AgentClassifier,
		execute: func(ctx context.Context, req *Request) (*Result, error) {
			return &Result{Confidence: 0.9, Reasoning: "ok"}, nil
		},
	})

	result, err := d.Invoke(context.Background(), types.AgentClassifier, dispatchRequest(), time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %.2f, want 0.9", result.Confidence)
	}
	if result.Latency <= 0 {
		t.Error("latency should be filled in when the agent leaves it zero")
	}
}

func TestDispatcherUnknownAgent(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig())
	if _, err := d.Invoke(context.Background(), types.AgentClassifier, dispatchRequest(), time.Second); err == nil {
		t.Error("expected error for unregistered agent type")
	}
}

func TestDispatcherTimeout(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig())
	d.Register(&fakeAgent{
		agentType: types.AgentClassifier,
		execute: func(ctx context.Context, req *Request) (*Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &Result{Confidence: 1, Reasoning: "too late"}, nil
			}
		},
	})

	_, err := d.Invoke(context.Background(), types.AgentClassifier, dispatchRequest(), 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if !IsRetriable(err) {
		t.Error("timeouts must be retriable")
	}
}

func TestDispatcherRejectsBadResults(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
	}{
		{"confidence above one", &Result{Confidence: 1.4, Reasoning: "sure"}},
		{"negative confidence", &Result{Confidence: -0.1, Reasoning: "sure"}},
		{"missing reasoning", &Result{Confidence: 0.8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(DispatcherConfig{})
			d.Register(&fakeAgent{
				agentType: types.AgentClassifier,
				execute: func(ctx context.Context, req *Request) (*Result, error) {
					return tt.result, nil
				},
			})
			if _, err := d.Invoke(context.Background(), types.AgentClassifier, dispatchRequest(), time.Second); err == nil {
				t.Error("expected result validation error")
			}
		})
	}
}

func TestDispatcherCircuitOpensAfterFailures(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.FailureThreshold = 3
	cfg.OpenTimeout = time.Hour
	d := NewDispatcher(cfg)
	d.Register(&fakeAgent{
		agentType: types.AgentClassifier,
		execute: func(ctx context.Context, req *Request) (*Result, error) {
			return nil, fmt.Errorf("503 service unavailable")
		},
	})

	for i := 0; i < 3; i++ {
		if _, err := d.Invoke(context.Background(), types.AgentClassifier, dispatchRequest(), time.Second); err == nil {
			t.Fatal("expected provider failure")
		}
	}
	if state := d.Breaker().State(); state != CircuitOpen {
		t.Fatalf("breaker state = %s, want OPEN after 3 retriable failures", state)
	}

	_, err := d.Invoke(context.Background(), types.AgentClassifier, dispatchRequest(), time.Second)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want fail-fast circuit open", err)
	}
}

func TestDispatcherNonRetriableDoesNotTripBreaker(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.FailureThreshold = 1
	d := NewDispatcher(cfg)
	d.Register(&fakeAgent{
		agentType: types.AgentClassifier,
		execute: func(ctx context.Context, req *Request) (*Result, error) {
			return nil, fmt.Errorf("401 unauthorized")
		},
	})

	if _, err := d.Invoke(context.Background(), types.AgentClassifier, dispatchRequest(), time.Second); err == nil {
		t.Fatal("expected failure")
	}
	if state := d.Breaker().State(); state != CircuitClosed {
		t.Errorf("breaker state = %s, want CLOSED for non-retriable failures", state)
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limit", errors.New("429 rate limit exceeded"), true},
		{"server error", errors.New("internal server error"), true},
		{"bad gateway", errors.New("502 bad gateway"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("400 invalid request body"), false},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.want {
				t.Errorf("IsRetriable(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}

func TestCircuitBreakerRecovery(t *testing.T) {
	cb := NewCircuitBreaker(2, 2, 10*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow = %v, want circuit open", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow after open timeout = %v, want probe allowed", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", cb.State())
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED after recovery successes", cb.State())
	}
}
